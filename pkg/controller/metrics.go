package controller

import "time"

// MetricsRecorder records controller metrics.
type MetricsRecorder interface {
	RecordHeartbeat(result string)
	RecordPartitionReport(result string)
	RecordLivenessTransition(state string)
	SetNodeCounts(alive, dead int)
	RecordTrim(result string, duration time.Duration)
	SetTrimPoint(logID uint64, lsn uint64)
	SetLeadershipConflicts(n int)
}

type nopMetricsRecorder struct{}

func (nopMetricsRecorder) RecordHeartbeat(string)           {}
func (nopMetricsRecorder) RecordPartitionReport(string)     {}
func (nopMetricsRecorder) RecordLivenessTransition(string)  {}
func (nopMetricsRecorder) SetNodeCounts(int, int)           {}
func (nopMetricsRecorder) RecordTrim(string, time.Duration) {}
func (nopMetricsRecorder) SetTrimPoint(uint64, uint64)      {}
func (nopMetricsRecorder) SetLeadershipConflicts(int)       {}

// EventPublisher receives cluster events.
type EventPublisher interface {
	Publish(eventType string, payload any)
}

type nopEventPublisher struct{}

func (nopEventPublisher) Publish(string, any) {}

// Event types published by the controller.
const (
	EventNodeAlive          = "node.alive"
	EventNodeDead           = "node.dead"
	EventLeadershipConflict = "leadership.conflict"
	EventLogTrimmed         = "log.trimmed"
	EventTrimFailed         = "trim.failed"
)

// Trim results recorded in metrics.
const (
	TrimResultSuccess  = "success"
	TrimResultFailure  = "failure"
	TrimResultNoop     = "noop"
	TrimResultRejected = "rejected"
)
