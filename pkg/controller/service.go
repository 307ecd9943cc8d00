package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goclaw/clusterctl/pkg/cluster"
)

// Service is the request façade over a Controller. It is safe for
// concurrent use and holds no state of its own.
type Service struct {
	c *Controller
}

// NewService creates the façade for c.
func NewService(c *Controller) *Service {
	return &Service{c: c}
}

// GetClusterState returns a new cluster state snapshot.
func (s *Service) GetClusterState(ctx context.Context) cluster.ClusterState {
	return s.c.view.Snapshot()
}

// SafeTrimPoint returns the safe trim point of log. ok is false when no
// point is safe. Logs not known to membership return ErrUnknownLog.
func (s *Service) SafeTrimPoint(ctx context.Context, log cluster.LogID) (cluster.TrimPoint, bool, error) {
	if !s.knownLog(log) {
		return cluster.TrimPoint{}, false, fmt.Errorf("%w: %d", cluster.ErrUnknownLog, log)
	}
	point, ok := s.c.trim.ComputeSafeTrimPoint(log)
	return point, ok, nil
}

func (s *Service) knownLog(log cluster.LogID) bool {
	for _, l := range s.c.membership.Logs() {
		if l == log {
			return true
		}
	}
	return false
}

// TrimLog trims log up to and including point. A point of zero is a no-op.
// A point beyond the safe trim point, or any point while none is safe, fails
// with *cluster.UnsafeTrimError and leaves the log untouched. Log engine
// failures are returned as *cluster.TrimFailedError.
func (s *Service) TrimLog(ctx context.Context, log cluster.LogID, point cluster.LSN) error {
	if point == cluster.InvalidLSN {
		return nil
	}

	start := s.c.clock()
	safe, ok := s.c.trim.ComputeSafeTrimPoint(log)
	if !ok || point > safe.LSN {
		err := &cluster.UnsafeTrimError{Log: log, Requested: point, SafePoint: safe.LSN, Safe: ok}
		s.c.metrics.RecordTrim(TrimResultRejected, s.c.clock().Sub(start))
		s.c.logger.ErrorContext(ctx, "rejected unsafe trim",
			"log_id", uint64(log),
			"requested", uint64(point),
			"safe_point", uint64(safe.LSN),
			"has_safe_point", ok,
		)
		return err
	}

	err := s.c.trim.TrimTo(ctx, cluster.TrimPoint{Log: log, LSN: point})
	s.c.recordTrimResult(ctx, log, point, err == nil, err, s.c.clock().Sub(start))
	return err
}

// PartitionLeader resolves the leader of a partition. Ambiguous leadership
// is returned as *cluster.LeadershipConflictError.
func (s *Service) PartitionLeader(ctx context.Context, partition cluster.PartitionID) (cluster.GenerationalNodeID, bool, error) {
	leader, ok, err := s.c.aggregator.ResolveLeader(partition)
	var conflict *cluster.LeadershipConflictError
	if errors.As(err, &conflict) {
		s.c.reportConflict(ctx, conflict.Conflict)
	}
	return leader, ok, err
}

// AttachNode issues a new generation for node and records it as Alive.
func (s *Service) AttachNode(ctx context.Context, node cluster.PlainNodeID) cluster.GenerationalNodeID {
	id := s.c.liveness.Attach(node, s.c.clock())
	s.c.metrics.RecordHeartbeat(cluster.HeartbeatBecameAlive.String())
	s.c.metrics.RecordLivenessTransition(cluster.NodeStateAlive.String())
	s.c.events.Publish(EventNodeAlive, map[string]any{"node": id.String(), "attached": true})
	s.c.refreshNodeCounts()
	return id
}

// Heartbeat records a heartbeat from node, stamped with the controller's
// clock on arrival. sentAt is the node's own clock reading; it only feeds the
// skew warning and may be zero.
func (s *Service) Heartbeat(ctx context.Context, node cluster.GenerationalNodeID, sentAt time.Time) cluster.HeartbeatResult {
	at := s.c.clock()
	if !sentAt.IsZero() {
		if skew := sentAt.Sub(at); skew > s.c.opts.LivenessTimeout || -skew > s.c.opts.LivenessTimeout {
			s.c.logger.WarnContext(ctx, "node clock skew exceeds liveness timeout",
				"node", node.String(),
				"sent_at", sentAt,
				"skew", skew,
			)
		}
	}
	result := s.c.liveness.RecordHeartbeat(node, at)
	s.c.metrics.RecordHeartbeat(result.String())
	if result == cluster.HeartbeatBecameAlive {
		s.c.metrics.RecordLivenessTransition(cluster.NodeStateAlive.String())
		s.c.events.Publish(EventNodeAlive, map[string]any{"node": node.String()})
		s.c.refreshNodeCounts()
	}
	return result
}

// ReportStatus records a partition processor status from node.
func (s *Service) ReportStatus(ctx context.Context, node cluster.GenerationalNodeID, partition cluster.PartitionID, status cluster.PartitionProcessorStatus) cluster.ReportResult {
	result := s.c.aggregator.Report(node, partition, status)
	s.c.metrics.RecordPartitionReport(result.String())
	return result
}
