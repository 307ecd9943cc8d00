// Package cluster implements the cluster controller core: node liveness,
// partition status aggregation, leadership resolution, and log trim
// coordination.
package cluster

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PlainNodeID is the stable numeric identity of a cluster node.
type PlainNodeID uint32

func (id PlainNodeID) String() string {
	return fmt.Sprintf("N%d", uint32(id))
}

// WithGeneration returns the generational id for this node.
func (id PlainNodeID) WithGeneration(generation uint32) GenerationalNodeID {
	return GenerationalNodeID{ID: id, Generation: generation}
}

// GenerationalNodeID identifies one incarnation of a node. A restarted node
// gets a higher generation.
type GenerationalNodeID struct {
	ID         PlainNodeID `json:"id"`
	Generation uint32      `json:"generation"`
}

func (id GenerationalNodeID) String() string {
	return fmt.Sprintf("N%d:%d", uint32(id.ID), id.Generation)
}

// IsNewerThan reports whether id is a later incarnation of the same node.
func (id GenerationalNodeID) IsNewerThan(other GenerationalNodeID) bool {
	return id.ID == other.ID && id.Generation > other.Generation
}

// PartitionID identifies a partition.
type PartitionID uint64

// LogID identifies a log in the log engine.
type LogID uint64

// LSN is a log sequence number. Zero is never a valid record position.
type LSN uint64

// InvalidLSN is the zero LSN.
const InvalidLSN LSN = 0

// LeaderEpoch is the per-partition leadership term.
type LeaderEpoch uint64

// Version is the version of the membership configuration.
type Version uint64

// RunMode is the role of a partition processor.
type RunMode uint8

const (
	RunModeUnknown RunMode = iota
	RunModeLeader
	RunModeFollower
)

func (m RunMode) String() string {
	switch m {
	case RunModeLeader:
		return "leader"
	case RunModeFollower:
		return "follower"
	default:
		return "unknown"
	}
}

// ParseRunMode parses a run mode name. Unrecognized names map to unknown.
func ParseRunMode(s string) RunMode {
	switch strings.ToLower(s) {
	case "leader":
		return RunModeLeader
	case "follower":
		return RunModeFollower
	default:
		return RunModeUnknown
	}
}

func (m RunMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *RunMode) UnmarshalText(text []byte) error {
	*m = ParseRunMode(string(text))
	return nil
}

// ReplayStatus is the replay phase of a partition processor.
type ReplayStatus uint8

const (
	ReplayStatusUnknown ReplayStatus = iota
	ReplayStatusStarting
	ReplayStatusActive
	ReplayStatusCatchingUp
)

func (s ReplayStatus) String() string {
	switch s {
	case ReplayStatusStarting:
		return "starting"
	case ReplayStatusActive:
		return "active"
	case ReplayStatusCatchingUp:
		return "catching_up"
	default:
		return "unknown"
	}
}

// ParseReplayStatus parses a replay status name.
func ParseReplayStatus(s string) ReplayStatus {
	switch strings.ToLower(s) {
	case "starting":
		return ReplayStatusStarting
	case "active":
		return ReplayStatusActive
	case "catching_up", "catchingup":
		return ReplayStatusCatchingUp
	default:
		return ReplayStatusUnknown
	}
}

func (s ReplayStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ReplayStatus) UnmarshalText(text []byte) error {
	*s = ParseReplayStatus(string(text))
	return nil
}

// PartitionProcessorStatus is the status a node reports for one partition.
// Optional fields are nil when the processor has no value for them.
type PartitionProcessorStatus struct {
	UpdatedAt               time.Time           `json:"updated_at"`
	PlannedMode             RunMode             `json:"planned_mode"`
	EffectiveMode           *RunMode            `json:"effective_mode,omitempty"`
	LastObservedLeaderEpoch *LeaderEpoch        `json:"last_observed_leader_epoch,omitempty"`
	LastObservedLeaderNode  *GenerationalNodeID `json:"last_observed_leader_node,omitempty"`
	LastAppliedLogLSN       *LSN                `json:"last_applied_log_lsn,omitempty"`
	LastRecordAppliedAt     *time.Time          `json:"last_record_applied_at,omitempty"`
	NumSkippedRecords       uint64              `json:"num_skipped_records"`
	ReplayStatus            ReplayStatus        `json:"replay_status"`
	LastPersistedLogLSN     *LSN                `json:"last_persisted_log_lsn,omitempty"`
	// TargetTailLSN is only meaningful while catching up.
	TargetTailLSN *LSN `json:"target_tail_lsn,omitempty"`
}

// Position returns the log position the processor no longer needs history
// for: the persisted LSN, falling back to the applied LSN.
func (s PartitionProcessorStatus) Position() (LSN, bool) {
	if s.LastPersistedLogLSN != nil {
		return *s.LastPersistedLogLSN, true
	}
	if s.LastAppliedLogLSN != nil {
		return *s.LastAppliedLogLSN, true
	}
	return InvalidLSN, false
}

// IsEffectiveLeader reports whether the processor believes it is leader.
func (s PartitionProcessorStatus) IsEffectiveLeader() bool {
	return s.EffectiveMode != nil && *s.EffectiveMode == RunModeLeader
}

// Epoch returns the last observed leader epoch, or zero when unknown.
func (s PartitionProcessorStatus) Epoch() LeaderEpoch {
	if s.LastObservedLeaderEpoch == nil {
		return 0
	}
	return *s.LastObservedLeaderEpoch
}

// Clone returns a deep copy of the status.
func (s PartitionProcessorStatus) Clone() PartitionProcessorStatus {
	out := s
	out.EffectiveMode = clonePtr(s.EffectiveMode)
	out.LastObservedLeaderEpoch = clonePtr(s.LastObservedLeaderEpoch)
	out.LastObservedLeaderNode = clonePtr(s.LastObservedLeaderNode)
	out.LastAppliedLogLSN = clonePtr(s.LastAppliedLogLSN)
	out.LastRecordAppliedAt = clonePtr(s.LastRecordAppliedAt)
	out.LastPersistedLogLSN = clonePtr(s.LastPersistedLogLSN)
	out.TargetTailLSN = clonePtr(s.TargetTailLSN)
	return out
}

// Ptr returns a pointer to a copy of v.
func Ptr[T any](v T) *T {
	return &v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// NodeStateKind tags the NodeState variant.
type NodeStateKind uint8

const (
	NodeStateAlive NodeStateKind = iota + 1
	NodeStateDead
)

func (k NodeStateKind) String() string {
	switch k {
	case NodeStateAlive:
		return "alive"
	case NodeStateDead:
		return "dead"
	default:
		return "invalid"
	}
}

// AliveNode is the state of a node whose heartbeat is current.
type AliveNode struct {
	GenerationalNodeID GenerationalNodeID                       `json:"generational_node_id"`
	LastHeartbeatAt    time.Time                                `json:"last_heartbeat_at"`
	Partitions         map[PartitionID]PartitionProcessorStatus `json:"partitions"`
}

// DeadNode is the state of a node whose heartbeat expired.
type DeadNode struct {
	LastSeenAlive time.Time `json:"last_seen_alive"`
}

// NodeState is either Alive or Dead, never both. Use NewAliveState or
// NewDeadState to build one.
type NodeState struct {
	alive *AliveNode
	dead  *DeadNode
}

// NewAliveState returns an Alive node state.
func NewAliveState(node AliveNode) NodeState {
	return NodeState{alive: &node}
}

// NewDeadState returns a Dead node state.
func NewDeadState(lastSeenAlive time.Time) NodeState {
	return NodeState{dead: &DeadNode{LastSeenAlive: lastSeenAlive}}
}

// Kind returns the variant tag.
func (s NodeState) Kind() NodeStateKind {
	if s.alive != nil {
		return NodeStateAlive
	}
	return NodeStateDead
}

// Alive returns the Alive payload.
func (s NodeState) Alive() (AliveNode, bool) {
	if s.alive == nil {
		return AliveNode{}, false
	}
	return *s.alive, true
}

// Dead returns the Dead payload.
func (s NodeState) Dead() (DeadNode, bool) {
	if s.dead == nil {
		return DeadNode{}, false
	}
	return *s.dead, true
}

type nodeStateJSON struct {
	State string     `json:"state"`
	Alive *AliveNode `json:"alive,omitempty"`
	Dead  *DeadNode  `json:"dead,omitempty"`
}

func (s NodeState) MarshalJSON() ([]byte, error) {
	return json.Marshal(nodeStateJSON{State: s.Kind().String(), Alive: s.alive, Dead: s.dead})
}

func (s *NodeState) UnmarshalJSON(data []byte) error {
	var raw nodeStateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch {
	case raw.Alive != nil && raw.Dead == nil:
		*s = NodeState{alive: raw.Alive}
	case raw.Dead != nil && raw.Alive == nil:
		*s = NodeState{dead: raw.Dead}
	default:
		return fmt.Errorf("cluster: node state must be exactly one of alive or dead")
	}
	return nil
}

// LeadershipConflict records two or more Alive nodes claiming leadership of
// a partition at the same epoch.
type LeadershipConflict struct {
	Partition PartitionID          `json:"partition"`
	Epoch     LeaderEpoch          `json:"epoch"`
	Claimants []GenerationalNodeID `json:"claimants"`
}

// ClusterState is a point-in-time view of the cluster. Every snapshot is an
// independent copy.
type ClusterState struct {
	LastRefreshed       time.Duration             `json:"last_refreshed"`
	NodesConfigVersion  Version                   `json:"nodes_config_version"`
	Nodes               map[PlainNodeID]NodeState `json:"nodes"`
	LeadershipConflicts []LeadershipConflict      `json:"leadership_conflicts,omitempty"`
}

// TrimPoint is the position up to and including which a log may be trimmed.
type TrimPoint struct {
	Log LogID `json:"log_id"`
	LSN LSN   `json:"lsn"`
}
