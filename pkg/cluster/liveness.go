package cluster

import (
	"sort"
	"time"

	"github.com/goclaw/clusterctl/pkg/logger"
)

// HeartbeatResult describes what a heartbeat did to the tracked state.
type HeartbeatResult uint8

const (
	// HeartbeatStale means the heartbeat was older than what is stored and
	// was dropped.
	HeartbeatStale HeartbeatResult = iota
	// HeartbeatRefreshed means an Alive node's heartbeat was refreshed.
	HeartbeatRefreshed
	// HeartbeatBecameAlive means the node went from unknown or Dead to Alive,
	// or a new generation replaced the previous incarnation.
	HeartbeatBecameAlive
)

func (r HeartbeatResult) String() string {
	switch r {
	case HeartbeatRefreshed:
		return "refreshed"
	case HeartbeatBecameAlive:
		return "alive"
	default:
		return "stale"
	}
}

// NodeLiveness is the liveness record of one node. For a Dead node,
// LastHeartbeatAt is the time it was last seen alive.
type NodeLiveness struct {
	NodeID          GenerationalNodeID
	Kind            NodeStateKind
	LastHeartbeatAt time.Time
}

// IsAlive reports whether the node is Alive.
func (l NodeLiveness) IsAlive() bool {
	return l.Kind == NodeStateAlive
}

// State converts the record to a NodeState without partitions.
func (l NodeLiveness) State() NodeState {
	if l.IsAlive() {
		return NewAliveState(AliveNode{
			GenerationalNodeID: l.NodeID,
			LastHeartbeatAt:    l.LastHeartbeatAt,
			Partitions:         map[PartitionID]PartitionProcessorStatus{},
		})
	}
	return NewDeadState(l.LastHeartbeatAt)
}

// LivenessTracker tracks heartbeat-derived liveness per node.
type LivenessTracker struct {
	nodes  keyedRecords[PlainNodeID, NodeLiveness]
	logger logger.Logger
}

// NewLivenessTracker creates an empty tracker.
func NewLivenessTracker(log logger.Logger) *LivenessTracker {
	if log == nil {
		log = logger.Global()
	}
	return &LivenessTracker{logger: log.With("component", "liveness")}
}

// RecordHeartbeat records a heartbeat from node at the given time. A heartbeat
// from a lower generation than the stored one is dropped. A heartbeat from the
// stored generation that would move the heartbeat time backwards is dropped as
// stale, and a Dead node only revives on a heartbeat newer than the time it
// was last seen alive.
func (t *LivenessTracker) RecordHeartbeat(node GenerationalNodeID, at time.Time) HeartbeatResult {
	result := HeartbeatStale
	stored, _ := t.nodes.update(node.ID, func(cur *NodeLiveness) (*NodeLiveness, bool) {
		next := &NodeLiveness{NodeID: node, Kind: NodeStateAlive, LastHeartbeatAt: at}
		switch {
		case cur == nil || node.Generation > cur.NodeID.Generation:
			result = HeartbeatBecameAlive
			return next, true
		case node.Generation < cur.NodeID.Generation:
			result = HeartbeatStale
			return nil, false
		}

		switch cur.Kind {
		case NodeStateAlive:
			if at.Before(cur.LastHeartbeatAt) {
				result = HeartbeatStale
				return nil, false
			}
			result = HeartbeatRefreshed
			return next, true
		case NodeStateDead:
			if !at.After(cur.LastHeartbeatAt) {
				result = HeartbeatStale
				return nil, false
			}
			result = HeartbeatBecameAlive
			return next, true
		default:
			result = HeartbeatStale
			return nil, false
		}
	})

	switch result {
	case HeartbeatStale:
		if stored != nil {
			t.logger.Warn("dropping stale heartbeat",
				"node", node.String(),
				"stored_node", stored.NodeID.String(),
				"stored_state", stored.Kind.String(),
				"at", at,
			)
		}
	case HeartbeatBecameAlive:
		t.logger.Info("node is alive", "node", node.String(), "at", at)
	}
	return result
}

// Attach issues a new generation for node, one past the highest generation
// ever recorded for it, and records it as Alive at the given time.
func (t *LivenessTracker) Attach(node PlainNodeID, at time.Time) GenerationalNodeID {
	stored, _ := t.nodes.update(node, func(cur *NodeLiveness) (*NodeLiveness, bool) {
		generation := uint32(1)
		if cur != nil {
			generation = cur.NodeID.Generation + 1
		}
		return &NodeLiveness{
			NodeID:          node.WithGeneration(generation),
			Kind:            NodeStateAlive,
			LastHeartbeatAt: at,
		}, true
	})
	t.logger.Info("node attached", "node", stored.NodeID.String(), "at", at)
	return stored.NodeID
}

// Sweep marks every Alive node whose last heartbeat is more than timeout
// before now as Dead. Already Dead nodes are untouched. It returns the Dead
// records it wrote, ordered by node id, so LastHeartbeatAt is the time each
// node was last seen alive even if it has revived since.
func (t *LivenessTracker) Sweep(now time.Time, timeout time.Duration) []NodeLiveness {
	var candidates []PlainNodeID
	t.nodes.each(func(id PlainNodeID, rec *NodeLiveness) {
		if rec.IsAlive() && now.Sub(rec.LastHeartbeatAt) > timeout {
			candidates = append(candidates, id)
		}
	})

	var transitioned []NodeLiveness
	for _, id := range candidates {
		stored, changed := t.nodes.update(id, func(cur *NodeLiveness) (*NodeLiveness, bool) {
			if cur == nil || !cur.IsAlive() || now.Sub(cur.LastHeartbeatAt) <= timeout {
				return nil, false
			}
			return &NodeLiveness{
				NodeID:          cur.NodeID,
				Kind:            NodeStateDead,
				LastHeartbeatAt: cur.LastHeartbeatAt,
			}, true
		})
		if !changed {
			continue
		}
		t.logger.Warn("node is dead",
			"node", stored.NodeID.String(),
			"last_seen_alive", stored.LastHeartbeatAt,
			"timeout", timeout,
		)
		transitioned = append(transitioned, *stored)
	}

	sort.Slice(transitioned, func(i, j int) bool {
		return transitioned[i].NodeID.ID < transitioned[j].NodeID.ID
	})
	return transitioned
}

// Get returns the liveness record of a node.
func (t *LivenessTracker) Get(node PlainNodeID) (NodeLiveness, bool) {
	rec := t.nodes.load(node)
	if rec == nil {
		return NodeLiveness{}, false
	}
	return *rec, true
}

// Snapshot returns a copy of every node's liveness record.
func (t *LivenessTracker) Snapshot() map[PlainNodeID]NodeLiveness {
	out := make(map[PlainNodeID]NodeLiveness)
	t.nodes.each(func(id PlainNodeID, rec *NodeLiveness) {
		out[id] = *rec
	})
	return out
}

// Counts returns the number of Alive and Dead nodes.
func (t *LivenessTracker) Counts() (alive, dead int) {
	t.nodes.each(func(_ PlainNodeID, rec *NodeLiveness) {
		if rec.IsAlive() {
			alive++
		} else {
			dead++
		}
	})
	return alive, dead
}
