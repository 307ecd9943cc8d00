package cluster

import "time"

// StateView composes liveness and partition status into ClusterState
// snapshots.
type StateView struct {
	aggregator *StatusAggregator
	membership Membership
	clock      func() time.Time
}

// NewStateView creates a state view. A nil clock defaults to time.Now.
func NewStateView(aggregator *StatusAggregator, membership Membership, clock func() time.Time) *StateView {
	if clock == nil {
		clock = time.Now
	}
	return &StateView{aggregator: aggregator, membership: membership, clock: clock}
}

// Snapshot returns a new ClusterState. Alive nodes carry the partition
// statuses reported by their current incarnation.
func (v *StateView) Snapshot() ClusterState {
	version := v.membership.Version()
	view := v.aggregator.View()

	nodes := make(map[PlainNodeID]NodeState, len(view.nodes))
	for id, n := range view.nodes {
		switch n.Kind {
		case NodeStateAlive:
			nodes[id] = NewAliveState(AliveNode{
				GenerationalNodeID: n.NodeID,
				LastHeartbeatAt:    n.LastHeartbeatAt,
				Partitions:         view.PartitionsOf(n.NodeID),
			})
		case NodeStateDead:
			nodes[id] = NewDeadState(n.LastHeartbeatAt)
		}
	}

	return ClusterState{
		LastRefreshed:       time.Duration(v.clock().UnixNano()),
		NodesConfigVersion:  version,
		Nodes:               nodes,
		LeadershipConflicts: view.Conflicts(),
	}
}
