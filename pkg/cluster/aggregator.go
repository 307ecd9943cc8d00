package cluster

import (
	"errors"
	"sort"
	"time"

	"github.com/goclaw/clusterctl/pkg/logger"
)

// ReportResult describes what a partition status report did.
type ReportResult uint8

const (
	// ReportStored means the report replaced the stored record.
	ReportStored ReportResult = iota
	// ReportStale means the report was older than the stored record.
	ReportStale
	// ReportStaleGeneration means the report came from an earlier
	// incarnation of the node than the stored record.
	ReportStaleGeneration
)

func (r ReportResult) String() string {
	switch r {
	case ReportStored:
		return "stored"
	case ReportStale:
		return "stale"
	case ReportStaleGeneration:
		return "stale_generation"
	default:
		return "unknown"
	}
}

type partitionKey struct {
	node      PlainNodeID
	partition PartitionID
}

// PartitionReport is the latest status a node reported for a partition.
type PartitionReport struct {
	Node      GenerationalNodeID       `json:"node"`
	Partition PartitionID              `json:"partition"`
	Status    PartitionProcessorStatus `json:"status"`
}

func (r PartitionReport) clone() PartitionReport {
	r.Status = r.Status.Clone()
	return r
}

// StatusAggregator keeps the latest status per (node, partition).
type StatusAggregator struct {
	records    keyedRecords[partitionKey, PartitionReport]
	liveness   *LivenessTracker
	membership Membership
	logger     logger.Logger
}

// NewStatusAggregator creates an aggregator. Liveness decides which reports
// count as coming from Alive nodes and membership maps partitions to logs.
func NewStatusAggregator(liveness *LivenessTracker, membership Membership, log logger.Logger) *StatusAggregator {
	if log == nil {
		log = logger.Global()
	}
	return &StatusAggregator{
		liveness:   liveness,
		membership: membership,
		logger:     log.With("component", "aggregator"),
	}
}

// Report stores status for (node, partition) unless a record with a later
// UpdatedAt, or from a later generation of the node, is already stored. Equal
// UpdatedAt replaces.
func (a *StatusAggregator) Report(node GenerationalNodeID, partition PartitionID, status PartitionProcessorStatus) ReportResult {
	report := &PartitionReport{Node: node, Partition: partition, Status: status.Clone()}
	result := ReportStored
	stored, _ := a.records.update(partitionKey{node: node.ID, partition: partition}, func(cur *PartitionReport) (*PartitionReport, bool) {
		switch {
		case cur == nil:
			result = ReportStored
			return report, true
		case status.UpdatedAt.Before(cur.Status.UpdatedAt):
			result = ReportStale
			return nil, false
		case node.Generation < cur.Node.Generation:
			result = ReportStaleGeneration
			return nil, false
		default:
			result = ReportStored
			return report, true
		}
	})

	if result != ReportStored {
		a.logger.Debug("dropping stale partition report",
			"node", node.String(),
			"partition", partition,
			"updated_at", status.UpdatedAt,
			"stored_node", stored.Node.String(),
			"stored_updated_at", stored.Status.UpdatedAt,
			"reason", result.String(),
		)
	}
	return result
}

// View returns a coherent read of all reports together with the liveness
// state they are judged against.
func (a *StatusAggregator) View() *StatusView {
	nodes := a.liveness.Snapshot()
	var reports []PartitionReport
	a.records.each(func(_ partitionKey, rec *PartitionReport) {
		reports = append(reports, rec.clone())
	})
	sort.Slice(reports, func(i, j int) bool {
		if reports[i].Partition != reports[j].Partition {
			return reports[i].Partition < reports[j].Partition
		}
		return reports[i].Node.ID < reports[j].Node.ID
	})
	return &StatusView{reports: reports, nodes: nodes, membership: a.membership}
}

// ResolveLeader resolves the leader of a partition against the current state.
func (a *StatusAggregator) ResolveLeader(partition PartitionID) (GenerationalNodeID, bool, error) {
	return a.View().ResolveLeader(partition)
}

// ByLog returns the reports of Alive nodes for partitions mapped to log.
func (a *StatusAggregator) ByLog(log LogID) []PartitionReport {
	return a.View().ByLog(log)
}

// StatusView is an immutable read of the aggregator and liveness state.
type StatusView struct {
	reports    []PartitionReport
	nodes      map[PlainNodeID]NodeLiveness
	membership Membership
}

// Reports returns every report, ordered by partition then node.
func (v *StatusView) Reports() []PartitionReport {
	out := make([]PartitionReport, 0, len(v.reports))
	for _, r := range v.reports {
		out = append(out, r.clone())
	}
	return out
}

// Nodes returns the liveness state the view was taken with.
func (v *StatusView) Nodes() map[PlainNodeID]NodeLiveness {
	out := make(map[PlainNodeID]NodeLiveness, len(v.nodes))
	for id, n := range v.nodes {
		out[id] = n
	}
	return out
}

// isAlive reports whether the report comes from the current Alive
// incarnation of its node. A report from a generation the liveness tracker
// has not seen yet counts as alive as long as the node is Alive.
func (v *StatusView) isAlive(r PartitionReport) bool {
	n, ok := v.nodes[r.Node.ID]
	return ok && n.IsAlive() && r.Node.Generation >= n.NodeID.Generation
}

// lastSeenAlive returns when the reporter of a non-alive report was last known
// to be alive. Reports from nodes that are not Dead in the tracker (never
// heartbeated, or superseded by a later generation) fall back to the report
// time.
func (v *StatusView) lastSeenAlive(r PartitionReport) time.Time {
	n, ok := v.nodes[r.Node.ID]
	if ok && n.Kind == NodeStateDead && n.NodeID.Generation == r.Node.Generation {
		return n.LastHeartbeatAt
	}
	return r.Status.UpdatedAt
}

func (v *StatusView) onLog(r PartitionReport, log LogID) bool {
	l, ok := v.membership.LogOf(r.Partition)
	return ok && l == log
}

// ByLog returns the reports of Alive nodes for partitions mapped to log.
func (v *StatusView) ByLog(log LogID) []PartitionReport {
	var out []PartitionReport
	for _, r := range v.reports {
		if v.onLog(r, log) && v.isAlive(r) {
			out = append(out, r.clone())
		}
	}
	return out
}

// splitByLog returns the reports for partitions on log, split by whether the
// reporter is Alive.
func (v *StatusView) splitByLog(log LogID) (alive, other []PartitionReport) {
	for _, r := range v.reports {
		if !v.onLog(r, log) {
			continue
		}
		if v.isAlive(r) {
			alive = append(alive, r)
		} else {
			other = append(other, r)
		}
	}
	return alive, other
}

// PartitionsOf returns the statuses reported by the given incarnation.
func (v *StatusView) PartitionsOf(node GenerationalNodeID) map[PartitionID]PartitionProcessorStatus {
	out := make(map[PartitionID]PartitionProcessorStatus)
	for _, r := range v.reports {
		if r.Node.ID == node.ID && r.Node.Generation >= node.Generation {
			out[r.Partition] = r.Status.Clone()
		}
	}
	return out
}

// ResolveLeader returns the Alive node that claims leadership of partition
// at the highest epoch. A missing epoch counts as zero. If more than one node
// claims the highest epoch a *LeadershipConflictError is returned.
func (v *StatusView) ResolveLeader(partition PartitionID) (GenerationalNodeID, bool, error) {
	var (
		best      LeaderEpoch
		claimants []GenerationalNodeID
	)
	for _, r := range v.reports {
		if r.Partition != partition || !r.Status.IsEffectiveLeader() || !v.isAlive(r) {
			continue
		}
		epoch := r.Status.Epoch()
		switch {
		case len(claimants) == 0 || epoch > best:
			best = epoch
			claimants = []GenerationalNodeID{r.Node}
		case epoch == best:
			claimants = append(claimants, r.Node)
		}
	}

	switch len(claimants) {
	case 0:
		return GenerationalNodeID{}, false, nil
	case 1:
		return claimants[0], true, nil
	default:
		return GenerationalNodeID{}, false, &LeadershipConflictError{
			Conflict: LeadershipConflict{Partition: partition, Epoch: best, Claimants: claimants},
		}
	}
}

// Conflicts returns every partition with ambiguous leadership.
func (v *StatusView) Conflicts() []LeadershipConflict {
	var conflicts []LeadershipConflict
	var last PartitionID
	for i, r := range v.reports {
		if i > 0 && r.Partition == last {
			continue
		}
		last = r.Partition
		var conflict *LeadershipConflictError
		if _, _, err := v.ResolveLeader(r.Partition); errors.As(err, &conflict) {
			conflicts = append(conflicts, conflict.Conflict)
		}
	}
	return conflicts
}
