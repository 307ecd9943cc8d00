package cluster

import (
	"sort"
	"sync/atomic"
)

// Membership supplies the configuration version and the partition to log
// mapping.
type Membership interface {
	Version() Version
	LogOf(partition PartitionID) (LogID, bool)
	Logs() []LogID
}

// PartitionTable maps partitions to logs. Partitions below NumPartitions
// without an override map to the log with the same id.
type PartitionTable struct {
	NumPartitions uint64
	Overrides     map[PartitionID]LogID
}

func (t PartitionTable) logOf(partition PartitionID) (LogID, bool) {
	if log, ok := t.Overrides[partition]; ok {
		return log, true
	}
	if uint64(partition) < t.NumPartitions {
		return LogID(partition), true
	}
	return 0, false
}

func (t PartitionTable) logs() []LogID {
	seen := make(map[LogID]struct{})
	for p := uint64(0); p < t.NumPartitions; p++ {
		log, _ := t.logOf(PartitionID(p))
		seen[log] = struct{}{}
	}
	for _, log := range t.Overrides {
		seen[log] = struct{}{}
	}
	out := make([]LogID, 0, len(seen))
	for log := range seen {
		out = append(out, log)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type membershipState struct {
	version Version
	table   PartitionTable
	logs    []LogID
}

// StaticMembership is a Membership backed by a configured partition table.
// Update swaps the table and bumps the version.
type StaticMembership struct {
	state atomic.Pointer[membershipState]
}

// NewStaticMembership creates a membership at version 1.
func NewStaticMembership(table PartitionTable) *StaticMembership {
	m := &StaticMembership{}
	m.state.Store(newMembershipState(1, table))
	return m
}

func newMembershipState(version Version, table PartitionTable) *membershipState {
	overrides := make(map[PartitionID]LogID, len(table.Overrides))
	for p, l := range table.Overrides {
		overrides[p] = l
	}
	table.Overrides = overrides
	return &membershipState{version: version, table: table, logs: table.logs()}
}

// Update replaces the partition table and returns the new version.
func (m *StaticMembership) Update(table PartitionTable) Version {
	for {
		cur := m.state.Load()
		next := newMembershipState(cur.version+1, table)
		if m.state.CompareAndSwap(cur, next) {
			return next.version
		}
	}
}

func (m *StaticMembership) Version() Version {
	return m.state.Load().version
}

func (m *StaticMembership) LogOf(partition PartitionID) (LogID, bool) {
	return m.state.Load().table.logOf(partition)
}

func (m *StaticMembership) Logs() []LogID {
	logs := m.state.Load().logs
	out := make([]LogID, len(logs))
	copy(out, logs)
	return out
}
