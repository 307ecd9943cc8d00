package config

import (
	"github.com/goclaw/clusterctl/pkg/cluster"
	"github.com/goclaw/clusterctl/pkg/controller"
)

// ToOptions converts the controller section to controller.Options.
func (c *ControllerConfig) ToOptions() controller.Options {
	return controller.Options{
		LivenessTimeout:     c.LivenessTimeout,
		SweepInterval:       c.SweepInterval,
		TrimEnabled:         c.TrimEnabled,
		TrimInterval:        c.TrimInterval,
		TrimTimeout:         c.TrimTimeout,
		DeadNodeGracePeriod: c.DeadNodeGracePeriod,
	}
}

// ToPartitionTable converts the membership section to a partition table.
func (m *MembershipConfig) ToPartitionTable() cluster.PartitionTable {
	table := cluster.PartitionTable{NumPartitions: uint64(m.NumPartitions)}
	if len(m.PartitionLogs) > 0 {
		table.Overrides = make(map[cluster.PartitionID]cluster.LogID, len(m.PartitionLogs))
		for _, pl := range m.PartitionLogs {
			table.Overrides[cluster.PartitionID(pl.Partition)] = cluster.LogID(pl.Log)
		}
	}
	return table
}
