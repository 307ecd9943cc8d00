package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/goclaw/clusterctl/pkg/logger"
)

var epoch0 = time.Unix(1_700_000_000, 0).UTC()

func at(seconds int) time.Time {
	return epoch0.Add(time.Duration(seconds) * time.Second)
}

func persisted(updatedAt time.Time, lsn LSN) PartitionProcessorStatus {
	return PartitionProcessorStatus{
		UpdatedAt:           updatedAt,
		PlannedMode:         RunModeFollower,
		EffectiveMode:       Ptr(RunModeFollower),
		ReplayStatus:        ReplayStatusActive,
		LastAppliedLogLSN:   Ptr(lsn),
		LastPersistedLogLSN: Ptr(lsn),
	}
}

func leading(updatedAt time.Time, epoch LeaderEpoch) PartitionProcessorStatus {
	return PartitionProcessorStatus{
		UpdatedAt:               updatedAt,
		PlannedMode:             RunModeLeader,
		EffectiveMode:           Ptr(RunModeLeader),
		LastObservedLeaderEpoch: Ptr(epoch),
		ReplayStatus:            ReplayStatusActive,
	}
}

type fixture struct {
	now        time.Time
	liveness   *LivenessTracker
	membership *StaticMembership
	aggregator *StatusAggregator
	trimmer    *recordingTrimmer
	trim       *TrimCoordinator
	view       *StateView
}

func newFixture(grace time.Duration) *fixture {
	log := logger.NewNop()
	f := &fixture{now: at(0), trimmer: &recordingTrimmer{}}
	clock := func() time.Time { return f.now }
	f.liveness = NewLivenessTracker(log)
	f.membership = NewStaticMembership(PartitionTable{NumPartitions: 4})
	f.aggregator = NewStatusAggregator(f.liveness, f.membership, log)
	f.trim = NewTrimCoordinator(f.aggregator, f.membership, f.trimmer, TrimConfig{
		Timeout:             time.Second,
		DeadNodeGracePeriod: grace,
		Clock:               clock,
	}, log)
	f.view = NewStateView(f.aggregator, f.membership, clock)
	return f
}

type recordingTrimmer struct {
	mu    sync.Mutex
	calls []TrimPoint
	err   error
	// deadlines records whether each call carried a deadline.
	deadlines []bool
}

func (r *recordingTrimmer) Trim(ctx context.Context, log LogID, upTo LSN) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := ctx.Deadline()
	r.deadlines = append(r.deadlines, ok)
	r.calls = append(r.calls, TrimPoint{Log: log, LSN: upTo})
	return r.err
}

func (r *recordingTrimmer) Calls() []TrimPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TrimPoint, len(r.calls))
	copy(out, r.calls)
	return out
}

// permutations returns every ordering of 0..n-1.
func permutations(n int) [][]int {
	if n == 0 {
		return [][]int{{}}
	}
	var out [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			next := make([]int, 0, n)
			next = append(next, p[:i]...)
			next = append(next, n-1)
			next = append(next, p[i:]...)
			out = append(out, next)
		}
	}
	return out
}
