package cluster

import (
	"sync"
	"testing"
	"time"

	"github.com/goclaw/clusterctl/pkg/logger"
)

func TestLivenessTracker_RecordHeartbeat(t *testing.T) {
	tests := []struct {
		name       string
		prior      []GenerationalNodeID
		priorAt    []time.Time
		node       GenerationalNodeID
		at         time.Time
		want       HeartbeatResult
		wantGen    uint32
		wantLastAt time.Time
	}{
		{
			name:       "first heartbeat",
			node:       PlainNodeID(1).WithGeneration(1),
			at:         at(5),
			want:       HeartbeatBecameAlive,
			wantGen:    1,
			wantLastAt: at(5),
		},
		{
			name:       "same generation refreshes",
			prior:      []GenerationalNodeID{PlainNodeID(1).WithGeneration(1)},
			priorAt:    []time.Time{at(5)},
			node:       PlainNodeID(1).WithGeneration(1),
			at:         at(9),
			want:       HeartbeatRefreshed,
			wantGen:    1,
			wantLastAt: at(9),
		},
		{
			name:       "same generation older time is stale",
			prior:      []GenerationalNodeID{PlainNodeID(1).WithGeneration(1)},
			priorAt:    []time.Time{at(9)},
			node:       PlainNodeID(1).WithGeneration(1),
			at:         at(5),
			want:       HeartbeatStale,
			wantGen:    1,
			wantLastAt: at(9),
		},
		{
			name:       "same generation same time refreshes",
			prior:      []GenerationalNodeID{PlainNodeID(1).WithGeneration(1)},
			priorAt:    []time.Time{at(9)},
			node:       PlainNodeID(1).WithGeneration(1),
			at:         at(9),
			want:       HeartbeatRefreshed,
			wantGen:    1,
			wantLastAt: at(9),
		},
		{
			name:       "lower generation is stale",
			prior:      []GenerationalNodeID{PlainNodeID(1).WithGeneration(3)},
			priorAt:    []time.Time{at(5)},
			node:       PlainNodeID(1).WithGeneration(2),
			at:         at(50),
			want:       HeartbeatStale,
			wantGen:    3,
			wantLastAt: at(5),
		},
		{
			name:       "higher generation replaces",
			prior:      []GenerationalNodeID{PlainNodeID(1).WithGeneration(1)},
			priorAt:    []time.Time{at(5)},
			node:       PlainNodeID(1).WithGeneration(2),
			at:         at(6),
			want:       HeartbeatBecameAlive,
			wantGen:    2,
			wantLastAt: at(6),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewLivenessTracker(logger.NewNop())
			for i, id := range tt.prior {
				tracker.RecordHeartbeat(id, tt.priorAt[i])
			}

			if got := tracker.RecordHeartbeat(tt.node, tt.at); got != tt.want {
				t.Fatalf("RecordHeartbeat() = %v, want %v", got, tt.want)
			}
			rec, ok := tracker.Get(tt.node.ID)
			if !ok {
				t.Fatal("expected node to be tracked")
			}
			if rec.NodeID.Generation != tt.wantGen {
				t.Fatalf("generation = %d, want %d", rec.NodeID.Generation, tt.wantGen)
			}
			if !rec.LastHeartbeatAt.Equal(tt.wantLastAt) {
				t.Fatalf("last heartbeat = %v, want %v", rec.LastHeartbeatAt, tt.wantLastAt)
			}
			if !rec.IsAlive() {
				t.Fatal("expected node to be alive")
			}
		})
	}
}

func TestLivenessTracker_SweepAndRevive(t *testing.T) {
	tracker := NewLivenessTracker(logger.NewNop())
	a := PlainNodeID(1)

	tracker.RecordHeartbeat(a.WithGeneration(1), at(0))
	dead := tracker.Sweep(at(100), 50*time.Second)
	if len(dead) != 1 || dead[0].NodeID != a.WithGeneration(1) || !dead[0].LastHeartbeatAt.Equal(at(0)) {
		t.Fatalf("Sweep() = %v, want [%s]", dead, a.WithGeneration(1))
	}

	state := tracker.Snapshot()[a].State()
	d, ok := state.Dead()
	if !ok {
		t.Fatalf("expected node dead, got %s", state.Kind())
	}
	if !d.LastSeenAlive.Equal(at(0)) {
		t.Fatalf("last_seen_alive = %v, want %v", d.LastSeenAlive, at(0))
	}

	if got := tracker.RecordHeartbeat(a.WithGeneration(2), at(120)); got != HeartbeatBecameAlive {
		t.Fatalf("RecordHeartbeat() = %v, want %v", got, HeartbeatBecameAlive)
	}
	alive, ok := tracker.Snapshot()[a].State().Alive()
	if !ok {
		t.Fatal("expected node alive after new generation heartbeat")
	}
	if alive.GenerationalNodeID.Generation != 2 || !alive.LastHeartbeatAt.Equal(at(120)) {
		t.Fatalf("unexpected alive state: %+v", alive)
	}
}

func TestLivenessTracker_SweepIsIdempotent(t *testing.T) {
	tracker := NewLivenessTracker(logger.NewNop())
	tracker.RecordHeartbeat(PlainNodeID(1).WithGeneration(1), at(0))
	tracker.RecordHeartbeat(PlainNodeID(2).WithGeneration(1), at(90))

	first := tracker.Sweep(at(100), 50*time.Second)
	if len(first) != 1 || first[0].NodeID.ID != 1 || first[0].IsAlive() {
		t.Fatalf("first Sweep() = %v, want node 1 only", first)
	}
	if second := tracker.Sweep(at(100), 50*time.Second); len(second) != 0 {
		t.Fatalf("second Sweep() = %v, want none", second)
	}
	rec, _ := tracker.Get(1)
	if !rec.LastHeartbeatAt.Equal(at(0)) {
		t.Fatalf("sweep moved last seen alive to %v", rec.LastHeartbeatAt)
	}
	if alive, dead := tracker.Counts(); alive != 1 || dead != 1 {
		t.Fatalf("Counts() = (%d, %d), want (1, 1)", alive, dead)
	}
}

func TestLivenessTracker_SweepBoundary(t *testing.T) {
	tracker := NewLivenessTracker(logger.NewNop())
	tracker.RecordHeartbeat(PlainNodeID(1).WithGeneration(1), at(0))

	if dead := tracker.Sweep(at(50), 50*time.Second); len(dead) != 0 {
		t.Fatalf("node exactly at timeout should stay alive, got %v", dead)
	}
	if dead := tracker.Sweep(at(51), 50*time.Second); len(dead) != 1 {
		t.Fatalf("node past timeout should be dead, got %v", dead)
	}
}

func TestLivenessTracker_DeadNodeIgnoresDelayedHeartbeat(t *testing.T) {
	tracker := NewLivenessTracker(logger.NewNop())
	node := PlainNodeID(7).WithGeneration(1)

	tracker.RecordHeartbeat(node, at(10))
	tracker.Sweep(at(100), 50*time.Second)

	if got := tracker.RecordHeartbeat(node, at(8)); got != HeartbeatStale {
		t.Fatalf("delayed heartbeat = %v, want %v", got, HeartbeatStale)
	}
	if rec, _ := tracker.Get(node.ID); rec.IsAlive() {
		t.Fatal("delayed heartbeat revived a dead node")
	}

	if got := tracker.RecordHeartbeat(node, at(101)); got != HeartbeatBecameAlive {
		t.Fatalf("fresh heartbeat = %v, want %v", got, HeartbeatBecameAlive)
	}
}

func TestLivenessTracker_OrderIndependence(t *testing.T) {
	node := PlainNodeID(3)
	beats := []struct {
		gen uint32
		at  time.Time
	}{
		{1, at(1)},
		{2, at(4)},
		{2, at(3)},
		{1, at(9)},
	}

	for _, order := range permutations(len(beats)) {
		tracker := NewLivenessTracker(logger.NewNop())
		for _, i := range order {
			tracker.RecordHeartbeat(node.WithGeneration(beats[i].gen), beats[i].at)
		}
		rec, _ := tracker.Get(node)
		if rec.NodeID.Generation != 2 {
			t.Fatalf("order %v: generation = %d, want 2", order, rec.NodeID.Generation)
		}
		if !rec.LastHeartbeatAt.Equal(at(4)) {
			t.Fatalf("order %v: last heartbeat = %v, want %v", order, rec.LastHeartbeatAt, at(4))
		}
	}
}

func TestLivenessTracker_Attach(t *testing.T) {
	tracker := NewLivenessTracker(logger.NewNop())

	first := tracker.Attach(4, at(0))
	if first.Generation != 1 {
		t.Fatalf("first Attach() generation = %d, want 1", first.Generation)
	}

	tracker.RecordHeartbeat(PlainNodeID(4).WithGeneration(6), at(1))
	next := tracker.Attach(4, at(2))
	if next.Generation != 7 {
		t.Fatalf("Attach() after gen 6 = %d, want 7", next.Generation)
	}
	if got := tracker.RecordHeartbeat(PlainNodeID(4).WithGeneration(6), at(3)); got != HeartbeatStale {
		t.Fatalf("heartbeat from previous incarnation = %v, want stale", got)
	}
}

func TestLivenessTracker_SnapshotIsIndependent(t *testing.T) {
	tracker := NewLivenessTracker(logger.NewNop())
	tracker.RecordHeartbeat(PlainNodeID(1).WithGeneration(1), at(0))

	snap := tracker.Snapshot()
	delete(snap, 1)
	snap[2] = NodeLiveness{Kind: NodeStateAlive}

	again := tracker.Snapshot()
	if _, ok := again[1]; !ok {
		t.Fatal("mutating snapshot removed tracked node")
	}
	if _, ok := again[2]; ok {
		t.Fatal("mutating snapshot added node to tracker")
	}
}

func TestLivenessTracker_ConcurrentHeartbeats(t *testing.T) {
	tracker := NewLivenessTracker(logger.NewNop())

	var wg sync.WaitGroup
	for n := 0; n < 8; n++ {
		for g := 1; g <= 20; g++ {
			wg.Add(1)
			go func(node PlainNodeID, gen uint32) {
				defer wg.Done()
				tracker.RecordHeartbeat(node.WithGeneration(gen), at(int(gen)))
				_ = tracker.Snapshot()
			}(PlainNodeID(n), uint32(g))
		}
	}
	wg.Wait()

	snap := tracker.Snapshot()
	if len(snap) != 8 {
		t.Fatalf("tracked nodes = %d, want 8", len(snap))
	}
	for id, rec := range snap {
		if rec.NodeID.Generation != 20 || !rec.LastHeartbeatAt.Equal(at(20)) {
			t.Fatalf("node %s: got %+v, want generation 20 at %v", id, rec, at(20))
		}
	}
}
