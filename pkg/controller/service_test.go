package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goclaw/clusterctl/pkg/cluster"
	"github.com/goclaw/clusterctl/pkg/logengine/memory"
)

func TestService_TrimLogRejectsUnsafePoint(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	h.appendRecords(t, 0, 20)

	node := cluster.PlainNodeID(1).WithGeneration(1)
	h.svc.Heartbeat(ctx, node, time.Time{})
	h.svc.ReportStatus(ctx, node, 0, persistedAt(h.clock.Now(), 10))

	err := h.svc.TrimLog(ctx, 0, 15)
	var unsafe *cluster.UnsafeTrimError
	if !errors.As(err, &unsafe) {
		t.Fatalf("TrimLog() error = %v, want UnsafeTrimError", err)
	}
	if unsafe.SafePoint != 10 || !unsafe.Safe || unsafe.Requested != 15 {
		t.Fatalf("unexpected error detail: %+v", unsafe)
	}
	if point, _ := h.engine.TrimPoint(ctx, 0); point != 0 {
		t.Fatalf("engine trim point = %d, want untouched", point)
	}
	if h.metrics.trimCount(TrimResultRejected) != 1 {
		t.Fatalf("trim metrics = %v", h.metrics.trims)
	}

	if err := h.svc.TrimLog(ctx, 0, 8); err != nil {
		t.Fatalf("TrimLog(8) error = %v", err)
	}
	if point, _ := h.engine.TrimPoint(ctx, 0); point != 8 {
		t.Fatalf("engine trim point = %d, want 8", point)
	}
	if h.events.count(EventLogTrimmed) != 1 {
		t.Fatalf("trimmed events = %d, want 1", h.events.count(EventLogTrimmed))
	}
}

func TestService_TrimLogWithoutSafePoint(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	err := h.svc.TrimLog(ctx, 1, 3)
	if !errors.Is(err, cluster.ErrUnsafeTrim) {
		t.Fatalf("TrimLog() error = %v, want ErrUnsafeTrim", err)
	}
	var unsafe *cluster.UnsafeTrimError
	if errors.As(err, &unsafe) && unsafe.Safe {
		t.Fatal("expected no safe point")
	}
}

func TestService_TrimLogZeroIsNoop(t *testing.T) {
	engine := &failingEngine{LogEngine: memory.New()}
	h := newHarness(t, engine, nil)

	if err := h.svc.TrimLog(context.Background(), 0, 0); err != nil {
		t.Fatalf("TrimLog(0) error = %v", err)
	}
	if engine.calls.Load() != 0 {
		t.Fatal("engine was called for a zero trim point")
	}
}

func TestService_TrimLogEngineFailure(t *testing.T) {
	engine := &failingEngine{LogEngine: memory.New()}
	h := newHarness(t, engine, nil)
	ctx := context.Background()
	node := cluster.PlainNodeID(1).WithGeneration(1)
	h.svc.Heartbeat(ctx, node, time.Time{})
	h.svc.ReportStatus(ctx, node, 0, persistedAt(h.clock.Now(), 10))

	err := h.svc.TrimLog(ctx, 0, 10)
	var failed *cluster.TrimFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("TrimLog() error = %v, want TrimFailedError", err)
	}
	if failed.Point != 10 || failed.Log != 0 {
		t.Fatalf("unexpected failure detail: %+v", failed)
	}
	if h.metrics.trimCount(TrimResultFailure) != 1 {
		t.Fatalf("trim metrics = %v", h.metrics.trims)
	}
}

func TestService_SafeTrimPointUnknownLog(t *testing.T) {
	h := newHarness(t, nil, nil)

	_, _, err := h.svc.SafeTrimPoint(context.Background(), 99)
	if !errors.Is(err, cluster.ErrUnknownLog) {
		t.Fatalf("SafeTrimPoint() error = %v, want ErrUnknownLog", err)
	}
}

// A dead node lagging behind holds the trim point until the grace period
// elapses and an alive node has caught up on its partition.
func TestService_DeadNodeHoldsTrimPoint(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	a := cluster.PlainNodeID(1).WithGeneration(1)
	b := cluster.PlainNodeID(2).WithGeneration(1)

	h.svc.Heartbeat(ctx, a, time.Time{})
	h.svc.Heartbeat(ctx, b, time.Time{})
	h.svc.ReportStatus(ctx, a, 0, persistedAt(h.clock.Now(), 100))
	h.svc.ReportStatus(ctx, b, 0, persistedAt(h.clock.Now(), 80))

	h.clock.Advance(55 * time.Second)
	h.svc.Heartbeat(ctx, a, time.Time{})
	h.ctrl.Sweep()

	point, ok, err := h.svc.SafeTrimPoint(ctx, 0)
	if err != nil || !ok || point.LSN != 80 {
		t.Fatalf("SafeTrimPoint() = (%v, %v, %v), want 80", point, ok, err)
	}

	h.clock.Advance(2 * time.Minute)
	h.svc.Heartbeat(ctx, a, time.Time{})
	point, ok, err = h.svc.SafeTrimPoint(ctx, 0)
	if err != nil || !ok || point.LSN != 100 {
		t.Fatalf("SafeTrimPoint() = (%v, %v, %v), want 100", point, ok, err)
	}
}

func TestService_AttachNodeIssuesGenerations(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	first := h.svc.AttachNode(ctx, 7)
	second := h.svc.AttachNode(ctx, 7)
	if first.Generation != 1 || second.Generation != 2 {
		t.Fatalf("generations = %d, %d, want 1, 2", first.Generation, second.Generation)
	}
	if got := h.svc.Heartbeat(ctx, first, time.Time{}); got != cluster.HeartbeatStale {
		t.Fatalf("old generation heartbeat = %v, want stale", got)
	}
	if h.events.count(EventNodeAlive) != 2 {
		t.Fatalf("alive events = %d, want 2", h.events.count(EventNodeAlive))
	}
}

func TestService_GetClusterState(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	a := cluster.PlainNodeID(1).WithGeneration(1)
	b := cluster.PlainNodeID(2).WithGeneration(1)
	h.svc.Heartbeat(ctx, a, time.Time{})
	h.svc.Heartbeat(ctx, b, time.Time{})
	h.svc.ReportStatus(ctx, a, 0, persistedAt(h.clock.Now(), 4))
	h.clock.Advance(time.Minute)
	h.svc.Heartbeat(ctx, a, time.Time{})
	h.ctrl.Sweep()

	state := h.svc.GetClusterState(ctx)
	if len(state.Nodes) != 2 {
		t.Fatalf("nodes = %d, want 2", len(state.Nodes))
	}
	alive, ok := state.Nodes[1].Alive()
	if !ok || len(alive.Partitions) != 1 {
		t.Fatalf("node 1 = %+v, want alive with one partition", state.Nodes[1])
	}
	if _, ok := state.Nodes[2].Dead(); !ok {
		t.Fatalf("node 2 = %+v, want dead", state.Nodes[2])
	}
	if state.NodesConfigVersion != 1 {
		t.Fatalf("version = %d, want 1", state.NodesConfigVersion)
	}
}
