// Package controller wires the cluster trackers into a running controller:
// the scheduled liveness sweep and trim task, and the request façade served
// over gRPC and HTTP.
package controller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goclaw/clusterctl/pkg/cluster"
	"github.com/goclaw/clusterctl/pkg/logger"
)

// ErrAlreadyRunning is returned by Run when the controller is running.
var ErrAlreadyRunning = errors.New("controller: already running")

type conflictKey struct {
	partition cluster.PartitionID
	epoch     cluster.LeaderEpoch
}

// Controller owns the liveness tracker and status aggregator and the logic
// layered on them. One instance is created per process.
type Controller struct {
	opts       Options
	membership cluster.Membership
	liveness   *cluster.LivenessTracker
	aggregator *cluster.StatusAggregator
	trim       *cluster.TrimCoordinator
	view       *cluster.StateView
	// applied is set when the trimmer can read back the engine's trim point.
	applied TrimPointReader

	metrics MetricsRecorder
	events  EventPublisher
	logger  logger.Logger
	clock   func() time.Time

	running atomic.Bool

	// conflictsMu guards knownConflicts, which only dedupes conflict
	// notifications.
	conflictsMu    sync.Mutex
	knownConflicts map[conflictKey]struct{}
}

// New creates a controller. trimmer is the log engine's trim primitive.
func New(membership cluster.Membership, trimmer cluster.LogTrimmer, opts Options, options ...Option) (*Controller, error) {
	if membership == nil {
		return nil, errors.New("controller: membership cannot be nil")
	}
	if trimmer == nil {
		return nil, errors.New("controller: trimmer cannot be nil")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		opts:           opts,
		membership:     membership,
		metrics:        nopMetricsRecorder{},
		events:         nopEventPublisher{},
		logger:         logger.Global(),
		clock:          time.Now,
		knownConflicts: make(map[conflictKey]struct{}),
	}
	for _, opt := range options {
		opt(c)
	}
	c.logger = c.logger.With("component", "controller")

	c.liveness = cluster.NewLivenessTracker(c.logger)
	c.aggregator = cluster.NewStatusAggregator(c.liveness, membership, c.logger)
	c.trim = cluster.NewTrimCoordinator(c.aggregator, membership, trimmer, cluster.TrimConfig{
		Timeout:             opts.TrimTimeout,
		DeadNodeGracePeriod: opts.DeadNodeGracePeriod,
		Clock:               c.clock,
	}, c.logger)
	c.view = cluster.NewStateView(c.aggregator, membership, c.clock)
	c.applied, _ = trimmer.(TrimPointReader)
	return c, nil
}

// Options returns the controller's options.
func (c *Controller) Options() Options {
	return c.opts
}

// Run drives the liveness sweep and, when enabled, periodic trimming until
// ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)

	sweep := time.NewTicker(c.opts.SweepInterval)
	defer sweep.Stop()

	var trimC <-chan time.Time
	if c.opts.TrimEnabled {
		trimTicker := time.NewTicker(c.opts.TrimInterval)
		defer trimTicker.Stop()
		trimC = trimTicker.C
	}

	c.logger.Info("controller started",
		"sweep_interval", c.opts.SweepInterval,
		"liveness_timeout", c.opts.LivenessTimeout,
		"trim_enabled", c.opts.TrimEnabled,
		"trim_interval", c.opts.TrimInterval,
	)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("controller stopped")
			return nil
		case <-sweep.C:
			c.Sweep()
		case <-trimC:
			c.TrimAll(ctx)
		}
	}
}

// Running reports whether Run is active.
func (c *Controller) Running() bool {
	return c.running.Load()
}

// Sweep marks nodes whose heartbeat expired as Dead and refreshes liveness
// and conflict metrics.
func (c *Controller) Sweep() []cluster.GenerationalNodeID {
	transitioned := c.liveness.Sweep(c.clock(), c.opts.LivenessTimeout)
	dead := make([]cluster.GenerationalNodeID, 0, len(transitioned))
	for _, rec := range transitioned {
		c.metrics.RecordLivenessTransition(cluster.NodeStateDead.String())
		c.events.Publish(EventNodeDead, map[string]any{
			"node":            rec.NodeID.String(),
			"last_seen_alive": rec.LastHeartbeatAt.UTC().Format(time.RFC3339Nano),
		})
		dead = append(dead, rec.NodeID)
	}
	c.refreshNodeCounts()
	c.checkConflicts(c.aggregator.View().Conflicts())
	return dead
}

// TrimAll trims every log to its safe trim point.
func (c *Controller) TrimAll(ctx context.Context) []cluster.TrimResult {
	start := c.clock()
	results := c.trim.TrimAll(ctx)
	elapsed := c.clock().Sub(start)
	for _, r := range results {
		c.recordTrimResult(ctx, r.Log, r.Point, r.Trimmed, r.Err, elapsed)
	}
	return results
}

// recordTrimResult reports a trim attempt. After a successful trim the
// engine's own trim point is reported too, since engines clamp trims past
// the tail.
func (c *Controller) recordTrimResult(ctx context.Context, log cluster.LogID, point cluster.LSN, trimmed bool, err error, elapsed time.Duration) {
	switch {
	case err != nil:
		c.metrics.RecordTrim(TrimResultFailure, elapsed)
		c.events.Publish(EventTrimFailed, map[string]any{
			"log_id":     uint64(log),
			"trim_point": uint64(point),
			"error":      err.Error(),
		})
	case trimmed:
		c.metrics.RecordTrim(TrimResultSuccess, elapsed)
		applied := c.appliedTrimPoint(ctx, log, point)
		c.metrics.SetTrimPoint(uint64(log), uint64(applied))
		c.events.Publish(EventLogTrimmed, map[string]any{
			"log_id":             uint64(log),
			"trim_point":         uint64(point),
			"applied_trim_point": uint64(applied),
		})
	default:
		c.metrics.RecordTrim(TrimResultNoop, elapsed)
	}
}

func (c *Controller) appliedTrimPoint(ctx context.Context, log cluster.LogID, requested cluster.LSN) cluster.LSN {
	if c.applied == nil {
		return requested
	}
	applied, err := c.applied.TrimPoint(ctx, log)
	if err != nil {
		c.logger.WarnContext(ctx, "reading applied trim point failed",
			"log_id", uint64(log),
			"error", err,
		)
		return requested
	}
	return applied
}

func (c *Controller) refreshNodeCounts() {
	alive, dead := c.liveness.Counts()
	c.metrics.SetNodeCounts(alive, dead)
}

// checkConflicts logs and publishes conflicts not seen before and forgets
// the ones that cleared.
func (c *Controller) checkConflicts(conflicts []cluster.LeadershipConflict) {
	c.metrics.SetLeadershipConflicts(len(conflicts))

	current := make(map[conflictKey]struct{}, len(conflicts))
	c.conflictsMu.Lock()
	var fresh []cluster.LeadershipConflict
	for _, conflict := range conflicts {
		key := conflictKey{partition: conflict.Partition, epoch: conflict.Epoch}
		current[key] = struct{}{}
		if _, seen := c.knownConflicts[key]; !seen {
			fresh = append(fresh, conflict)
		}
	}
	c.knownConflicts = current
	c.conflictsMu.Unlock()

	for _, conflict := range fresh {
		c.reportConflict(context.Background(), conflict)
	}
}

func (c *Controller) reportConflict(ctx context.Context, conflict cluster.LeadershipConflict) {
	claimants := make([]string, 0, len(conflict.Claimants))
	for _, id := range conflict.Claimants {
		claimants = append(claimants, id.String())
	}
	c.logger.ErrorContext(ctx, "leadership conflict",
		"partition", uint64(conflict.Partition),
		"epoch", uint64(conflict.Epoch),
		"claimants", claimants,
	)
	c.events.Publish(EventLeadershipConflict, map[string]any{
		"partition": uint64(conflict.Partition),
		"epoch":     uint64(conflict.Epoch),
		"claimants": claimants,
	})
}
