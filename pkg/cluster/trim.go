package cluster

import (
	"context"
	"math"
	"time"

	"github.com/goclaw/clusterctl/pkg/logger"
)

// LogTrimmer is the log engine's trim primitive. Trimming to a point at or
// below the current trim point must be a no-op.
type LogTrimmer interface {
	Trim(ctx context.Context, log LogID, upTo LSN) error
}

// TrimConfig configures the trim coordinator.
type TrimConfig struct {
	// Timeout bounds the single attempt made against the log engine.
	Timeout time.Duration
	// DeadNodeGracePeriod is how long after a node was last seen alive its
	// last reported position keeps holding back the trim point, even when an
	// Alive node has caught up past it.
	DeadNodeGracePeriod time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// TrimResult is the outcome of trimming one log.
type TrimResult struct {
	Log     LogID
	Point   LSN
	Trimmed bool
	Err     error
}

// TrimCoordinator computes safe trim points and issues trims.
type TrimCoordinator struct {
	aggregator *StatusAggregator
	membership Membership
	trimmer    LogTrimmer
	cfg        TrimConfig
	logger     logger.Logger
}

// NewTrimCoordinator creates a trim coordinator.
func NewTrimCoordinator(aggregator *StatusAggregator, membership Membership, trimmer LogTrimmer, cfg TrimConfig, log logger.Logger) *TrimCoordinator {
	if log == nil {
		log = logger.Global()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &TrimCoordinator{
		aggregator: aggregator,
		membership: membership,
		trimmer:    trimmer,
		cfg:        cfg,
		logger:     log.With("component", "trim"),
	}
}

// ComputeSafeTrimPoint returns the highest point log can be trimmed to
// without discarding records any consumer may still need.
func (c *TrimCoordinator) ComputeSafeTrimPoint(log LogID) (TrimPoint, bool) {
	return c.safeTrimPoint(c.aggregator.View(), log)
}

// safeTrimPoint is the minimum position over the Alive consumers of log. It is
// undefined when there are no Alive consumers, when any consumer has no
// position yet, or when the minimum is zero.
//
// Reports from nodes that are not Alive also bound the minimum, unless the
// grace period has passed since the node was last seen alive and an Alive
// node has reported a position at or past it for the same partition.
func (c *TrimCoordinator) safeTrimPoint(view *StatusView, log LogID) (TrimPoint, bool) {
	alive, other := view.splitByLog(log)
	if len(alive) == 0 {
		return TrimPoint{}, false
	}

	lowest := LSN(math.MaxUint64)
	for _, r := range alive {
		pos, ok := r.Status.Position()
		if !ok || pos == InvalidLSN {
			return TrimPoint{}, false
		}
		if pos < lowest {
			lowest = pos
		}
	}

	now := c.cfg.Clock()
	for _, r := range other {
		pos, _ := r.Status.Position()
		if c.surpassed(view, alive, r, pos, now) {
			continue
		}
		if pos == InvalidLSN {
			return TrimPoint{}, false
		}
		if pos < lowest {
			lowest = pos
		}
	}
	return TrimPoint{Log: log, LSN: lowest}, true
}

func (c *TrimCoordinator) surpassed(view *StatusView, alive []PartitionReport, r PartitionReport, pos LSN, now time.Time) bool {
	if now.Sub(view.lastSeenAlive(r)) < c.cfg.DeadNodeGracePeriod {
		return false
	}
	for _, a := range alive {
		if a.Partition != r.Partition {
			continue
		}
		if p, ok := a.Status.Position(); ok && p >= pos {
			return true
		}
	}
	return false
}

// Trim trims log to its safe trim point. When no point is safe it does
// nothing and returns false.
func (c *TrimCoordinator) Trim(ctx context.Context, log LogID) (TrimPoint, bool, error) {
	point, ok := c.ComputeSafeTrimPoint(log)
	if !ok {
		return TrimPoint{}, false, nil
	}
	if err := c.TrimTo(ctx, point); err != nil {
		return point, false, err
	}
	return point, true, nil
}

// TrimTo makes one bounded attempt to trim the log to point. Failures are
// returned as *TrimFailedError and never retried.
func (c *TrimCoordinator) TrimTo(ctx context.Context, point TrimPoint) error {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	if err := c.trimmer.Trim(ctx, point.Log, point.LSN); err != nil {
		c.logger.ErrorContext(ctx, "log trim failed",
			"log_id", point.Log,
			"trim_point", point.LSN,
			"error", err,
		)
		return &TrimFailedError{Log: point.Log, Point: point.LSN, Err: err}
	}
	c.logger.InfoContext(ctx, "log trimmed", "log_id", point.Log, "trim_point", point.LSN)
	return nil
}

// TrimAll trims every log known to membership from one read of the current
// state.
func (c *TrimCoordinator) TrimAll(ctx context.Context) []TrimResult {
	view := c.aggregator.View()
	logs := c.membership.Logs()
	results := make([]TrimResult, 0, len(logs))
	for _, log := range logs {
		if err := ctx.Err(); err != nil {
			results = append(results, TrimResult{Log: log, Err: err})
			continue
		}
		point, ok := c.safeTrimPoint(view, log)
		if !ok {
			results = append(results, TrimResult{Log: log})
			continue
		}
		err := c.TrimTo(ctx, point)
		results = append(results, TrimResult{Log: log, Point: point.LSN, Trimmed: err == nil, Err: err})
	}
	return results
}
