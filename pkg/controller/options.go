package controller

import (
	"fmt"
	"time"

	"github.com/goclaw/clusterctl/pkg/logger"
)

// Options configures the controller's scheduled work and trim policy.
type Options struct {
	// LivenessTimeout is how long a node may go without a heartbeat before
	// the sweep marks it Dead.
	LivenessTimeout time.Duration
	SweepInterval   time.Duration

	TrimEnabled  bool
	TrimInterval time.Duration
	// TrimTimeout bounds each trim attempt against the log engine.
	TrimTimeout time.Duration
	// DeadNodeGracePeriod is how long a Dead node's last position keeps
	// holding back trimming after an Alive node has caught up past it.
	DeadNodeGracePeriod time.Duration
}

// DefaultOptions returns the default controller options.
func DefaultOptions() Options {
	return Options{
		LivenessTimeout:     10 * time.Second,
		SweepInterval:       time.Second,
		TrimEnabled:         true,
		TrimInterval:        time.Minute,
		TrimTimeout:         5 * time.Second,
		DeadNodeGracePeriod: 5 * time.Minute,
	}
}

// Validate checks the options.
func (o Options) Validate() error {
	if o.LivenessTimeout <= 0 {
		return fmt.Errorf("controller: liveness timeout must be > 0")
	}
	if o.SweepInterval <= 0 {
		return fmt.Errorf("controller: sweep interval must be > 0")
	}
	if o.TrimEnabled && o.TrimInterval <= 0 {
		return fmt.Errorf("controller: trim interval must be > 0 when trimming is enabled")
	}
	if o.TrimTimeout <= 0 {
		return fmt.Errorf("controller: trim timeout must be > 0")
	}
	if o.DeadNodeGracePeriod < 0 {
		return fmt.Errorf("controller: dead node grace period must be >= 0")
	}
	return nil
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(c *Controller) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

// WithEvents sets the event publisher.
func WithEvents(events EventPublisher) Option {
	return func(c *Controller) {
		if events != nil {
			c.events = events
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.logger = log
		}
	}
}

// WithClock sets the time source used for heartbeats, sweeps, and snapshots.
func WithClock(clock func() time.Time) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}
