// Package metrics exposes the controller's Prometheus collectors: node
// liveness, log trimming, leadership conflicts and the HTTP API. A disabled
// Manager accepts every call and records nothing.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownGrace = 5 * time.Second

var (
	defaultTrimBuckets = []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10}
	defaultHTTPBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}
)

// Manager owns the controller's metrics registry.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	heartbeats          *prometheus.CounterVec
	partitionReports    *prometheus.CounterVec
	nodes               *prometheus.GaugeVec
	livenessTransitions *prometheus.CounterVec

	trims               *prometheus.CounterVec
	trimDuration        *prometheus.HistogramVec
	trimPoint           *prometheus.GaugeVec
	leadershipConflicts prometheus.Gauge

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	httpConnections prometheus.Gauge
}

// Config holds metrics configuration. Empty bucket lists get defaults.
type Config struct {
	Enabled bool
	Port    int
	Path    string

	TrimDurationBuckets []float64
	HTTPDurationBuckets []float64
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		Port:                9091,
		Path:                "/metrics",
		TrimDurationBuckets: defaultTrimBuckets,
		HTTPDurationBuckets: defaultHTTPBuckets,
	}
}

// NewManager creates a manager with its own registry, which also carries
// the Go runtime and process collectors.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return &Manager{}
	}
	if len(cfg.TrimDurationBuckets) == 0 {
		cfg.TrimDurationBuckets = defaultTrimBuckets
	}
	if len(cfg.HTTPDurationBuckets) == 0 {
		cfg.HTTPDurationBuckets = defaultHTTPBuckets
	}

	m := &Manager{registry: prometheus.NewRegistry(), enabled: true}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.initLivenessMetrics()
	m.initTrimMetrics(cfg)
	m.initHTTPMetrics(cfg)
	return m
}

// Enabled reports whether metrics are recorded.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// Registerer returns the registry other collectors, such as the gRPC
// interceptors, register with. It is nil when metrics are disabled.
func (m *Manager) Registerer() prometheus.Registerer {
	if !m.enabled {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus or OpenMetrics format.
// Disabled managers answer 404.
func (m *Manager) Handler() http.Handler {
	if !m.enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          m.registry,
	})
}

// StartServer listens on port and serves the registry at path until ctx is
// done.
func (m *Manager) StartServer(ctx context.Context, port int, path string) error {
	if !m.enabled {
		return nil
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}
	return m.Serve(ctx, ln, path)
}

// Serve serves the registry at path on ln until ctx is done. A clean
// shutdown returns nil.
func (m *Manager) Serve(ctx context.Context, ln net.Listener, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-stopped
		return nil
	}
	return err
}
