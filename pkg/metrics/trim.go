package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initTrimMetrics initializes log trim and leadership metrics.
func (m *Manager) initTrimMetrics(cfg Config) {
	m.trims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "log_trims_total",
			Help: "Total number of log trim operations by result",
		},
		[]string{"result"},
	)

	m.trimDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "log_trim_duration_seconds",
			Help:    "Log trim duration in seconds",
			Buckets: cfg.TrimDurationBuckets,
		},
		[]string{"result"},
	)

	m.trimPoint = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "log_trim_point",
			Help: "Last LSN each log was trimmed to",
		},
		[]string{"log_id"},
	)

	m.leadershipConflicts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "partition_leadership_conflicts",
			Help: "Current number of partitions with ambiguous leadership",
		},
	)

	m.registry.MustRegister(m.trims)
	m.registry.MustRegister(m.trimDuration)
	m.registry.MustRegister(m.trimPoint)
	m.registry.MustRegister(m.leadershipConflicts)
}

// RecordTrim records a trim operation with its result and duration.
func (m *Manager) RecordTrim(result string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.trims.WithLabelValues(result).Inc()
	m.trimDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// SetTrimPoint sets the trim point of a log.
func (m *Manager) SetTrimPoint(logID uint64, lsn uint64) {
	if !m.enabled {
		return
	}
	m.trimPoint.WithLabelValues(strconv.FormatUint(logID, 10)).Set(float64(lsn))
}

// SetLeadershipConflicts sets the number of conflicting partitions.
func (m *Manager) SetLeadershipConflicts(n int) {
	if !m.enabled {
		return
	}
	m.leadershipConflicts.Set(float64(n))
}
