package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// initLivenessMetrics initializes node liveness and status report metrics.
func (m *Manager) initLivenessMetrics() {
	m.heartbeats = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cluster_heartbeats_total",
			Help: "Total number of node heartbeats by outcome",
		},
		[]string{"result"},
	)

	m.partitionReports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cluster_partition_reports_total",
			Help: "Total number of partition processor status reports by outcome",
		},
		[]string{"result"},
	)

	m.nodes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cluster_nodes",
			Help: "Current number of known nodes by liveness state",
		},
		[]string{"state"},
	)

	m.livenessTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cluster_liveness_transitions_total",
			Help: "Total number of node liveness transitions by target state",
		},
		[]string{"state"},
	)

	m.registry.MustRegister(m.heartbeats)
	m.registry.MustRegister(m.partitionReports)
	m.registry.MustRegister(m.nodes)
	m.registry.MustRegister(m.livenessTransitions)
}

// RecordHeartbeat records a heartbeat with its outcome.
func (m *Manager) RecordHeartbeat(result string) {
	if !m.enabled {
		return
	}
	m.heartbeats.WithLabelValues(result).Inc()
}

// RecordPartitionReport records a status report with its outcome.
func (m *Manager) RecordPartitionReport(result string) {
	if !m.enabled {
		return
	}
	m.partitionReports.WithLabelValues(result).Inc()
}

// RecordLivenessTransition records a node moving to state.
func (m *Manager) RecordLivenessTransition(state string) {
	if !m.enabled {
		return
	}
	m.livenessTransitions.WithLabelValues(state).Inc()
}

// SetNodeCounts sets the number of Alive and Dead nodes.
func (m *Manager) SetNodeCounts(alive, dead int) {
	if !m.enabled {
		return
	}
	m.nodes.WithLabelValues("alive").Set(float64(alive))
	m.nodes.WithLabelValues("dead").Set(float64(dead))
}
