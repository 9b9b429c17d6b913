// Package metrics exposes prometheus counters for the signal pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the observer's counters. Construct with New and a registry;
// tests pass prometheus.NewRegistry() to avoid default-registry collisions.
type Metrics struct {
	SignalsReceived      *prometheus.CounterVec
	AttentionEvents      prometheus.Counter
	AttentionFailures    prometheus.Counter
	OperationsRecorded   prometheus.Counter
	OperationsDuplicate  prometheus.Counter
	OperationsFailed     prometheus.Counter
	NotificationsEmitted *prometheus.CounterVec
	DockApprovals        prometheus.Counter
}

// New registers the observer's metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SignalsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "observer_signals_received_total",
			Help: "Signals routed, by signal type name.",
		}, []string{"signal_type"}),
		AttentionEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "observer_attention_events_total",
			Help: "Attention events written to the audit log.",
		}),
		AttentionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "observer_attention_event_failures_total",
			Help: "Audit-log writes rejected by the store.",
		}),
		OperationsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "observer_operations_recorded_total",
			Help: "Operation records inserted.",
		}),
		OperationsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "observer_operations_duplicate_total",
			Help: "Operation inserts absorbed as duplicates (redelivery).",
		}),
		OperationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "observer_operations_failed_total",
			Help: "Operation inserts rejected by the store for non-duplicate reasons.",
		}),
		NotificationsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "observer_notifications_emitted_total",
			Help: "Semantic notifications emitted, by notification name.",
		}, []string{"notification"}),
		DockApprovals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "observer_dock_approvals_total",
			Help: "Dock requests answered with approval.",
		}),
	}

	reg.MustRegister(
		m.SignalsReceived,
		m.AttentionEvents,
		m.AttentionFailures,
		m.OperationsRecorded,
		m.OperationsDuplicate,
		m.OperationsFailed,
		m.NotificationsEmitted,
		m.DockApprovals,
	)

	return m
}
