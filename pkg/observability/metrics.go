package observability

import (
	"context"
	"strconv"

	"github.com/aretw0/neonflow/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors fed by the engine hooks.
type Metrics struct {
	NodeVisits        *prometheus.CounterVec
	TransportFailures *prometheus.CounterVec
	Validations       *prometheus.CounterVec
	Transitions       *prometheus.CounterVec
	Runs              *prometheus.CounterVec
	InvokeDuration    *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg skips registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NodeVisits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neonflow_node_visits_total",
				Help: "Total number of node executions",
			},
			[]string{"workflow", "node", "kind"},
		),
		TransportFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neonflow_transport_failures_total",
				Help: "Invocations that returned an error",
			},
			[]string{"workflow", "node"},
		),
		Validations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neonflow_validations_total",
				Help: "Validator verdicts by result",
			},
			[]string{"workflow", "result"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neonflow_transitions_total",
				Help: "Routing decisions by outcome",
			},
			[]string{"workflow", "outcome"},
		),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neonflow_runs_total",
				Help: "Finished runs by status",
			},
			[]string{"workflow", "status"},
		),
		InvokeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "neonflow_invoke_duration_seconds",
				Help:    "Duration of node invocations",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"workflow", "node"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.NodeVisits, m.TransportFailures, m.Validations, m.Transitions, m.Runs, m.InvokeDuration)
	}
	return m
}

// Hooks returns lifecycle hooks that record into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(_ context.Context, e *domain.NodeEvent) {
			m.NodeVisits.WithLabelValues(e.WorkflowID, strconv.Itoa(e.NodeID), string(e.Kind)).Inc()
		},
		OnInvoke: func(_ context.Context, e *domain.InvokeEvent) {
			node := strconv.Itoa(e.NodeID)
			m.InvokeDuration.WithLabelValues(e.WorkflowID, node).Observe(e.Duration.Seconds())
			if e.Err != nil {
				m.TransportFailures.WithLabelValues(e.WorkflowID, node).Inc()
			}
		},
		OnTransition: func(_ context.Context, e *domain.TransitionEvent) {
			m.Transitions.WithLabelValues(e.WorkflowID, string(e.Outcome)).Inc()
			if e.Valid != nil {
				result := "invalid"
				if *e.Valid {
					result = "valid"
				}
				m.Validations.WithLabelValues(e.WorkflowID, result).Inc()
			}
		},
		OnRunEnd: func(_ context.Context, e *domain.RunEvent) {
			m.Runs.WithLabelValues(e.WorkflowID, string(e.Status)).Inc()
		},
	}
}
