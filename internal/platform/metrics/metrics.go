// Package metrics exposes the prometheus collectors the core's phases
// report to, built the same way internal/infrastructure/repository
// wires its HistoryMetrics: promauto-registered vectors keyed by
// operation/outcome labels.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/modulecore/lifecycle/internal/platform"
)

// Registry groups every collector the core's components report to. A
// single Registry is constructed at startup and threaded through the
// Core the same way a repository takes a metrics collector as a constructor argument.
type Registry struct {
	PhaseDuration    *prometheus.HistogramVec
	PhaseOutcomes    *prometheus.CounterVec
	RuleOutcomes     *prometheus.CounterVec
	OperationCache   *prometheus.CounterVec
	RollbackOutcomes *prometheus.CounterVec
	MigrationOutcomes *prometheus.CounterVec
}

// New registers and returns a fresh Registry. Call once per process;
// registering twice against the default registerer will panic, matching
// promauto's documented behavior.
func New() *Registry {
	return &Registry{
		PhaseDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lifecycle_phase_duration_seconds",
				Help:    "Duration of activation/deactivation orchestrator phases",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"phase", "status"},
		),
		PhaseOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifecycle_phase_outcomes_total",
				Help: "Count of orchestrator phase outcomes",
			},
			[]string{"phase", "status"},
		),
		RuleOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifecycle_validator_rule_outcomes_total",
				Help: "Count of pre-activation validator rule outcomes",
			},
			[]string{"category", "severity", "outcome"},
		),
		OperationCache: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifecycle_operation_cache_total",
				Help: "Idempotent operation engine cache/short-circuit outcomes",
			},
			[]string{"operation", "outcome"},
		),
		RollbackOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifecycle_rollback_outcomes_total",
				Help: "Rollback engine plan outcomes",
			},
			[]string{"outcome"},
		),
		MigrationOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifecycle_migration_outcomes_total",
				Help: "Migration manager forward/reverse outcomes",
			},
			[]string{"direction", "outcome"},
		),
	}
}

// EventSink wraps another platform.EventSink and increments
// PhaseOutcomes for every event it forwards, keyed by its Kind. It
// turns lifecycle telemetry the core already emits into a Prometheus
// counter without any collaborator needing to know metrics exist.
type EventSink struct {
	inner platform.EventSink
	reg   *Registry
}

func NewEventSink(inner platform.EventSink, reg *Registry) EventSink {
	return EventSink{inner: inner, reg: reg}
}

func (s EventSink) Emit(e platform.Event) {
	status := "ok"
	if e.Kind == platform.EventActivationFailed || e.Kind == platform.EventError {
		status = "failed"
	}
	s.reg.PhaseOutcomes.WithLabelValues(string(e.Kind), status).Inc()
	s.inner.Emit(e)
}
