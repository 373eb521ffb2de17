// Package matchmetrics records match module operations as Prometheus metrics.
package matchmetrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is what the match services record. service names the component
// (orchestrator, queue, recovery) and operation the method.
type Metrics interface {
	RecordOperationAttempt(ctx context.Context, operation, service string)
	RecordOperationSuccess(ctx context.Context, operation, service string)
	RecordOperationFailure(ctx context.Context, operation, service string)
	RecordOperationDuration(ctx context.Context, operation, service string, duration time.Duration)

	RecordJobOutcome(ctx context.Context, kind, outcome string)
	RecordRecovery(ctx context.Context, pruned, requeued int)
	RecordPasscodeRegenerated(ctx context.Context)
	RecordRatingDelta(ctx context.Context, delta float64)
}

// Prometheus implements Metrics on a registry.
type Prometheus struct {
	operations    *prometheus.CounterVec
	durations     *prometheus.HistogramVec
	jobs          *prometheus.CounterVec
	recovery      *prometheus.CounterVec
	regenerations prometheus.Counter
	ratingDeltas  prometheus.Histogram
}

var _ Metrics = (*Prometheus)(nil)

// NewPrometheus registers the match metrics on reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	m := &Prometheus{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "league",
			Subsystem: "match",
			Name:      "operations_total",
			Help:      "Match operations by service, operation and result.",
		}, []string{"service", "operation", "result"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "league",
			Subsystem: "match",
			Name:      "operation_duration_seconds",
			Help:      "Match operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "operation"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "league",
			Subsystem: "match",
			Name:      "jobs_total",
			Help:      "Delayed job executions by kind and outcome.",
		}, []string{"kind", "outcome"}),
		recovery: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "league",
			Subsystem: "match",
			Name:      "recovery_jobs_total",
			Help:      "Jobs pruned or requeued by reconciliation.",
		}, []string{"action"}),
		regenerations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "league",
			Subsystem: "match",
			Name:      "passcode_regenerations_total",
			Help:      "Passcodes regenerated by split vote.",
		}),
		ratingDeltas: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "league",
			Subsystem: "rating",
			Name:      "delta",
			Help:      "Per-player internal rating change at finalization.",
			Buckets:   prometheus.LinearBuckets(-200, 25, 17),
		}),
	}
	reg.MustRegister(m.operations, m.durations, m.jobs, m.recovery, m.regenerations, m.ratingDeltas)
	return m
}

func (m *Prometheus) RecordOperationAttempt(ctx context.Context, operation, service string) {
	m.operations.WithLabelValues(service, operation, "attempt").Inc()
}

func (m *Prometheus) RecordOperationSuccess(ctx context.Context, operation, service string) {
	m.operations.WithLabelValues(service, operation, "success").Inc()
}

func (m *Prometheus) RecordOperationFailure(ctx context.Context, operation, service string) {
	m.operations.WithLabelValues(service, operation, "failure").Inc()
}

func (m *Prometheus) RecordOperationDuration(ctx context.Context, operation, service string, duration time.Duration) {
	m.durations.WithLabelValues(service, operation).Observe(duration.Seconds())
}

func (m *Prometheus) RecordJobOutcome(ctx context.Context, kind, outcome string) {
	m.jobs.WithLabelValues(kind, outcome).Inc()
}

func (m *Prometheus) RecordRecovery(ctx context.Context, pruned, requeued int) {
	m.recovery.WithLabelValues("pruned").Add(float64(pruned))
	m.recovery.WithLabelValues("requeued").Add(float64(requeued))
}

func (m *Prometheus) RecordPasscodeRegenerated(ctx context.Context) {
	m.regenerations.Inc()
}

func (m *Prometheus) RecordRatingDelta(ctx context.Context, delta float64) {
	m.ratingDeltas.Observe(delta)
}

// NoOp discards everything. Used by tests and tools that do not expose metrics.
type NoOp struct{}

var _ Metrics = NoOp{}

func (NoOp) RecordOperationAttempt(context.Context, string, string)                 {}
func (NoOp) RecordOperationSuccess(context.Context, string, string)                 {}
func (NoOp) RecordOperationFailure(context.Context, string, string)                 {}
func (NoOp) RecordOperationDuration(context.Context, string, string, time.Duration) {}
func (NoOp) RecordJobOutcome(context.Context, string, string)                       {}
func (NoOp) RecordRecovery(context.Context, int, int)                               {}
func (NoOp) RecordPasscodeRegenerated(context.Context)                              {}
func (NoOp) RecordRatingDelta(context.Context, float64)                             {}
