package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the engine's Prometheus series, grounded on
// netbuddy-agents-admin's apiserver Metrics struct (TasksTotal /
// RunsTotal / SchedulerCyclesTotal map directly onto task-run /
// stack-run / dispatch-cycle counters here).
type Metrics struct {
	TaskRunsTotal  *prometheus.CounterVec
	StackRunsTotal *prometheus.CounterVec

	DispatchCyclesTotal     prometheus.Counter
	DispatchClaimDuration   prometheus.Histogram
	DispatchStepDuration    *prometheus.HistogramVec
}

// ObserveClaimDuration records how long a claim attempt took.
func (m *Metrics) ObserveClaimDuration(seconds float64) {
	if m == nil {
		return
	}
	m.DispatchClaimDuration.Observe(seconds)
}

// IncDispatchCycle counts one dispatch step on a claimed stack run.
func (m *Metrics) IncDispatchCycle() {
	if m == nil {
		return
	}
	m.DispatchCyclesTotal.Inc()
}

// ObserveStep records one Step's outcome and duration.
func (m *Metrics) ObserveStep(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.DispatchStepDuration.WithLabelValues(outcome).Observe(seconds)
}

// IncStackRun counts one stack run reaching status.
func (m *Metrics) IncStackRun(status string) {
	if m == nil {
		return
	}
	m.StackRunsTotal.WithLabelValues(status).Inc()
}

// IncTaskRun counts one task run reaching status.
func (m *Metrics) IncTaskRun(status string) {
	if m == nil {
		return
	}
	m.TaskRunsTotal.WithLabelValues(status).Inc()
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		TaskRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_runs_total",
				Help:      "Total task runs by terminal or transitional status.",
			},
			[]string{"status"},
		),
		StackRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stack_runs_total",
				Help:      "Total stack runs by terminal or transitional status.",
			},
			[]string{"status"},
		),
		DispatchCyclesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_cycles_total",
				Help:      "Total dispatch cycles (steps run on a claimed stack run).",
			},
		),
		DispatchClaimDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_claim_duration_seconds",
				Help:      "Time spent claiming a ready stack run.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
		DispatchStepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_step_duration_seconds",
				Help:      "Time spent driving a claimed stack run through Step.",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120},
			},
			[]string{"outcome"},
		),
	}
}
