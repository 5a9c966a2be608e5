package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ActionMetrics counts service action outcomes per vendor and workflow.
type ActionMetrics struct {
	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
	reports  *prometheus.CounterVec
}

// NewActionMetrics registers the service action metrics on the provided registerer.
func NewActionMetrics(reg prometheus.Registerer) *ActionMetrics {
	if reg == nil {
		return &ActionMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "service_action_outcomes_total",
		Help: "Service action executions by terminal outcome.",
	}, []string{"vendor", "workflow", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "service_action_duration_seconds",
		Help:    "Duration of service action executions in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"vendor", "workflow"})
	reports := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "monitoring_reports_total",
		Help: "Errors forwarded to monitoring, by error code.",
	}, []string{"code"})
	reg.MustRegister(outcomes, duration, reports)
	return &ActionMetrics{
		outcomes: outcomes,
		duration: duration,
		reports:  reports,
	}
}

// ObserveOutcome records one finished execution.
func (a *ActionMetrics) ObserveOutcome(vendor, workflow, outcome string, duration time.Duration) {
	if a == nil || a.outcomes == nil {
		return
	}
	a.outcomes.WithLabelValues(normalizeLabel(vendor), normalizeLabel(workflow), normalizeLabel(outcome)).Inc()
	a.duration.WithLabelValues(normalizeLabel(vendor), normalizeLabel(workflow)).Observe(duration.Seconds())
}

// IncReport increments the monitoring report counter.
func (a *ActionMetrics) IncReport(code string) {
	if a == nil || a.reports == nil {
		return
	}
	a.reports.WithLabelValues(normalizeLabel(code)).Inc()
}
