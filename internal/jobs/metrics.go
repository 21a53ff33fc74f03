package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs       *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	alerts     *prometheus.CounterVec
	actions    *prometheus.CounterVec
	recoveries *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When
// the registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration and success/failure counts,
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddAlerts counts cash-squeeze alerts raised during plan generation.
func (m *Metrics) AddAlerts(severity string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.alerts.WithLabelValues(severity).Add(float64(count))
}

// AddActions counts dispatched outreach actions by outcome.
func (m *Metrics) AddActions(outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.actions.WithLabelValues(outcome).Add(float64(count))
}

// AddRecoveries counts payments recorded through the sync adapters.
func (m *Metrics) AddRecoveries(source string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.recoveries.WithLabelValues(source).Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "duepilot_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "duepilot_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "duepilot_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	alerts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "duepilot_cash_alerts_total",
		Help: "Cash-squeeze alerts raised during plan generation, by severity.",
	}, []string{"severity"})
	actions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "duepilot_outreach_actions_total",
		Help: "Outreach actions dispatched, by outcome.",
	}, []string{"outcome"})
	recoveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "duepilot_recoveries_total",
		Help: "Payments recorded through external feeds, by source.",
	}, []string{"source"})
	registerer.MustRegister(runs, failures, duration, alerts, actions, recoveries)
	return &Metrics{
		runs:       runs,
		failures:   failures,
		duration:   duration,
		alerts:     alerts,
		actions:    actions,
		recoveries: recoveries,
	}
}
