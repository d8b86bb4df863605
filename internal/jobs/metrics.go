// Package jobmetrics instruments background task handlers.
package jobmetrics

import (
	"errors"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes. A skipped run failed permanently and will not be retried.
const (
	OutcomeOK      = "ok"
	OutcomeRetry   = "retry"
	OutcomeSkipped = "skipped"
)

// Metrics holds the collectors shared by every task handler.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	audited     *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the collectors on registerer, or once on the default
// registerer when it is nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer != nil {
		return register(registerer)
	}
	defaultOnce.Do(func() { defaultMetrics = register(prometheus.DefaultRegisterer) })
	return defaultMetrics
}

// Tracker times one handler run.
type Tracker struct {
	m     *Metrics
	job   string
	start time.Time
	now   func() time.Time
}

// Track starts timing a run of job. It is safe on a nil Metrics.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{m: m, job: job, start: time.Now(), now: time.Now}
}

// End records the outcome of the run and passes err through.
func (t *Tracker) End(err error) error {
	if t == nil || t.m == nil || t.job == "" {
		return err
	}
	outcome := Outcome(err)
	t.m.runs.WithLabelValues(t.job, outcome).Inc()
	t.m.duration.WithLabelValues(t.job).Observe(t.now().Sub(t.start).Seconds())
	switch outcome {
	case OutcomeOK:
		t.m.lastSuccess.WithLabelValues(t.job).Set(float64(t.now().Unix()))
	case OutcomeRetry:
		t.m.failures.WithLabelValues(t.job).Inc()
	}
	return err
}

// Outcome classifies a handler result.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, asynq.SkipRetry):
		return OutcomeSkipped
	}
	return OutcomeRetry
}

// AddAudited counts one activity log entry persisted by the worker.
func (m *Metrics) AddAudited(entity, action string) {
	if m == nil {
		return
	}
	m.audited.WithLabelValues(entity, action).Inc()
}

func register(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fechamento_jobs_total",
			Help: "Task handler runs by task type and outcome.",
		}, []string{"job", "outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fechamento_jobs_failures_total",
			Help: "Task handler runs that returned a retryable error.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fechamento_job_duration_seconds",
			Help:    "Task handler run time.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fechamento_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per task type.",
		}, []string{"job"}),
		audited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fechamento_audit_entries_total",
			Help: "Activity log entries written by the worker.",
		}, []string{"entity", "action"}),
	}
	registerer.MustRegister(m.runs, m.failures, m.duration, m.lastSuccess, m.audited)
	return m
}
