// Package metrics exposes prometheus instrumentation for the billing core.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type SchedulerMetrics struct {
	jobRuns     *prometheus.CounterVec
	jobErrors   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

type BillingMetrics struct {
	paymentIntents  *prometheus.CounterVec
	historyAppends  *prometheus.CounterVec
	eventsPublished *prometheus.CounterVec
}

var (
	once      sync.Once
	scheduler *SchedulerMetrics
	billing   *BillingMetrics
)

func register(reg prometheus.Registerer) {
	scheduler = &SchedulerMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_scheduler_job_runs_total",
			Help: "Scheduler job executions by job name.",
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_scheduler_job_errors_total",
			Help: "Scheduler job failures by job name.",
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tally_scheduler_job_duration_seconds",
			Help:    "Scheduler job duration by job name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}
	billing = &BillingMetrics{
		paymentIntents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_payment_intents_total",
			Help: "Payment intent attempts by processor and outcome.",
		}, []string{"processor", "outcome"}),
		historyAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_billing_history_appends_total",
			Help: "Billing history rows appended by status.",
		}, []string{"status"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_events_published_total",
			Help: "Events published on the bus by type.",
		}, []string{"type"}),
	}

	reg.MustRegister(
		scheduler.jobRuns,
		scheduler.jobErrors,
		scheduler.jobDuration,
		billing.paymentIntents,
		billing.historyAppends,
		billing.eventsPublished,
	)
}

func ensure() {
	once.Do(func() { register(prometheus.DefaultRegisterer) })
}

// Scheduler returns the scheduler metric set.
func Scheduler() *SchedulerMetrics {
	ensure()
	return scheduler
}

// Billing returns the billing metric set.
func Billing() *BillingMetrics {
	ensure()
	return billing
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) IncJobError(job string) {
	m.jobErrors.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, d time.Duration) {
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *BillingMetrics) IncPaymentIntent(processor, outcome string) {
	m.paymentIntents.WithLabelValues(processor, outcome).Inc()
}

func (m *BillingMetrics) IncHistoryAppend(status string) {
	m.historyAppends.WithLabelValues(status).Inc()
}

func (m *BillingMetrics) IncEventPublished(eventType string) {
	m.eventsPublished.WithLabelValues(eventType).Inc()
}
