package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the prometheus collectors of the fulfillment core.
// All methods are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	transitions   *prometheus.CounterVec
	webhookEvents *prometheus.CounterVec
	carrierCalls  *prometheus.HistogramVec
	jobDuration   *prometheus.HistogramVec
	jobSuccess    *prometheus.CounterVec
	jobFailure    *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Applied order status transitions.",
		}, []string{"from", "to", "actor"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carrier_events_total",
			Help: "Carrier tracking events by ingestion outcome.",
		}, []string{"carrier", "outcome"}),
		carrierCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carrier_call_duration_seconds",
			Help:    "Duration of outbound carrier API calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"carrier", "op", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Duration of scheduled jobs in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		jobSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "job_success",
			Help: "Successful scheduled job executions.",
		}, []string{"job"}),
		jobFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "job_failure",
			Help: "Failed scheduled job executions.",
		}, []string{"job"}),
	}
	reg.MustRegister(m.transitions, m.webhookEvents, m.carrierCalls, m.jobDuration, m.jobSuccess, m.jobFailure)
	return m
}

// ObserveTransition counts an applied order transition.
func (m *Metrics) ObserveTransition(from, to, actor string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to), normalizeLabel(actor)).Inc()
}

// ObserveCarrierEvent counts one ingested carrier event by outcome.
func (m *Metrics) ObserveCarrierEvent(carrier, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(carrier), normalizeLabel(outcome)).Inc()
}

// ObserveCarrierCall records the duration of a carrier API call.
func (m *Metrics) ObserveCarrierCall(carrier, op string, err error, duration time.Duration) {
	if m == nil || m.carrierCalls == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.carrierCalls.WithLabelValues(normalizeLabel(carrier), normalizeLabel(op), outcome).Observe(duration.Seconds())
}

// ObserveJob records one scheduled job run.
func (m *Metrics) ObserveJob(job string, duration time.Duration, err error) {
	if m == nil || m.jobDuration == nil {
		return
	}
	job = normalizeLabel(job)
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
	if err != nil {
		m.jobFailure.WithLabelValues(job).Inc()
		return
	}
	m.jobSuccess.WithLabelValues(job).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
