// Package telemetry exposes Prometheus metrics for ingestion, event ingress
// and notification delivery.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the pipeline. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Ingestion
	SourceRuns     *prometheus.CounterVec
	SourceRecords  *prometheus.CounterVec
	SourceDuration *prometheus.HistogramVec
	EntityFailures *prometheus.CounterVec
	LastSuccess    *prometheus.GaugeVec

	// Event ingress
	WebhookEvents *prometheus.CounterVec

	// Delivery
	NotifySends *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates and registers all metrics on reg. A nil reg uses the
// default registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer, ok := reg.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	f := promauto.With(reg)

	return &Metrics{
		SourceRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_runs_total",
				Help:      "Source adapter invocations by outcome",
			},
			[]string{"source", "status"},
		),
		SourceRecords: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_records_total",
				Help:      "Normalized rows written by source",
			},
			[]string{"source"},
		),
		SourceDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "source_duration_seconds",
				Help:      "Source adapter run time in seconds",
				Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"source"},
		),
		EntityFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_entity_failures_total",
				Help:      "Per-entity fetch or transform failures that were skipped",
			},
			[]string{"source"},
		),
		LastSuccess: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "source_last_success_timestamp_seconds",
				Help:      "Unix time of the last successful run per source",
			},
			[]string{"source"},
		),
		WebhookEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Webhook deliveries by outcome",
			},
			[]string{"outcome"},
		),
		NotifySends: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notify_sends_total",
				Help:      "Notification dispatches by channel and status",
			},
			[]string{"notifier", "status"},
		),
		gatherer: gatherer,
	}
}

// Handler returns the /metrics HTTP handler for the registry the metrics
// were created on.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordSourceRun records the outcome of one adapter invocation.
func (m *Metrics) RecordSourceRun(source string, success bool, records int64, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failed"
	}
	m.SourceRuns.WithLabelValues(source, status).Inc()
	m.SourceRecords.WithLabelValues(source).Add(float64(records))
	m.SourceDuration.WithLabelValues(source).Observe(elapsed.Seconds())
	if success {
		m.LastSuccess.WithLabelValues(source).SetToCurrentTime()
	}
}

// RecordEntityFailure counts a skipped entity.
func (m *Metrics) RecordEntityFailure(source string) {
	if m == nil {
		return
	}
	m.EntityFailures.WithLabelValues(source).Inc()
}

// RecordWebhook counts a webhook delivery outcome.
func (m *Metrics) RecordWebhook(outcome string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(outcome).Inc()
}

// RecordNotify counts a dispatch attempt on one channel.
func (m *Metrics) RecordNotify(notifier string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.NotifySends.WithLabelValues(notifier, status).Inc()
}
