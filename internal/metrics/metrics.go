package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	WebhookEvents     *prometheus.CounterVec
	OutgoingMessages  *prometheus.CounterVec
	AffiliateRequests *prometheus.CounterVec
	AffiliateLatency  *prometheus.HistogramVec
	AffiliateRetries  *prometheus.CounterVec
	PipelineRuns      *prometheus.CounterVec
	InflightSearches  prometheus.Gauge
	Errors            *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Inbound gateway webhook calls by outcome.",
			}, []string{"outcome"}),
			OutgoingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outgoing_messages_total",
				Help:      "Messages sent through the chat gateway.",
			}, []string{"type", "status"}),
			AffiliateRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "affiliate_requests_total",
				Help:      "Affiliate API requests by method and status.",
			}, []string{"method", "status"}),
			AffiliateLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "affiliate_request_duration_seconds",
				Help:      "Latency distribution for affiliate API requests.",
				Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
			}, []string{"method", "status"}),
			AffiliateRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "affiliate_retries_total",
				Help:      "Affiliate API retries after network failures.",
			}, []string{"method"}),
			PipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_runs_total",
				Help:      "Background pipeline runs by outcome.",
			}, []string{"outcome"}),
			InflightSearches: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "inflight_searches",
				Help:      "Searches currently holding a concurrency slot.",
			}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.WebhookEvents,
			metricsInstance.OutgoingMessages,
			metricsInstance.AffiliateRequests,
			metricsInstance.AffiliateLatency,
			metricsInstance.AffiliateRetries,
			metricsInstance.PipelineRuns,
			metricsInstance.InflightSearches,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
