package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PayloadsRendered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_payloads_rendered_total",
		Help: "Total number of payloads rendered, labelled by resource kind and format.",
	}, []string{"kind", "format"})

	PayloadsPartial = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_payloads_partial_total",
		Help: "Total number of payloads rendered from malformed documents, labelled by format.",
	}, []string{"format"})

	EventsUnsupported = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_events_unsupported_total",
		Help: "Total number of events whose type maps to no resource kind.",
	})

	FetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_resource_fetch_errors_total",
		Help: "Total number of failed resource fetches, labelled by resource kind.",
	}, []string{"kind"})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_events_dropped_total",
		Help: "Total number of events rejected due to a full queue.",
	})

	RenderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_render_duration_ms",
		Help:    "End-to-end classify, fetch and render latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webhook_queue_utilization_ratio",
		Help: "Current render queue utilization (0–1).",
	})
)
