package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// renderBuckets cover the realistic spread of one render: sub-second for
// small crops up to tens of seconds for 4096px blur-pad sources.
var renderBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 45, 90}

type metrics struct {
	registry             *prometheus.Registry
	rendersTotal         *prometheus.CounterVec
	renderDuration       *prometheus.HistogramVec
	activeRenders        prometheus.Gauge
	pixelsProcessedTotal prometheus.Counter
	bytesInTotal         prometheus.Counter
	bytesOutTotal        prometheus.Counter
	computeTimeMSTotal   prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &metrics{
		registry: registry,
		rendersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "story_worker_renders_total",
			Help: "Story renders by layout and final status.",
		}, []string{"layout", "status"}),
		renderDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "story_worker_render_duration_seconds",
			Help:    "Wall time of one render task.",
			Buckets: renderBuckets,
		}, []string{"layout", "status"}),
		activeRenders: factory.NewGauge(prometheus.GaugeOpts{
			Name: "story_worker_active_renders",
			Help: "Renders currently holding a render slot.",
		}),
		pixelsProcessedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "story_usage_pixels_processed_total",
			Help: "Source pixels decoded across successful renders.",
		}),
		bytesInTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "story_usage_bytes_in_total",
			Help: "Source bytes fetched across successful renders.",
		}),
		bytesOutTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "story_usage_bytes_out_total",
			Help: "Rendered bytes written across successful renders.",
		}),
		computeTimeMSTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "story_usage_compute_time_ms_total",
			Help: "Convert stage compute time in milliseconds across successful renders.",
		}),
	}
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
