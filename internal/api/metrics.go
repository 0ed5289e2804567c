package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// requestBuckets stretch further than the prometheus defaults because
// POST /v1/convert renders synchronously and can legitimately take seconds.
var requestBuckets = []float64{0.005, 0.02, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	queueEnqueued     *prometheus.CounterVec
	conversionsTotal  *prometheus.CounterVec
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
		requestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "story_api_requests_total",
			Help: "HTTP requests handled, by method, route, and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "story_api_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: requestBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "story_api_rate_limit_rejections_total",
			Help: "Requests rejected because the subject ran out of tokens.",
		}, []string{"route"}),
		queueEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "story_queue_stories_enqueued_total",
			Help: "Stories handed to the render queue.",
		}, []string{"queue"}),
		conversionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "story_api_conversions_total",
			Help: "Synchronous conversions by layout and outcome.",
		}, []string{"layout", "outcome"}),
	}
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		tap := &statusTap{ResponseWriter: w}
		next.ServeHTTP(tap, r)

		labels := []string{r.Method, routeLabel(r.URL.Path), strconv.Itoa(tap.Status())}
		m.requestTotal.WithLabelValues(labels...).Inc()
		m.requestDuration.WithLabelValues(labels...).Observe(time.Since(started).Seconds())
	})
}

// routePatterns maps known path shapes onto low-cardinality metric labels.
// More specific shapes come first.
var routePatterns = []struct {
	prefix string
	suffix string
	label  string
}{
	{"/v1/stories/", "/start", "/v1/stories/{id}/start"},
	{"/v1/stories/", "/download", "/v1/stories/{id}/download"},
	{"/v1/stories/", "", "/v1/stories/{id}"},
	{"/v1/stories", "", "/v1/stories"},
	{"/v1/convert", "", "/v1/convert"},
	{"/healthz", "", "/healthz"},
	{"/metrics", "", "/metrics"},
}

func routeLabel(path string) string {
	for _, p := range routePatterns {
		if strings.HasPrefix(path, p.prefix) && strings.HasSuffix(path, p.suffix) {
			return p.label
		}
	}
	return path
}

type statusTap struct {
	http.ResponseWriter
	code int
}

func (t *statusTap) WriteHeader(code int) {
	t.code = code
	t.ResponseWriter.WriteHeader(code)
}

func (t *statusTap) Status() int {
	if t.code == 0 {
		return http.StatusOK
	}
	return t.code
}
