package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	unmatched = "unmatched"

	// eventsRoute is the pattern of the SSE endpoint. Streams stay open for
	// the life of a plan, so they are measured by the stream instruments
	// instead of the request duration histogram.
	eventsRoute = "/v1/plans/{id}/events"
)

// httpMetrics holds the instruments of one Server. Each server registers them
// on its own registry; /metrics serves that registry together with the
// process-wide default one carrying the engine metrics.
type httpMetrics struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	eventStreams prometheus.Gauge
	eventsSent   *prometheus.CounterVec
}

func newHTTPMetrics() *httpMetrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &httpMetrics{
		registry: reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stepwise_http_requests_total",
			Help: "Total number of HTTP requests, by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stepwise_http_request_duration_seconds",
			Help:    "Duration of HTTP requests other than event streams, in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		eventStreams: f.NewGauge(prometheus.GaugeOpts{
			Name: "stepwise_event_streams",
			Help: "Number of open plan event streams.",
		}),
		eventsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stepwise_events_sent_total",
			Help: "Total number of plan events written to event streams, by event type.",
		}, []string{"type"}),
	}
}

// middleware counts every request by its chi route pattern, which keeps label
// cardinality bounded by the route table.
func (m *httpMetrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		if route != eventsRoute {
			m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		}
	})
}

func (m *httpMetrics) handler() http.Handler {
	return promhttp.HandlerFor(
		prometheus.Gatherers{prometheus.DefaultGatherer, m.registry},
		promhttp.HandlerOpts{},
	)
}

// routePattern extracts the matched chi route pattern, falling back to "unmatched".
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}
