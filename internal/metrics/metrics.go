package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tribecal_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tribecal_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	backendRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tribecal_backend_requests_total",
		Help: "Requests sent to the tribe backend, by operation and status.",
	}, []string{"operation", "status"})

	backendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tribecal_backend_latency_seconds",
		Help:    "Histogram of tribe backend request latencies.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tribecal_fetch_window_loads_total",
		Help: "Fetch window loads by view and outcome.",
	}, []string{"view", "outcome"})

	rsvpTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tribecal_rsvp_total",
		Help: "RSVP transitions by response and outcome.",
	}, []string{"response", "outcome"})
)

// Middleware records request metrics labelled by chi route pattern.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := routePattern(r)
			httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveBackend records one backend call. status 0 means a transport error.
func ObserveBackend(operation string, status int, start time.Time) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	backendRequestsTotal.WithLabelValues(operation, label).Inc()
	backendLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func ObserveFetch(view, outcome string) {
	fetchesTotal.WithLabelValues(view, outcome).Inc()
}

func ObserveRSVP(response, outcome string) {
	rsvpTotal.WithLabelValues(response, outcome).Inc()
}

func routePattern(r *http.Request) string {
	// The pattern is complete only after the router has matched.
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
