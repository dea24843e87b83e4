package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"method", "route", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "collab",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	httpInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "collab",
		Name:      "http_in_flight_requests",
		Help:      "Current number of in-flight HTTP requests",
	})

	activeRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "collab",
		Name:      "active_rooms",
		Help:      "Rooms with at least one joined connection",
	})

	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "collab",
		Name:      "active_connections",
		Help:      "Open websocket connections",
	})

	socketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab",
		Name:      "socket_events_total",
		Help:      "Inbound room protocol events by outcome",
	}, []string{"event", "outcome"})

	broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab",
		Name:      "broadcasts_total",
		Help:      "Frames fanned out to room members",
	}, []string{"event"})

	executions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab",
		Name:      "executions_total",
		Help:      "Code execution requests by language and outcome",
	}, []string{"language", "outcome"})

	executionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "collab",
		Name:      "execution_duration_seconds",
		Help:      "Round-trip time of sandbox executions",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"language"})
)

func RoomOpened()       { activeRooms.Inc() }
func RoomClosed()       { activeRooms.Dec() }
func ConnectionOpened() { activeConnections.Inc() }
func ConnectionClosed() { activeConnections.Dec() }

func SocketEvent(event, outcome string) { socketEvents.WithLabelValues(event, outcome).Inc() }

func Broadcast(event string, recipients int) {
	broadcasts.WithLabelValues(event).Add(float64(recipients))
}

func Execution(language, outcome string, elapsed time.Duration) {
	executions.WithLabelValues(language, outcome).Inc()
	executionLatency.WithLabelValues(language).Observe(elapsed.Seconds())
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack is required for the websocket upgrade to pass through the middleware.
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("collab metrics: underlying ResponseWriter does not support hijacking")
}

// Middleware records request metrics labelled by the matched chi route
// pattern, so path parameters do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := strconv.Itoa(rec.status)
		httpRequests.WithLabelValues(r.Method, route, status).Inc()
		httpLatency.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the default Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
