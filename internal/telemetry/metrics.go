package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tjfontaine/autonom-console/internal/workflow"
)

// Metrics records console metrics on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	pollTicks       *prometheus.CounterVec
	pollDuration    *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	actions         *prometheus.CounterVec
	streamEvents    *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	statusListeners prometheus.Gauge
}

// NewMetrics creates the console metrics, including Go runtime and process
// collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		pollTicks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autonom_poll_ticks_total",
				Help: "Polling ticks by loop and result",
			},
			[]string{"loop", "result"},
		),
		pollDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autonom_poll_duration_seconds",
				Help:    "Duration of polling ticks in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"loop"},
		),
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autonom_workflow_transitions_total",
				Help: "Observed workflow status transitions",
			},
			[]string{"from", "to"},
		),
		actions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autonom_user_actions_total",
				Help: "User actions by name and result",
			},
			[]string{"action", "result"},
		),
		streamEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autonom_stream_events_total",
				Help: "Streamed backend events by type",
			},
			[]string{"type"},
		),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autonom_http_requests_total",
				Help: "Console HTTP requests by method, route and status code",
			},
			[]string{"method", "route", "code"},
		),
		httpDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autonom_http_request_duration_seconds",
				Help:    "Console HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		statusListeners: f.NewGauge(prometheus.GaugeOpts{
			Name: "autonom_status_stream_listeners",
			Help: "Open status stream connections",
		}),
	}
}

// ObserveTick records one polling tick.
func (m *Metrics) ObserveTick(loop string, d time.Duration, err error) {
	m.pollTicks.WithLabelValues(loop, result(err)).Inc()
	m.pollDuration.WithLabelValues(loop).Observe(d.Seconds())
}

// ObserveTransition records an observed workflow status change.
func (m *Metrics) ObserveTransition(from, to workflow.Status) {
	m.transitions.WithLabelValues(label(from), label(to)).Inc()
}

// ObserveAction records a user action such as plan or feedback.
func (m *Metrics) ObserveAction(action string, err error) {
	m.actions.WithLabelValues(action, result(err)).Inc()
}

// ObserveStreamEvent counts one streamed backend event.
func (m *Metrics) ObserveStreamEvent(eventType string) {
	m.streamEvents.WithLabelValues(eventType).Inc()
}

// StreamOpened counts a new status stream connection.
func (m *Metrics) StreamOpened() { m.statusListeners.Inc() }

// StreamClosed releases a status stream connection.
func (m *Metrics) StreamClosed() { m.statusListeners.Dec() }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latency labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(code)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func label(s workflow.Status) string {
	if s == "" {
		return "none"
	}
	return string(s)
}
