// ABOUTME: Prometheus instrumentation for the gateway on a private registry
// ABOUTME: Counts spawns, stops, auth failures and HTTP traffic; all methods are nil-safe

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "romulus"

// Result labels.
const (
	ResultOK       = "ok"
	ResultConflict = "conflict"
	ResultError    = "error"
	ResultNotFound = "not_found"
)

// Metrics holds every collector the gateway exports.
type Metrics struct {
	registry *prometheus.Registry

	spawns           *prometheus.CounterVec
	stops            *prometheus.CounterVec
	authFailures     *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	pendingStops     prometheus.Gauge
	reconciles       *prometheus.CounterVec
	provisionLatency *prometheus.HistogramVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New creates collectors registered on a fresh registry, so several gateways
// in one process (tests) never collide.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		spawns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spawns_total",
			Help:      "Spawn attempts by tier and result",
		}, []string{"tier", "result"}),
		stops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stops_total",
			Help:      "Stop attempts by result",
		}, []string{"result"}),
		authFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected wallet authentications by reason",
		}, []string{"reason"}),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently registered",
		}),
		pendingStops: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_stops",
			Help:      "External stops awaiting reconciliation",
		}),
		reconciles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_attempts_total",
			Help:      "Retried external stops by result",
		}, []string{"result"}),
		provisionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provisioner_duration_seconds",
			Help:      "Latency of provisioner calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Spawn counts a spawn attempt.
func (m *Metrics) Spawn(tier, result string) {
	if m == nil {
		return
	}
	m.spawns.WithLabelValues(tier, result).Inc()
}

// Stop counts a stop attempt.
func (m *Metrics) Stop(result string) {
	if m == nil {
		return
	}
	m.stops.WithLabelValues(result).Inc()
}

// AuthFailure counts a rejected authentication.
func (m *Metrics) AuthFailure(reason string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(reason).Inc()
}

// SetActiveSessions records the current session count.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// SetPendingStops records the current pending stop count.
func (m *Metrics) SetPendingStops(n int) {
	if m == nil {
		return
	}
	m.pendingStops.Set(float64(n))
}

// Reconcile counts a retried external stop.
func (m *Metrics) Reconcile(result string) {
	if m == nil {
		return
	}
	m.reconciles.WithLabelValues(result).Inc()
}

// ObserveProvisioner records the latency of a provisioner call.
func (m *Metrics) ObserveProvisioner(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.provisionLatency.WithLabelValues(op).Observe(d.Seconds())
}

// InstrumentHandler wraps h, recording request counts and latency under route.
func (m *Metrics) InstrumentHandler(route string, h http.Handler) http.Handler {
	if m == nil {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(sw, r)
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush lets streaming handlers flush through the instrumentation wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
