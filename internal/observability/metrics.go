package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	glOperations    *prometheus.CounterVec
	glDuration      *prometheus.HistogramVec
	balanceCache    *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry, metrik HTTP dan metrik buku besar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	glOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_gl_operations_total",
		Help: "Jumlah operasi buku besar berdasarkan operasi dan hasil.",
	}, []string{"operation", "outcome"})
	glDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_gl_operation_duration_seconds",
		Help:    "Durasi operasi buku besar.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	balanceCache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_gl_balance_cache_total",
		Help: "Pembacaan saldo dari cache Redis berdasarkan jenis dan hasil.",
	}, []string{"kind", "result"})
	registry.MustRegister(requests, duration, glOps, glDuration, balanceCache)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		glOperations:    glOps,
		glDuration:      glDuration,
		balanceCache:    balanceCache,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveGL mencatat satu operasi buku besar. outcome kosong berarti sukses.
func (m *Metrics) ObserveGL(operation, outcome string, started time.Time) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "success"
	}
	m.glOperations.WithLabelValues(operation, outcome).Inc()
	m.glDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// ObserveBalanceCache mencatat hasil pencarian cache saldo.
func (m *Metrics) ObserveBalanceCache(kind, result string) {
	if m == nil {
		return
	}
	m.balanceCache.WithLabelValues(kind, result).Inc()
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
