package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jobmetrics "github.com/fieldstock/fieldstock/internal/jobs"
)

// Metrics collects the Prometheus metrics of the service.
type Metrics struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	batchesTotal      *prometheus.CounterVec
	insufficientStock prometheus.Counter
	reversalsTotal    *prometheus.CounterVec
	lowStockEntries   *prometheus.GaugeVec
	jobs              *jobmetrics.Metrics
}

// NewMetrics initialises a private registry with HTTP, domain and job metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldstock_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fieldstock_http_request_duration_seconds",
		Help:    "HTTP request duration by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	batches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldstock_batches_total",
		Help: "Batch commits by kind and outcome.",
	}, []string{"kind", "outcome"})
	insufficient := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fieldstock_insufficient_stock_total",
		Help: "Issuances and postings rejected for insufficient stock.",
	})
	reversals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldstock_batch_reversals_total",
		Help: "Batch deletions by outcome.",
	}, []string{"outcome"})
	lowStock := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fieldstock_low_stock_entries",
		Help: "Catalog entries at or below their threshold at the last scan.",
	}, []string{"company"})
	registry.MustRegister(requests, duration, batches, insufficient, reversals, lowStock)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		batchesTotal:      batches,
		insufficientStock: insufficient,
		reversalsTotal:    reversals,
		lowStockEntries:   lowStock,
		jobs:              jobmetrics.NewMetrics(registry),
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records count and duration of every HTTP request by route pattern.
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

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// Jobs returns the job metrics registered on the same registry.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

// ObserveBatch counts a batch commit attempt.
func (m *Metrics) ObserveBatch(kind, outcome string) {
	if m == nil {
		return
	}
	m.batchesTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveInsufficientStock counts a rejected movement.
func (m *Metrics) ObserveInsufficientStock() {
	if m == nil {
		return
	}
	m.insufficientStock.Inc()
}

// ObserveReversal counts a batch deletion attempt.
func (m *Metrics) ObserveReversal(outcome string) {
	if m == nil {
		return
	}
	m.reversalsTotal.WithLabelValues(outcome).Inc()
}

// SetLowStock records the size of the latest low-stock scan for a company.
func (m *Metrics) SetLowStock(companyID int64, entries int) {
	if m == nil {
		return
	}
	m.lowStockEntries.WithLabelValues(strconv.FormatInt(companyID, 10)).Set(float64(entries))
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
