package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Counter: how each lookup was resolved (exact | approximate | miss | empty).
	LookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dicetables_lookups_total",
			Help: "Cache lookups by how the base table was found.",
		},
		[]string{"result"},
	)

	TablesPersistedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dicetables_tables_persisted_total",
			Help: "Tables written to the store by the background writer.",
		},
	)

	// Counter: tables the writer skipped (identity | exists).
	PersistSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dicetables_persist_skipped_total",
			Help: "Tables the background writer did not write, by reason.",
		},
		[]string{"reason"},
	)

	PersistFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dicetables_persist_failures_total",
			Help: "Background writes that failed and were dropped.",
		},
	)

	PersistDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dicetables_persist_dropped_total",
			Help: "Save lists dropped because the write queue was full.",
		},
	)

	BuilderStepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dicetables_builder_steps_total",
			Help: "Intermediate tables produced by the incremental builder.",
		},
	)

	ProcessSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dicetables_process_seconds",
			Help:    "Time to answer a request, excluding background writes.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
	)

	// Histogram: store operation latency by backend and operation.
	StoreOpSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dicetables_store_op_seconds",
			Help:    "Store adapter operation latency in seconds.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"backend", "op"},
	)

	// Histogram: HTTP latency by route pattern.
	HTTPLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dicetables_http_latency_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"path", "method", "status_code"},
	)

	registerOnce sync.Once
)

// Register is called once in main() to register metrics. Later calls are
// no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			LookupsTotal,
			TablesPersistedTotal,
			PersistSkippedTotal,
			PersistFailuresTotal,
			PersistDroppedTotal,
			BuilderStepsTotal,
			ProcessSeconds,
			StoreOpSeconds,
			HTTPLatencySeconds,
		)
	})
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures latency for each HTTP request. Paths are
// labelled by route pattern so ids do not explode the label set.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// capture status code
		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		duration := time.Since(start).Seconds()

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		method := r.Method
		status := strconv.Itoa(rec.statusCode)

		HTTPLatencySeconds.
			WithLabelValues(path, method, status).
			Observe(duration)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
