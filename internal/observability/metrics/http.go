package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "evassist"

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	ragRequestsTotal   *prometheus.CounterVec
	ragDegradedTotal   *prometheus.CounterVec
	ragCatalogMatches  *prometheus.HistogramVec
	ragReviewSnippets  *prometheus.HistogramVec
	ragDuration        *prometheus.HistogramVec
	upstreamRetries    *prometheus.CounterVec
	breakerTransitions *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	ragRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "requests_total",
			Help:      "Total RAG requests by outcome.",
		},
		[]string{"service", "endpoint", "outcome"},
	)
	ragDegradedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "degraded_total",
			Help:      "Total answers produced without semantic review evidence.",
		},
		[]string{"service", "endpoint"},
	)
	ragCatalogMatches := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "catalog_matches",
			Help:      "Catalog items passed to the model per successful request.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5},
		},
		[]string{"service", "endpoint"},
	)
	ragReviewSnippets := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "review_snippets",
			Help:      "Review snippets passed to the model per successful request.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5},
		},
		[]string{"service", "endpoint"},
	)
	ragDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "duration_seconds",
			Help:      "RAG execution duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"service", "endpoint"},
	)
	upstreamRetries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "retries_total",
			Help:      "Retried upstream calls by operation.",
		},
		[]string{"operation"},
	)
	breakerTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions by operation and target state.",
		},
		[]string{"operation", "state"},
	)

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		requestTotal,
		requestDuration,
		requestInFlight,
		ragRequestsTotal,
		ragDegradedTotal,
		ragCatalogMatches,
		ragReviewSnippets,
		ragDuration,
		upstreamRetries,
		breakerTransitions,
	)

	return &HTTPServerMetrics{
		registry:           registry,
		requestTotal:       requestTotal,
		requestDuration:    requestDuration,
		requestInFlight:    requestInFlight,
		ragRequestsTotal:   ragRequestsTotal,
		ragDegradedTotal:   ragDegradedTotal,
		ragCatalogMatches:  ragCatalogMatches,
		ragReviewSnippets:  ragReviewSnippets,
		ragDuration:        ragDuration,
		upstreamRetries:    upstreamRetries,
		breakerTransitions: breakerTransitions,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath bounds label cardinality to the known routes.
func normalizePath(path string) string {
	switch path {
	case "/", "/chat", "/v1/chat", "/ingest", "/v1/ingest", "/v1/index/stats", "/healthz", "/metrics":
		return path
	default:
		return "other"
	}
}

// RecordRAGObservation records one answered request.
func (m *HTTPServerMetrics) RecordRAGObservation(service, endpoint string, catalogMatches, reviewSnippets int, degraded bool, duration time.Duration) {
	m.ragRequestsTotal.WithLabelValues(service, endpoint, "success").Inc()
	m.ragCatalogMatches.WithLabelValues(service, endpoint).Observe(float64(catalogMatches))
	m.ragReviewSnippets.WithLabelValues(service, endpoint).Observe(float64(reviewSnippets))
	m.ragDuration.WithLabelValues(service, endpoint).Observe(duration.Seconds())
	if degraded {
		m.ragDegradedTotal.WithLabelValues(service, endpoint).Inc()
	}
}

func (m *HTTPServerMetrics) RecordRAGFailure(service, endpoint, kind string, duration time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	m.ragRequestsTotal.WithLabelValues(service, endpoint, kind).Inc()
	m.ragDuration.WithLabelValues(service, endpoint).Observe(duration.Seconds())
}

// RetryAttempted and BreakerStateChanged satisfy resilience.Observer.
func (m *HTTPServerMetrics) RetryAttempted(operation string) {
	m.upstreamRetries.WithLabelValues(operation).Inc()
}

func (m *HTTPServerMetrics) BreakerStateChanged(operation string, to string) {
	m.breakerTransitions.WithLabelValues(operation, to).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
