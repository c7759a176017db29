package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type IngestMetrics struct {
	registry *prometheus.Registry

	runsTotal    *prometheus.CounterVec
	reviewsTotal *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	runsInFlight prometheus.Gauge
	queueLag     *prometheus.HistogramVec
	indexPoints  *prometheus.GaugeVec
}

func NewIngestMetrics(service string) *IngestMetrics {
	registry := prometheus.NewRegistry()

	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Total ingestion runs by trigger and status.",
		},
		[]string{"service", "trigger", "status"},
	)
	reviewsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "reviews_total",
			Help:      "Reviews seen by ingestion runs by result.",
		},
		[]string{"service", "result"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "run_duration_seconds",
			Help:      "Ingestion run duration in seconds by status.",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"service", "status"},
	)
	runsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "runs_in_flight",
			Help:      "Number of in-flight ingestion runs.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "queue_lag_seconds",
			Help:      "Delay between an ingestion request and the start of its run.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	indexPoints := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "points",
			Help:      "Points in the review vector collection after the last run.",
		},
		[]string{"service", "collection"},
	)

	registry.MustRegister(runsTotal, reviewsTotal, runDuration, runsInFlight, queueLag, indexPoints)

	return &IngestMetrics{
		registry:     registry,
		runsTotal:    runsTotal,
		reviewsTotal: reviewsTotal,
		runDuration:  runDuration,
		runsInFlight: runsInFlight,
		queueLag:     queueLag,
		indexPoints:  indexPoints,
	}
}

func (m *IngestMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *IngestMetrics) StartRun() {
	m.runsInFlight.Inc()
}

// FinishRun records a run. A run that indexed nothing because every batch
// failed counts as an error.
func (m *IngestMetrics) FinishRun(service, trigger string, processed, failed, skipped int, duration time.Duration, err error) {
	m.runsInFlight.Dec()

	status := "success"
	switch {
	case err != nil:
		status = "error"
	case failed > 0 && processed == 0:
		status = "error"
	case failed > 0:
		status = "partial"
	}
	if trigger == "" {
		trigger = "unknown"
	}

	m.runsTotal.WithLabelValues(service, trigger, status).Inc()
	m.runDuration.WithLabelValues(service, status).Observe(duration.Seconds())
	m.reviewsTotal.WithLabelValues(service, "processed").Add(float64(processed))
	m.reviewsTotal.WithLabelValues(service, "failed").Add(float64(failed))
	m.reviewsTotal.WithLabelValues(service, "skipped").Add(float64(skipped))
}

func (m *IngestMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}

func (m *IngestMetrics) SetIndexPoints(service, collection string, points uint64) {
	m.indexPoints.WithLabelValues(service, collection).Set(float64(points))
}
