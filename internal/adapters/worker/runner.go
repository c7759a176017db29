package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/Maheswari-23/EVAssist/internal/core/domain"
	"github.com/Maheswari-23/EVAssist/internal/core/ports"
	"github.com/Maheswari-23/EVAssist/internal/observability/metrics"
)

const (
	TriggerQueue    = "queue"
	TriggerInterval = "interval"
	TriggerStartup  = "startup"

	serviceName = "worker"
)

// Runner drives ingestion runs for the worker process and publishes a report
// after each one.
type Runner struct {
	ingest     ports.IngestionService
	stats      ports.IndexStatsReader
	reports    ports.IngestQueue
	metrics    *metrics.IngestMetrics
	logger     *slog.Logger
	runTimeout time.Duration
	now        func() time.Time
}

type Option func(*Runner)

func WithReports(queue ports.IngestQueue) Option {
	return func(r *Runner) {
		r.reports = queue
	}
}

func WithStats(stats ports.IndexStatsReader) Option {
	return func(r *Runner) {
		r.stats = stats
	}
}

func WithMetrics(m *metrics.IngestMetrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRunTimeout bounds one ingestion run. Zero means no bound.
func WithRunTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		r.runTimeout = timeout
	}
}

func NewRunner(ingest ports.IngestionService, opts ...Option) *Runner {
	r := &Runner{
		ingest:     ingest,
		logger:     slog.Default(),
		runTimeout: 10 * time.Minute,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Run(ctx context.Context, trigger string) (domain.IngestionReport, error) {
	if r.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.runTimeout)
		defer cancel()
	}

	if r.metrics != nil {
		r.metrics.StartRun()
	}
	start := r.now()
	report, err := r.ingest.Ingest(ctx)
	elapsed := r.now().Sub(start)
	if r.metrics != nil {
		r.metrics.FinishRun(serviceName, trigger, report.Processed, report.Failed, report.Skipped, elapsed, err)
	}

	if err != nil {
		r.logger.Error("ingest_run_failed", "trigger", trigger, "error", err)
		return report, err
	}
	r.logger.Info("ingest_run_finished",
		"trigger", trigger,
		"processed", report.Processed,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"duration_ms", elapsed.Milliseconds(),
	)

	r.refreshIndexGauge(ctx)
	if r.reports != nil {
		if err := r.reports.PublishIngestReport(ctx, report); err != nil {
			r.logger.Warn("ingest_report_publish_failed", "trigger", trigger, "error", err)
		}
	}
	return report, nil
}

// HandleRequest is the queue subscription handler.
func (r *Runner) HandleRequest(ctx context.Context, req domain.IngestRequest) error {
	if r.metrics != nil && !req.RequestedAt.IsZero() {
		r.metrics.ObserveQueueLag(serviceName, r.now().Sub(req.RequestedAt))
	}
	r.logger.Info("ingest_request_received", "request_id", req.ID, "reason", req.Reason)
	_, err := r.Run(ctx, TriggerQueue)
	return err
}

// RunEvery triggers a run on each tick until ctx is done.
func (r *Runner) RunEvery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = r.Run(ctx, TriggerInterval)
		}
	}
}

func (r *Runner) refreshIndexGauge(ctx context.Context) {
	if r.stats == nil || r.metrics == nil {
		return
	}
	stats, err := r.stats.Stats(ctx)
	if err != nil {
		r.logger.Warn("index_stats_failed", "error", err)
		return
	}
	r.metrics.SetIndexPoints(serviceName, stats.Collection, stats.Points)
}
