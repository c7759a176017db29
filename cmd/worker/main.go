package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Maheswari-23/EVAssist/internal/adapters/worker"
	"github.com/Maheswari-23/EVAssist/internal/bootstrap"
	"github.com/Maheswari-23/EVAssist/internal/config"
	"github.com/Maheswari-23/EVAssist/internal/observability/logging"
	"github.com/Maheswari-23/EVAssist/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_error", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(os.Stdout, "worker", cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ingestMetrics := metrics.NewIngestMetrics("worker")
	app, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{RequireQueue: true})
	if err != nil {
		logger.Error("bootstrap_error", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	runner := worker.NewRunner(app.IngestUC,
		worker.WithReports(app.Queue),
		worker.WithStats(app.StatsUC),
		worker.WithMetrics(ingestMetrics),
		worker.WithLogger(logger),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", ingestMetrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":   "ok",
			"breakers": app.Executor.States(),
		})
	})
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("worker_metrics_listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		logger.Info("worker_subscribed", "subject", cfg.NATSIngestSubject, "queue_group", cfg.NATSQueueGroup)
		return app.Queue.SubscribeIngestRequests(gctx, runner.HandleRequest)
	})
	if cfg.IngestOnStart {
		g.Go(func() error {
			_, _ = runner.Run(gctx, worker.TriggerStartup)
			return nil
		})
	}
	if cfg.IngestInterval > 0 {
		g.Go(func() error {
			logger.Info("worker_interval_enabled", "interval", cfg.IngestInterval.String())
			runner.RunEvery(gctx, cfg.IngestInterval)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("worker_error", "error", err)
		app.Close()
		os.Exit(1)
	}
}
