package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	httpadapter "github.com/Maheswari-23/EVAssist/internal/adapters/http"
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
	logger := logging.NewLogger(os.Stdout, "api", cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	app, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{Observer: httpMetrics})
	if err != nil {
		logger.Error("bootstrap_error", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := app.CheckUpstreams(ctx); err != nil {
		logger.Warn("upstream_check_failed", "error", err)
	}

	routerOpts := []httpadapter.RouterOption{
		httpadapter.WithMetrics(httpMetrics),
		httpadapter.WithLogger(logger),
	}
	if app.Queue != nil {
		routerOpts = append(routerOpts, httpadapter.WithIngestQueue(app.Queue))
	}
	router := httpadapter.NewRouter(cfg, app.QueryUC, app.IngestUC, app.StatsUC, routerOpts...).Handler()

	writeTimeout := 60 * time.Second
	if cfg.APIRequestTimeout > 0 {
		writeTimeout = cfg.APIRequestTimeout + 5*time.Second
	}
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		logger.Error("api_listen_error", "addr", server.Addr, "error", err)
		os.Exit(1)
	}
	if cfg.APIMaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.APIMaxConnections)
	}

	go func() {
		logger.Info("api_listening", "addr", server.Addr, "max_connections", cfg.APIMaxConnections)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api_shutdown_error", "error", err)
	}
}
