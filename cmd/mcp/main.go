package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	mcpadapter "github.com/Maheswari-23/EVAssist/internal/adapters/mcp"
	"github.com/Maheswari-23/EVAssist/internal/bootstrap"
	"github.com/Maheswari-23/EVAssist/internal/config"
	"github.com/Maheswari-23/EVAssist/internal/observability/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_error", "error", err)
		os.Exit(1)
	}
	// stdout carries the MCP protocol.
	logger := logging.NewLogger(os.Stderr, "mcp", cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	app, err := bootstrap.New(context.Background(), cfg, logger, bootstrap.Options{DisableQueue: true})
	if err != nil {
		logger.Error("bootstrap_error", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	tools := mcpadapter.NewTools(app.QueryUC, app.IngestUC, logger)
	if err := server.ServeStdio(tools.Server(version)); err != nil {
		logger.Error("mcp_server_error", "error", err)
	}
}
