package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/Maheswari-23/EVAssist/internal/config"
	"github.com/Maheswari-23/EVAssist/internal/core/domain"
	"github.com/Maheswari-23/EVAssist/internal/core/usecase"
	"github.com/Maheswari-23/EVAssist/internal/infrastructure/llm/ollama"
	"github.com/Maheswari-23/EVAssist/internal/infrastructure/queue/nats"
	"github.com/Maheswari-23/EVAssist/internal/infrastructure/repository/postgres"
	"github.com/Maheswari-23/EVAssist/internal/infrastructure/resilience"
	"github.com/Maheswari-23/EVAssist/internal/infrastructure/vector/qdrant"
)

type Options struct {
	// RequireQueue makes a NATS connection failure fatal. Otherwise the app
	// starts without a queue and async ingestion is unavailable.
	RequireQueue bool
	// DisableQueue skips NATS entirely.
	DisableQueue bool
	Observer     resilience.Observer
}

type App struct {
	Config config.Config
	Logger *slog.Logger

	Catalog  *postgres.CatalogRepository
	Index    *qdrant.Store
	Ollama   *ollama.Client
	Queue    *nats.Queue
	Executor *resilience.Executor

	QueryUC  *usecase.QueryUseCase
	IngestUC *usecase.IngestReviewsUseCase
	StatsUC  *usecase.IndexStatsUseCase

	closers []func() error
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	app := &App{Config: cfg, Logger: logger}

	executorOpts := []resilience.Option{resilience.WithLogger(logger)}
	if opts.Observer != nil {
		executorOpts = append(executorOpts, resilience.WithObserver(opts.Observer))
	}
	app.Executor = resilience.NewExecutor(cfg.Resilience(), executorOpts...)

	db, err := postgres.OpenDBWithOptions(cfg.PostgresDSN, postgres.PoolOptions{MaxOpenConns: cfg.PostgresMaxOpenConns})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.addCloser(db.Close)
	app.Catalog = postgres.NewCatalogRepository(db)
	if cfg.PostgresEnsureSchema {
		if err := app.Catalog.EnsureSchema(ctx); err != nil {
			app.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}

	index, err := qdrant.Dial(cfg.QdrantAddr, cfg.QdrantCollection, qdrant.WithExecutor(app.Executor))
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init vector index: %w", err)
	}
	app.addCloser(index.Close)
	app.Index = index

	app.Ollama = ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel,
		ollama.WithHTTPClient(&http.Client{Timeout: cfg.OllamaTimeout}),
		ollama.WithExecutor(app.Executor),
	)
	embedder := ollama.NewEmbedder(app.Ollama, cfg.EmbeddingDimension)
	generator := ollama.NewGenerator(app.Ollama)

	if !opts.DisableQueue {
		queue, err := nats.NewWithOptions(cfg.NATSURL, nats.Options{
			ResilienceExecutor: app.Executor,
			RequestSubject:     cfg.NATSIngestSubject,
			ReportSubject:      cfg.NATSReportSubject,
			QueueGroup:         cfg.NATSQueueGroup,
			Logger:             logger,
		})
		switch {
		case err == nil:
			app.Queue = queue
			app.addCloser(func() error {
				queue.Close()
				return nil
			})
		case opts.RequireQueue:
			app.Close()
			return nil, fmt.Errorf("init message queue: %w", err)
		default:
			logger.Warn("nats_unavailable", "url", cfg.NATSURL, "error", err)
		}
	}

	collection := app.CollectionSpec()
	collection.Name = index.Collection()
	// The API keeps serving catalog-only answers when the index is down at startup.
	if err := index.EnsureCollection(ctx, collection); err != nil {
		logger.Warn("vector_collection_not_ready",
			"collection", collection.Name,
			"error", err,
		)
	}

	retriever := usecase.NewHybridRetriever(
		usecase.NewBudgetExtractor(),
		app.Catalog,
		embedder,
		index,
		usecase.RetrievalOptions{
			TopK:              cfg.RAGTopK,
			MaxCatalogMatches: cfg.RAGMaxCatalogMatches,
			MaxReviewSnippets: cfg.RAGMaxReviewSnippets,
			Metric:            cfg.Metric(),
			SearchParams:      cfg.SearchParams(),
			Parallel:          cfg.RAGParallelRetrieval,
			SemanticTimeout:   cfg.RAGSemanticTimeout,
		},
		logger,
	)
	app.QueryUC = usecase.NewQueryUseCase(retriever, usecase.NewAnswerSynthesizer(generator))
	app.IngestUC = usecase.NewIngestReviewsUseCase(app.Catalog, embedder, index, usecase.IngestOptions{
		Collection:  collection,
		BatchSize:   cfg.IngestBatchSize,
		Concurrency: cfg.IngestConcurrency,
	}, logger)
	app.StatsUC = usecase.NewIndexStatsUseCase(index, index.Collection())

	return app, nil
}

func (a *App) CollectionSpec() domain.CollectionSpec {
	return domain.CollectionSpec{
		Name:      a.Config.QdrantCollection,
		Dimension: a.Config.EmbeddingDimension,
		Metric:    a.Config.Metric(),
		Index:     a.Config.IndexParams(),
	}
}

// CheckUpstreams reports which collaborators are reachable right now.
func (a *App) CheckUpstreams(ctx context.Context) error {
	var errs []error
	if err := a.Catalog.Ping(ctx); err != nil {
		errs = append(errs, fmt.Errorf("postgres: %w", err))
	}
	if _, err := a.Index.Count(ctx); err != nil {
		errs = append(errs, fmt.Errorf("qdrant: %w", err))
	}
	if err := a.Ollama.Ping(ctx); err != nil {
		errs = append(errs, fmt.Errorf("ollama: %w", err))
	}
	return errors.Join(errs...)
}

func (a *App) addCloser(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases collaborators in reverse construction order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("close_failed", "error", err)
		}
	}
	a.closers = nil
}
