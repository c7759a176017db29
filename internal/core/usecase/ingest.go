package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/Maheswari-23/EVAssist/internal/core/domain"
	"github.com/Maheswari-23/EVAssist/internal/core/ports"
)

const (
	defaultIngestBatchSize   = 32
	defaultIngestConcurrency = 2
)

type IngestOptions struct {
	Collection  domain.CollectionSpec
	BatchSize   int
	Concurrency int
}

func (o IngestOptions) normalize() IngestOptions {
	out := o
	if out.BatchSize <= 0 {
		out.BatchSize = defaultIngestBatchSize
	}
	if out.Concurrency <= 0 {
		out.Concurrency = defaultIngestConcurrency
	}
	return out
}

// IngestReviewsUseCase re-indexes every review in the catalog store.
// Runs are serialized; a failed batch is counted and skipped.
type IngestReviewsUseCase struct {
	catalog  ports.CatalogStore
	embedder ports.Embedder
	index    ports.VectorIndex
	opts     IngestOptions
	logger   *slog.Logger
	now      func() time.Time

	runMu sync.Mutex
}

func NewIngestReviewsUseCase(
	catalog ports.CatalogStore,
	embedder ports.Embedder,
	index ports.VectorIndex,
	opts IngestOptions,
	logger *slog.Logger,
) *IngestReviewsUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestReviewsUseCase{
		catalog:  catalog,
		embedder: embedder,
		index:    index,
		opts:     opts.normalize(),
		logger:   logger,
		now:      time.Now,
	}
}

func (uc *IngestReviewsUseCase) Ingest(ctx context.Context) (domain.IngestionReport, error) {
	uc.runMu.Lock()
	defer uc.runMu.Unlock()

	ctx, span := tracer.Start(ctx, "ingest.run")
	defer span.End()

	report := domain.IngestionReport{StartedAt: uc.now().UTC()}
	finish := func(err error) (domain.IngestionReport, error) {
		report.Duration = uc.now().Sub(report.StartedAt)
		span.SetAttributes(
			attribute.Int("ingest.processed", report.Processed),
			attribute.Int("ingest.failed", report.Failed),
			attribute.Int("ingest.skipped", report.Skipped),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return report, err
	}

	if err := uc.index.EnsureCollection(ctx, uc.opts.Collection); err != nil {
		return finish(domain.WrapError(domain.ErrIndexUnavailable, "ensure collection", err))
	}

	reviews, err := uc.catalog.ListReviews(ctx)
	if err != nil {
		return finish(domain.WrapError(domain.ErrStoreUnavailable, "list reviews", err))
	}

	indexable := make([]domain.Review, 0, len(reviews))
	for _, review := range reviews {
		if strings.TrimSpace(review.Text) == "" {
			report.Skipped++
			continue
		}
		indexable = append(indexable, review)
	}

	batches := splitReviewBatches(indexable, uc.opts.BatchSize)
	report.Batches = len(batches)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(uc.opts.Concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			err := uc.indexBatch(ctx, i, batch)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed += len(batch)
				report.FailedBatches++
				uc.logger.Warn("ingest_batch_failed",
					"batch", i,
					"size", len(batch),
					"first_review_id", batch[0].ID,
					"last_review_id", batch[len(batch)-1].ID,
					"error", err,
				)
				return nil
			}
			report.Processed += len(batch)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return finish(fmt.Errorf("ingest interrupted: %w", err))
	}

	uc.logger.Info("ingest_completed",
		"processed", report.Processed,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"batches", report.Batches,
		"failed_batches", report.FailedBatches,
	)
	return finish(nil)
}

func (uc *IngestReviewsUseCase) indexBatch(ctx context.Context, n int, batch []domain.Review) error {
	ctx, span := tracer.Start(ctx, "ingest.batch")
	defer span.End()
	span.SetAttributes(
		attribute.Int("ingest.batch", n),
		attribute.Int("ingest.batch_size", len(batch)),
	)

	if err := ctx.Err(); err != nil {
		return err
	}

	texts := make([]string, len(batch))
	for i, review := range batch {
		texts[i] = review.Text
	}

	vectors, err := uc.embedder.Embed(ctx, texts)
	if err != nil {
		span.RecordError(err)
		return domain.WrapError(domain.ErrEmbeddingUnavailable, "embed reviews", err)
	}
	if len(vectors) != len(batch) {
		err := fmt.Errorf("embedding count mismatch: got %d want %d", len(vectors), len(batch))
		span.RecordError(err)
		return domain.WrapError(domain.ErrEmbeddingUnavailable, "embed reviews", err)
	}

	records := make([]domain.VectorRecord, len(batch))
	for i, review := range batch {
		records[i] = domain.VectorRecord{
			ReviewID:  review.ID,
			ItemID:    review.ItemID,
			Embedding: vectors[i],
		}
	}
	if err := uc.index.Upsert(ctx, records); err != nil {
		span.RecordError(err)
		return domain.WrapError(domain.ErrIndexUnavailable, "upsert vectors", err)
	}
	return nil
}

func splitReviewBatches(reviews []domain.Review, size int) [][]domain.Review {
	if len(reviews) == 0 {
		return nil
	}
	out := make([][]domain.Review, 0, (len(reviews)+size-1)/size)
	for start := 0; start < len(reviews); start += size {
		end := min(start+size, len(reviews))
		out = append(out, reviews[start:end])
	}
	return out
}
