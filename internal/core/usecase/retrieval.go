package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/Maheswari-23/EVAssist/internal/core/domain"
	"github.com/Maheswari-23/EVAssist/internal/core/ports"
)

var tracer = otel.Tracer("evassist/usecase")

type RetrievalOptions struct {
	TopK              int
	MaxCatalogMatches int
	MaxReviewSnippets int
	Metric            domain.Metric
	SearchParams      domain.SearchParams

	// Parallel runs the structured and semantic branches concurrently.
	// When false a catalog failure is detected before any embedding call.
	Parallel bool
	// SemanticTimeout bounds embed+search+lookup; expiry degrades the request.
	SemanticTimeout time.Duration
}

func DefaultRetrievalOptions() RetrievalOptions {
	return RetrievalOptions{
		TopK:              5,
		MaxCatalogMatches: 5,
		MaxReviewSnippets: 5,
		Metric:            domain.MetricL2,
	}
}

func (o RetrievalOptions) normalize() RetrievalOptions {
	out := o
	def := DefaultRetrievalOptions()
	if out.TopK <= 0 {
		out.TopK = def.TopK
	}
	if out.MaxCatalogMatches <= 0 {
		out.MaxCatalogMatches = def.MaxCatalogMatches
	}
	if out.MaxReviewSnippets <= 0 {
		out.MaxReviewSnippets = def.MaxReviewSnippets
	}
	if out.Metric == "" {
		out.Metric = def.Metric
	}
	return out
}

// HybridRetriever merges structured catalog filtering with semantic review search.
// The structured branch is mandatory; the semantic branch is best effort.
type HybridRetriever struct {
	intents  ports.IntentExtractor
	catalog  ports.CatalogStore
	embedder ports.Embedder
	index    ports.VectorIndex
	opts     RetrievalOptions
	logger   *slog.Logger
}

func NewHybridRetriever(
	intents ports.IntentExtractor,
	catalog ports.CatalogStore,
	embedder ports.Embedder,
	index ports.VectorIndex,
	opts RetrievalOptions,
	logger *slog.Logger,
) *HybridRetriever {
	if intents == nil {
		intents = NewBudgetExtractor()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HybridRetriever{
		intents:  intents,
		catalog:  catalog,
		embedder: embedder,
		index:    index,
		opts:     opts.normalize(),
		logger:   logger,
	}
}

type semanticResult struct {
	snippets []string
	trace    []domain.RetrievalState
	degraded bool
	reason   string
}

func (r *HybridRetriever) Retrieve(ctx context.Context, rawText string) (domain.EvidenceBundle, error) {
	ctx, span := tracer.Start(ctx, "retrieval.hybrid")
	defer span.End()

	trace := []domain.RetrievalState{domain.StateExtractIntent}
	intent := r.intents.Extract(rawText)
	span.SetAttributes(attribute.Bool("intent.price_ceiling", intent.PriceCeiling != nil))

	var (
		items    []domain.CatalogItem
		semantic semanticResult
		err      error
	)
	if r.opts.Parallel {
		items, semantic, err = r.retrieveParallel(ctx, intent)
	} else {
		items, semantic, err = r.retrieveSequential(ctx, intent)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.EvidenceBundle{}, err
	}

	trace = append(trace, domain.StateStructuredRetrieve)
	trace = append(trace, semantic.trace...)
	trace = append(trace, domain.StateAssemble)

	bundle := domain.EvidenceBundle{
		Intent:         intent,
		CatalogMatches: headItems(items, r.opts.MaxCatalogMatches),
		ReviewSnippets: semantic.snippets,
		Degraded:       semantic.degraded,
		DegradedReason: semantic.reason,
	}
	if bundle.ReviewSnippets == nil {
		bundle.ReviewSnippets = []string{}
	}
	bundle.Trace = append(trace, domain.StateDone)

	span.SetAttributes(
		attribute.Int("evidence.catalog_matches", len(bundle.CatalogMatches)),
		attribute.Int("evidence.review_snippets", len(bundle.ReviewSnippets)),
		attribute.Bool("evidence.degraded", bundle.Degraded),
	)
	return bundle, nil
}

func (r *HybridRetriever) retrieveSequential(ctx context.Context, intent domain.QueryIntent) ([]domain.CatalogItem, semanticResult, error) {
	items, err := r.structured(ctx, intent)
	if err != nil {
		return nil, semanticResult{}, err
	}
	return items, r.semantic(ctx, intent.RawText), nil
}

func (r *HybridRetriever) retrieveParallel(ctx context.Context, intent domain.QueryIntent) ([]domain.CatalogItem, semanticResult, error) {
	var (
		items    []domain.CatalogItem
		semantic semanticResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = r.structured(gctx, intent)
		return err
	})
	g.Go(func() error {
		semantic = r.semantic(gctx, intent.RawText)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, semanticResult{}, err
	}
	return items, semantic, nil
}

func (r *HybridRetriever) structured(ctx context.Context, intent domain.QueryIntent) ([]domain.CatalogItem, error) {
	var items []domain.CatalogItem
	err := runStage(ctx, domain.StateStructuredRetrieve, func(ctx context.Context) error {
		var err error
		items, err = r.catalog.QueryByFilter(ctx, intent.Filter())
		if err != nil {
			return domain.WrapError(domain.ErrStoreUnavailable, "structured retrieve", err)
		}
		return nil
	})
	return items, err
}

func (r *HybridRetriever) semantic(ctx context.Context, rawText string) semanticResult {
	if r.opts.SemanticTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.SemanticTimeout)
		defer cancel()
	}

	var res semanticResult

	res.trace = append(res.trace, domain.StateEmbedQuery)
	var vector []float32
	err := runStage(ctx, domain.StateEmbedQuery, func(ctx context.Context) error {
		var err error
		vector, err = r.embedder.EmbedQuery(ctx, rawText)
		if err != nil {
			return domain.WrapError(domain.ErrEmbeddingUnavailable, "embed query", err)
		}
		return nil
	})
	if err != nil {
		return r.degrade(res, domain.StateEmbedQuery, err)
	}

	res.trace = append(res.trace, domain.StateSemanticSearch)
	var hits []domain.ReviewHit
	err = runStage(ctx, domain.StateSemanticSearch, func(ctx context.Context) error {
		var err error
		hits, err = r.index.Search(ctx, domain.SearchQuery{
			Vector: vector,
			K:      r.opts.TopK,
			Metric: r.opts.Metric,
			Params: r.opts.SearchParams,
		})
		if err != nil {
			return domain.WrapError(domain.ErrIndexUnavailable, "semantic search", err)
		}
		return nil
	})
	if err != nil {
		return r.degrade(res, domain.StateSemanticSearch, err)
	}

	res.trace = append(res.trace, domain.StateReviewLookup)
	ids := uniqueReviewIDs(hits)
	if len(ids) == 0 {
		return res
	}
	var reviews []domain.Review
	err = runStage(ctx, domain.StateReviewLookup, func(ctx context.Context) error {
		var err error
		reviews, err = r.catalog.LookupReviews(ctx, ids)
		if err != nil {
			return domain.WrapError(domain.ErrStoreUnavailable, "review lookup", err)
		}
		return nil
	})
	if err != nil {
		return r.degrade(res, domain.StateReviewLookup, err)
	}

	res.snippets = orderSnippets(ids, reviews, r.opts.MaxReviewSnippets)
	return res
}

func (r *HybridRetriever) degrade(res semanticResult, state domain.RetrievalState, err error) semanticResult {
	r.logger.Warn("retrieval_degraded",
		"state", string(state),
		"error", err,
	)
	res.snippets = nil
	res.degraded = true
	res.reason = fmt.Sprintf("%s: %v", state, err)
	res.trace = append(res.trace, domain.StateDegradedNoSemantic)
	return res
}

func runStage(ctx context.Context, state domain.RetrievalState, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "retrieval."+string(state))
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// uniqueReviewIDs keeps the first occurrence of each id in similarity order.
func uniqueReviewIDs(hits []domain.ReviewHit) []int64 {
	seen := make(map[int64]struct{}, len(hits))
	out := make([]int64, 0, len(hits))
	for _, hit := range hits {
		if _, ok := seen[hit.ReviewID]; ok {
			continue
		}
		seen[hit.ReviewID] = struct{}{}
		out = append(out, hit.ReviewID)
	}
	return out
}

func orderSnippets(ids []int64, reviews []domain.Review, limit int) []string {
	byID := make(map[int64]string, len(reviews))
	for _, review := range reviews {
		byID[review.ID] = review.Text
	}

	out := make([]string, 0, min(len(ids), limit))
	for _, id := range ids {
		if len(out) == limit {
			break
		}
		text, ok := byID[id]
		if !ok {
			continue
		}
		out = append(out, text)
	}
	return out
}

func headItems(items []domain.CatalogItem, limit int) []domain.CatalogItem {
	if len(items) <= limit {
		out := make([]domain.CatalogItem, len(items))
		copy(out, items)
		return out
	}
	out := make([]domain.CatalogItem, limit)
	copy(out, items[:limit])
	return out
}
