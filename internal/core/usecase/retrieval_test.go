package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/Maheswari-23/EVAssist/internal/core/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRetriever(catalog *catalogFake, embedder *embedderFake, index *indexFake, opts RetrievalOptions) *HybridRetriever {
	return NewHybridRetriever(NewBudgetExtractor(), catalog, embedder, index, opts, discardLogger())
}

func TestHybridRetrieverFiltersByBudgetAndOrdersSnippets(t *testing.T) {
	catalog := sampleCatalog()
	embedder := &embedderFake{}
	index := newIndexFake()
	index.hits = []domain.ReviewHit{
		{ReviewID: 13, ItemID: 4, Score: 0.1},
		{ReviewID: 10, ItemID: 1, Score: 0.2},
		{ReviewID: 12, ItemID: 3, Score: 0.3},
	}

	retriever := newTestRetriever(catalog, embedder, index, DefaultRetrievalOptions())
	bundle, err := retriever.Retrieve(context.Background(), "Best EV under 40 lakhs")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}

	if bundle.Intent.PriceCeiling == nil || *bundle.Intent.PriceCeiling != 4000000 {
		t.Fatalf("PriceCeiling = %v, want 4000000", bundle.Intent.PriceCeiling)
	}
	if len(bundle.CatalogMatches) != 4 {
		t.Fatalf("expected 4 catalog matches, got %d", len(bundle.CatalogMatches))
	}
	for _, item := range bundle.CatalogMatches {
		if item.Price > 4000000 {
			t.Fatalf("catalog match %q exceeds ceiling: %d", item.Model, item.Price)
		}
	}

	wantSnippets := []string{
		"Best family EV under 40 lakhs.",
		"Great city car with cheap running costs.",
		"Battery range holds up in summer.",
	}
	if !reflect.DeepEqual(bundle.ReviewSnippets, wantSnippets) {
		t.Fatalf("ReviewSnippets = %#v, want %#v", bundle.ReviewSnippets, wantSnippets)
	}
	if bundle.Degraded {
		t.Fatalf("expected non-degraded bundle, reason=%q", bundle.DegradedReason)
	}

	wantTrace := []domain.RetrievalState{
		domain.StateExtractIntent,
		domain.StateStructuredRetrieve,
		domain.StateEmbedQuery,
		domain.StateSemanticSearch,
		domain.StateReviewLookup,
		domain.StateAssemble,
		domain.StateDone,
	}
	if !reflect.DeepEqual(bundle.Trace, wantTrace) {
		t.Fatalf("Trace = %v, want %v", bundle.Trace, wantTrace)
	}
	if index.lastQuery.K != 5 || index.lastQuery.Metric != domain.MetricL2 {
		t.Fatalf("unexpected search query: %+v", index.lastQuery)
	}
}

func TestHybridRetrieverWithoutBudgetQueriesWholeCatalog(t *testing.T) {
	catalog := sampleCatalog()
	index := newIndexFake()
	index.hits = []domain.ReviewHit{{ReviewID: 11, ItemID: 2, Score: 0.05}}

	embedder := &embedderFake{}
	retriever := newTestRetriever(catalog, embedder, index, DefaultRetrievalOptions())
	bundle, err := retriever.Retrieve(context.Background(), "Best EV for highway driving")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}

	if len(embedder.queries) != 1 || embedder.queries[0] != "Best EV for highway driving" {
		t.Fatalf("expected the whole query to be embedded once, got %#v", embedder.queries)
	}
	if index.searchCalls != 1 {
		t.Fatalf("expected one index search, got %d", index.searchCalls)
	}

	if len(catalog.filters) != 1 || !catalog.filters[0].IsEmpty() {
		t.Fatalf("expected one unfiltered catalog query, got %+v", catalog.filters)
	}
	if len(bundle.CatalogMatches) != 5 {
		t.Fatalf("expected 5 catalog matches, got %d", len(bundle.CatalogMatches))
	}
	if len(bundle.ReviewSnippets) != 1 || bundle.ReviewSnippets[0] != "Comfortable highway cruiser." {
		t.Fatalf("unexpected snippets: %#v", bundle.ReviewSnippets)
	}
}

func TestHybridRetrieverCapsCatalogMatches(t *testing.T) {
	catalog := sampleCatalog()
	for i := int64(100); i < 110; i++ {
		catalog.items = append(catalog.items, domain.CatalogItem{ID: i, Model: "Filler", Price: 100000, RangeKm: 100})
	}

	retriever := newTestRetriever(catalog, &embedderFake{}, newIndexFake(), DefaultRetrievalOptions())
	bundle, err := retriever.Retrieve(context.Background(), "any EV")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(bundle.CatalogMatches) != 5 {
		t.Fatalf("expected catalog matches capped at 5, got %d", len(bundle.CatalogMatches))
	}
	if bundle.CatalogMatches[0].ID != 1 {
		t.Fatalf("expected store order preserved, first id = %d", bundle.CatalogMatches[0].ID)
	}
}

func TestHybridRetrieverDeduplicatesReviewIDs(t *testing.T) {
	catalog := sampleCatalog()
	index := newIndexFake()
	index.hits = []domain.ReviewHit{
		{ReviewID: 12, Score: 0.1},
		{ReviewID: 12, Score: 0.1},
		{ReviewID: 10, Score: 0.2},
		{ReviewID: 12, Score: 0.3},
		{ReviewID: 99, Score: 0.4},
	}

	retriever := newTestRetriever(catalog, &embedderFake{}, index, DefaultRetrievalOptions())
	bundle, err := retriever.Retrieve(context.Background(), "summer range")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}

	if got := catalog.lookupArgs[0]; !reflect.DeepEqual(got, []int64{12, 10, 99}) {
		t.Fatalf("lookup ids = %v, want [12 10 99]", got)
	}
	want := []string{"Battery range holds up in summer.", "Great city car with cheap running costs."}
	if !reflect.DeepEqual(bundle.ReviewSnippets, want) {
		t.Fatalf("ReviewSnippets = %#v, want %#v", bundle.ReviewSnippets, want)
	}
}

func TestHybridRetrieverCapsReviewSnippets(t *testing.T) {
	catalog := sampleCatalog()
	for i := int64(20); i < 30; i++ {
		catalog.reviews = append(catalog.reviews, domain.Review{ID: i, ItemID: 1, Text: "filler review"})
	}
	index := newIndexFake()
	for i := int64(20); i < 30; i++ {
		index.hits = append(index.hits, domain.ReviewHit{ReviewID: i})
	}

	opts := DefaultRetrievalOptions()
	opts.TopK = 10
	retriever := newTestRetriever(catalog, &embedderFake{}, index, opts)
	bundle, err := retriever.Retrieve(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(bundle.ReviewSnippets) != 5 {
		t.Fatalf("expected snippets capped at 5, got %d", len(bundle.ReviewSnippets))
	}
}

func TestHybridRetrieverDegradesWhenEmbeddingFails(t *testing.T) {
	catalog := sampleCatalog()
	embedder := &embedderFake{queryErr: errors.New("ollama down")}
	index := newIndexFake()

	retriever := newTestRetriever(catalog, embedder, index, DefaultRetrievalOptions())
	bundle, err := retriever.Retrieve(context.Background(), "Best EV under 40 lakhs")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}

	if !bundle.Degraded {
		t.Fatalf("expected degraded bundle")
	}
	if len(bundle.CatalogMatches) != 4 {
		t.Fatalf("expected catalog evidence kept, got %d matches", len(bundle.CatalogMatches))
	}
	if len(bundle.ReviewSnippets) != 0 {
		t.Fatalf("expected no snippets, got %#v", bundle.ReviewSnippets)
	}
	if index.searchCalls != 0 {
		t.Fatalf("expected no search after embedding failure, got %d", index.searchCalls)
	}
	wantTrace := []domain.RetrievalState{
		domain.StateExtractIntent,
		domain.StateStructuredRetrieve,
		domain.StateEmbedQuery,
		domain.StateDegradedNoSemantic,
		domain.StateAssemble,
		domain.StateDone,
	}
	if !reflect.DeepEqual(bundle.Trace, wantTrace) {
		t.Fatalf("Trace = %v, want %v", bundle.Trace, wantTrace)
	}
}

func TestHybridRetrieverDegradesWhenSearchOrLookupFails(t *testing.T) {
	t.Run("search", func(t *testing.T) {
		index := newIndexFake()
		index.searchErr = errors.New("qdrant unreachable")
		retriever := newTestRetriever(sampleCatalog(), &embedderFake{}, index, DefaultRetrievalOptions())

		bundle, err := retriever.Retrieve(context.Background(), "highway")
		if err != nil {
			t.Fatalf("Retrieve() error = %v", err)
		}
		if !bundle.Degraded || len(bundle.ReviewSnippets) != 0 || len(bundle.CatalogMatches) == 0 {
			t.Fatalf("unexpected bundle: %+v", bundle)
		}
	})

	t.Run("lookup", func(t *testing.T) {
		catalog := sampleCatalog()
		catalog.lookupErr = errors.New("connection reset")
		index := newIndexFake()
		index.hits = []domain.ReviewHit{{ReviewID: 10}}
		retriever := newTestRetriever(catalog, &embedderFake{}, index, DefaultRetrievalOptions())

		bundle, err := retriever.Retrieve(context.Background(), "city")
		if err != nil {
			t.Fatalf("Retrieve() error = %v", err)
		}
		if !bundle.Degraded || len(bundle.ReviewSnippets) != 0 {
			t.Fatalf("unexpected bundle: %+v", bundle)
		}
	})
}

func TestHybridRetrieverStoreFailureIsFatal(t *testing.T) {
	catalog := sampleCatalog()
	catalog.queryErr = errors.New("dial tcp: connection refused")
	embedder := &embedderFake{}

	retriever := newTestRetriever(catalog, embedder, newIndexFake(), DefaultRetrievalOptions())
	_, err := retriever.Retrieve(context.Background(), "Best EV under 40 lakhs")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if embedder.queryCalls != 0 {
		t.Fatalf("expected no embedding call, got %d", embedder.queryCalls)
	}
}

func TestHybridRetrieverParallelMatchesSequential(t *testing.T) {
	catalog := sampleCatalog()
	index := newIndexFake()
	index.hits = []domain.ReviewHit{{ReviewID: 14}, {ReviewID: 11}}

	opts := DefaultRetrievalOptions()
	opts.Parallel = true
	retriever := newTestRetriever(catalog, &embedderFake{}, index, opts)

	bundle, err := retriever.Retrieve(context.Background(), "fast charging under 70 lakhs")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(bundle.CatalogMatches) != 5 {
		t.Fatalf("expected 5 matches, got %d", len(bundle.CatalogMatches))
	}
	want := []string{"Fast charging is excellent.", "Comfortable highway cruiser."}
	if !reflect.DeepEqual(bundle.ReviewSnippets, want) {
		t.Fatalf("ReviewSnippets = %#v, want %#v", bundle.ReviewSnippets, want)
	}

	catalog.queryErr = errors.New("down")
	if _, err := retriever.Retrieve(context.Background(), "anything"); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable in parallel mode, got %v", err)
	}
}

type slowEmbedder struct {
	embedderFake
}

func (s *slowEmbedder) EmbedQuery(ctx context.Context, _ string) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestHybridRetrieverSemanticTimeoutDegrades(t *testing.T) {
	opts := DefaultRetrievalOptions()
	opts.SemanticTimeout = 20 * time.Millisecond
	retriever := NewHybridRetriever(nil, sampleCatalog(), &slowEmbedder{}, newIndexFake(), opts, discardLogger())

	bundle, err := retriever.Retrieve(context.Background(), "Best EV under 40 lakhs")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if !bundle.Degraded {
		t.Fatalf("expected degraded bundle after semantic timeout")
	}
	if len(bundle.CatalogMatches) != 4 {
		t.Fatalf("expected catalog evidence kept, got %d", len(bundle.CatalogMatches))
	}
}

func TestHybridRetrieverSkipsLookupWithoutHits(t *testing.T) {
	catalog := sampleCatalog()
	retriever := newTestRetriever(catalog, &embedderFake{}, newIndexFake(), DefaultRetrievalOptions())

	bundle, err := retriever.Retrieve(context.Background(), "nothing indexed yet")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(catalog.lookupArgs) != 0 {
		t.Fatalf("expected no review lookup, got %v", catalog.lookupArgs)
	}
	if bundle.Degraded || bundle.ReviewSnippets == nil || len(bundle.ReviewSnippets) != 0 {
		t.Fatalf("unexpected bundle: %+v", bundle)
	}
}
