package usecase

import (
	"context"
	"errors"
	"sync"

	"github.com/Maheswari-23/EVAssist/internal/core/domain"
)

type catalogFake struct {
	mu sync.Mutex

	items      []domain.CatalogItem
	reviews    []domain.Review
	queryErr   error
	lookupErr  error
	listErr    error
	filters    []domain.CatalogFilter
	lookupArgs [][]int64
}

func (f *catalogFake) QueryByFilter(_ context.Context, filter domain.CatalogFilter) ([]domain.CatalogItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	out := make([]domain.CatalogItem, 0, len(f.items))
	for _, item := range f.items {
		if filter.PriceCeiling != nil && item.Price > *filter.PriceCeiling {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (f *catalogFake) LookupReviews(_ context.Context, ids []int64) ([]domain.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookupArgs = append(f.lookupArgs, append([]int64(nil), ids...))
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	wanted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	out := make([]domain.Review, 0, len(ids))
	// Return in storage order to prove the caller reorders by similarity.
	for _, review := range f.reviews {
		if _, ok := wanted[review.ID]; ok {
			out = append(out, review)
		}
	}
	return out, nil
}

func (f *catalogFake) ListReviews(context.Context) ([]domain.Review, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]domain.Review(nil), f.reviews...), nil
}

type embedderFake struct {
	mu sync.Mutex

	queryCalls int
	batchCalls int
	queryErr   error
	queries    []string
	// failOn makes Embed fail for any batch containing this text.
	failOn string
	// short drops the last vector of every batch.
	short bool
}

func (f *embedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.batchCalls++
	f.mu.Unlock()

	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		if f.failOn != "" && text == f.failOn {
			return nil, errors.New("embedding backend exploded")
		}
		out = append(out, []float32{float32(len(text)), 1})
	}
	if f.short && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (f *embedderFake) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.queryCalls++
	f.queries = append(f.queries, text)
	f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return []float32{float32(len(text)), 1}, nil
}

type indexFake struct {
	mu sync.Mutex

	points      map[int64]domain.VectorRecord
	hits        []domain.ReviewHit
	searchErr   error
	ensureErr   error
	upsertErr   error
	countErr    error
	ensured     []domain.CollectionSpec
	lastQuery   domain.SearchQuery
	searchCalls int
}

func newIndexFake() *indexFake {
	return &indexFake{points: make(map[int64]domain.VectorRecord)}
}

func (f *indexFake) EnsureCollection(_ context.Context, spec domain.CollectionSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, spec)
	return f.ensureErr
}

func (f *indexFake) Upsert(_ context.Context, records []domain.VectorRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	for _, record := range records {
		f.points[record.ReviewID] = record
	}
	return nil
}

func (f *indexFake) Search(_ context.Context, query domain.SearchQuery) ([]domain.ReviewHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	f.lastQuery = query
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.hits) > query.K {
		return append([]domain.ReviewHit(nil), f.hits[:query.K]...), nil
	}
	return append([]domain.ReviewHit(nil), f.hits...), nil
}

func (f *indexFake) Count(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	return uint64(len(f.points)), nil
}

type chatFake struct {
	reply   string
	err     error
	prompts []domain.Prompt
}

func (f *chatFake) Complete(_ context.Context, prompt domain.Prompt) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func sampleCatalog() *catalogFake {
	return &catalogFake{
		items: []domain.CatalogItem{
			{ID: 1, Model: "Tata Nexon EV", Price: 1500000, RangeKm: 312},
			{ID: 2, Model: "MG ZS EV", Price: 2500000, RangeKm: 461},
			{ID: 3, Model: "Hyundai Kona", Price: 2400000, RangeKm: 452},
			{ID: 4, Model: "BYD Atto 3", Price: 3400000, RangeKm: 521},
			{ID: 5, Model: "Kia EV6", Price: 6000000, RangeKm: 708},
		},
		reviews: []domain.Review{
			{ID: 10, ItemID: 1, Text: "Great city car with cheap running costs."},
			{ID: 11, ItemID: 2, Text: "Comfortable highway cruiser."},
			{ID: 12, ItemID: 3, Text: "Battery range holds up in summer."},
			{ID: 13, ItemID: 4, Text: "Best family EV under 40 lakhs."},
			{ID: 14, ItemID: 5, Text: "Fast charging is excellent."},
		},
	}
}

func int64Ptr(v int64) *int64 {
	return &v
}
