package ports

import (
	"context"

	"github.com/Maheswari-23/EVAssist/internal/core/domain"
)

// CatalogStore reads EV catalog rows and reviews.
type CatalogStore interface {
	QueryByFilter(ctx context.Context, filter domain.CatalogFilter) ([]domain.CatalogItem, error)
	LookupReviews(ctx context.Context, reviewIDs []int64) ([]domain.Review, error)
	ListReviews(ctx context.Context) ([]domain.Review, error)
}

// Embedder builds vectors for review texts and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex stores review vectors and performs similarity search.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, spec domain.CollectionSpec) error
	Upsert(ctx context.Context, records []domain.VectorRecord) error
	Search(ctx context.Context, query domain.SearchQuery) ([]domain.ReviewHit, error)
	Count(ctx context.Context) (uint64, error)
}

// ChatModel runs one non-streamed completion.
type ChatModel interface {
	Complete(ctx context.Context, prompt domain.Prompt) (string, error)
}

// IntentExtractor turns raw query text into structured constraints.
type IntentExtractor interface {
	Extract(rawText string) domain.QueryIntent
}

// IngestQueue publishes and consumes ingestion triggers and reports.
type IngestQueue interface {
	PublishIngestRequest(ctx context.Context, req domain.IngestRequest) error
	SubscribeIngestRequests(ctx context.Context, handler func(context.Context, domain.IngestRequest) error) error
	PublishIngestReport(ctx context.Context, report domain.IngestionReport) error
}
