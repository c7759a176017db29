package ports

import (
	"context"

	"github.com/Maheswari-23/EVAssist/internal/core/domain"
)

// QueryService is the inbound contract for hybrid RAG question answering.
type QueryService interface {
	Answer(ctx context.Context, query string) (*domain.Answer, error)
}

// IngestionService is the inbound contract for review re-indexing.
type IngestionService interface {
	Ingest(ctx context.Context) (domain.IngestionReport, error)
}

// IndexStatsReader exposes read-only vector index statistics.
type IndexStatsReader interface {
	Stats(ctx context.Context) (domain.IndexStats, error)
}
