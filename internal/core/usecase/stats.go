package usecase

import (
	"context"

	"github.com/Maheswari-23/EVAssist/internal/core/domain"
	"github.com/Maheswari-23/EVAssist/internal/core/ports"
)

type IndexStatsUseCase struct {
	index      ports.VectorIndex
	collection string
}

func NewIndexStatsUseCase(index ports.VectorIndex, collection string) *IndexStatsUseCase {
	return &IndexStatsUseCase{index: index, collection: collection}
}

func (uc *IndexStatsUseCase) Stats(ctx context.Context) (domain.IndexStats, error) {
	points, err := uc.index.Count(ctx)
	if err != nil {
		return domain.IndexStats{}, domain.WrapError(domain.ErrIndexUnavailable, "index stats", err)
	}
	return domain.IndexStats{Collection: uc.collection, Points: points}, nil
}
