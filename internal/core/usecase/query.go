package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/Maheswari-23/EVAssist/internal/core/domain"
)

type QueryUseCase struct {
	retriever   *HybridRetriever
	synthesizer *AnswerSynthesizer
}

func NewQueryUseCase(retriever *HybridRetriever, synthesizer *AnswerSynthesizer) *QueryUseCase {
	return &QueryUseCase{
		retriever:   retriever,
		synthesizer: synthesizer,
	}
}

func (uc *QueryUseCase) Answer(ctx context.Context, query string) (*domain.Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer", errors.New("query is required"))
	}

	evidence, err := uc.retriever.Retrieve(ctx, query)
	if err != nil {
		return nil, err
	}

	text, err := uc.synthesizer.Synthesize(ctx, query, evidence)
	if err != nil {
		return nil, err
	}

	evs := evidence.CatalogMatches
	if evs == nil {
		evs = []domain.CatalogItem{}
	}
	return &domain.Answer{
		Text:           text,
		EVs:            evs,
		Degraded:       evidence.Degraded,
		ReviewSnippets: len(evidence.ReviewSnippets),
	}, nil
}
