package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Maheswari-23/EVAssist/internal/core/domain"
	"github.com/Maheswari-23/EVAssist/internal/core/ports"
)

const (
	advisorSystemPrompt = "You are an expert EV advisor."

	noCatalogMatchesText = "No matching EVs found in the catalog."
	noReviewsText        = "No reviews available."
)

// AnswerSynthesizer turns an evidence bundle into a grounded recommendation.
type AnswerSynthesizer struct {
	model        ports.ChatModel
	systemPrompt string
}

func NewAnswerSynthesizer(model ports.ChatModel) *AnswerSynthesizer {
	return &AnswerSynthesizer{
		model:        model,
		systemPrompt: advisorSystemPrompt,
	}
}

func (s *AnswerSynthesizer) Synthesize(ctx context.Context, query string, evidence domain.EvidenceBundle) (string, error) {
	ctx, span := tracer.Start(ctx, "synthesize.answer")
	defer span.End()

	prompt := domain.Prompt{
		System: s.systemPrompt,
		User:   BuildGroundingPrompt(query, evidence),
	}
	text, err := s.model.Complete(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		return "", domain.WrapError(domain.ErrGenerationUnavailable, "synthesize answer", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.WrapError(domain.ErrGenerationUnavailable, "synthesize answer", errors.New("empty completion"))
	}
	return text, nil
}

// BuildGroundingPrompt renders the user turn. Empty evidence sections get an
// explicit placeholder so the model is told the evidence is absent.
func BuildGroundingPrompt(query string, evidence domain.EvidenceBundle) string {
	var b strings.Builder

	b.WriteString("User Question:\n")
	b.WriteString(query)
	b.WriteString("\n\nFiltered EV Data:\n")
	if len(evidence.CatalogMatches) == 0 {
		b.WriteString(noCatalogMatchesText)
		b.WriteString("\n")
	}
	for _, item := range evidence.CatalogMatches {
		b.WriteString(formatCatalogLine(item))
		b.WriteString("\n")
	}

	b.WriteString("\nRelevant Reviews:\n")
	if len(evidence.ReviewSnippets) == 0 {
		b.WriteString(noReviewsText)
		b.WriteString("\n")
	}
	for _, snippet := range evidence.ReviewSnippets {
		b.WriteString("- ")
		b.WriteString(strings.TrimSpace(snippet))
		b.WriteString("\n")
	}

	b.WriteString("\nProvide a clear recommendation with reasoning.")
	return b.String()
}

func formatCatalogLine(item domain.CatalogItem) string {
	return fmt.Sprintf("Model: %s, Price: ₹%d, Range: %skm",
		item.Model,
		item.Price,
		strconv.FormatFloat(item.RangeKm, 'f', -1, 64),
	)
}
