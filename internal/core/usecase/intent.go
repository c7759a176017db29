package usecase

import (
	"math"
	"regexp"
	"strconv"

	"github.com/Maheswari-23/EVAssist/internal/core/domain"
	"github.com/Maheswari-23/EVAssist/internal/core/ports"
)

const lakh = 100000

// budgetPattern matches "40 lakhs", "40 lakh", "40L" and "12.5 lakh".
var budgetPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s?(lakhs?|l)\b`)

// BudgetExtractor reads a rupee price ceiling expressed in lakhs.
type BudgetExtractor struct{}

func NewBudgetExtractor() *BudgetExtractor {
	return &BudgetExtractor{}
}

func (BudgetExtractor) Extract(rawText string) domain.QueryIntent {
	intent := domain.QueryIntent{RawText: rawText}

	match := budgetPattern.FindStringSubmatch(rawText)
	if match == nil {
		return intent
	}
	amount, err := strconv.ParseFloat(match[1], 64)
	if err != nil || amount <= 0 {
		return intent
	}
	ceiling := math.Round(amount * lakh)
	if ceiling < 1 || ceiling > math.MaxInt64/2 {
		return intent
	}

	value := int64(ceiling)
	intent.PriceCeiling = &value
	return intent
}

// ChainExtractor merges constraints from several extractors.
// For each constraint the first extractor that sets it wins.
type ChainExtractor struct {
	extractors []ports.IntentExtractor
}

func NewChainExtractor(extractors ...ports.IntentExtractor) *ChainExtractor {
	return &ChainExtractor{extractors: extractors}
}

func (c *ChainExtractor) Extract(rawText string) domain.QueryIntent {
	out := domain.QueryIntent{RawText: rawText}
	for _, extractor := range c.extractors {
		if extractor == nil {
			continue
		}
		intent := extractor.Extract(rawText)
		if out.PriceCeiling == nil && intent.PriceCeiling != nil {
			out.PriceCeiling = intent.PriceCeiling
		}
	}
	return out
}
