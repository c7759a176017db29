package domain

import (
	"fmt"
	"strings"
)

type Metric string

const (
	MetricL2     Metric = "L2"
	MetricCosine Metric = "COSINE"
)

func ParseMetric(raw string) (Metric, error) {
	switch Metric(strings.ToUpper(strings.TrimSpace(raw))) {
	case MetricL2:
		return MetricL2, nil
	case MetricCosine:
		return MetricCosine, nil
	default:
		return "", WrapError(ErrInvalidInput, "parse metric", fmt.Errorf("unsupported metric %q", raw))
	}
}

type IndexKind string

const (
	IndexHNSW IndexKind = "HNSW"
	IndexFlat IndexKind = "FLAT"
)

func ParseIndexKind(raw string) (IndexKind, error) {
	switch IndexKind(strings.ToUpper(strings.TrimSpace(raw))) {
	case IndexHNSW:
		return IndexHNSW, nil
	case IndexFlat:
		return IndexFlat, nil
	default:
		return "", WrapError(ErrInvalidInput, "parse index kind", fmt.Errorf("unsupported ann index kind %q", raw))
	}
}

// IndexParams are build-time ANN parameters. Zero values leave engine defaults.
type IndexParams struct {
	Kind        IndexKind
	M           uint64
	EfConstruct uint64
}

type CollectionSpec struct {
	Name      string
	Dimension int
	Metric    Metric
	Index     IndexParams
}

// SearchParams are query-time ANN parameters.
type SearchParams struct {
	HnswEf uint64
	Exact  bool
}

type SearchQuery struct {
	Vector []float32
	K      int
	Metric Metric
	Params SearchParams
}

// VectorRecord is one indexed review. The index keys it by ReviewID.
type VectorRecord struct {
	ReviewID  int64
	ItemID    int64
	Embedding []float32
}

type ReviewHit struct {
	ReviewID int64   `json:"review_id"`
	ItemID   int64   `json:"item_id"`
	Score    float32 `json:"score"`
}
