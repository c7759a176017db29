package domain

import "time"

type QueryIntent struct {
	RawText      string
	PriceCeiling *int64
}

func (q QueryIntent) Filter() CatalogFilter {
	return CatalogFilter{PriceCeiling: q.PriceCeiling}
}

type RetrievalState string

const (
	StateExtractIntent      RetrievalState = "EXTRACT_INTENT"
	StateStructuredRetrieve RetrievalState = "STRUCTURED_RETRIEVE"
	StateEmbedQuery         RetrievalState = "EMBED_QUERY"
	StateSemanticSearch     RetrievalState = "SEMANTIC_SEARCH"
	StateReviewLookup       RetrievalState = "REVIEW_LOOKUP"
	StateDegradedNoSemantic RetrievalState = "DEGRADED_NO_SEMANTIC"
	StateAssemble           RetrievalState = "ASSEMBLE"
	StateDone               RetrievalState = "DONE"
)

// EvidenceBundle is the merged retrieval output for one request.
// Degraded is set when semantic evidence could not be gathered.
type EvidenceBundle struct {
	Intent         QueryIntent
	CatalogMatches []CatalogItem
	ReviewSnippets []string
	Degraded       bool
	DegradedReason string
	Trace          []RetrievalState
}

type Answer struct {
	Text string        `json:"answer"`
	EVs  []CatalogItem `json:"evs"`

	Degraded       bool `json:"-"`
	ReviewSnippets int  `json:"-"`
}

// Prompt is a single non-streamed chat request.
type Prompt struct {
	System string
	User   string
}

type IngestRequest struct {
	ID          string    `json:"id"`
	Reason      string    `json:"reason,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

type IngestionReport struct {
	Processed     int           `json:"processed"`
	Failed        int           `json:"failed"`
	Skipped       int           `json:"skipped"`
	Batches       int           `json:"batches"`
	FailedBatches int           `json:"failed_batches"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration_ns"`
}

type IndexStats struct {
	Collection string `json:"collection"`
	Points     uint64 `json:"points"`
}
