package domain

// UnknownItemID stands in for reviews whose ev_id is NULL upstream.
const UnknownItemID int64 = 0

type CatalogItem struct {
	ID      int64   `json:"id"`
	Model   string  `json:"model"`
	Price   int64   `json:"price_inr"`
	RangeKm float64 `json:"range_km"`
}

type Review struct {
	ID     int64  `json:"id"`
	ItemID int64  `json:"ev_id"`
	Text   string `json:"review_text"`
}

// CatalogFilter is the structured constraint set passed to the catalog store.
// A nil field means the constraint is not applied.
type CatalogFilter struct {
	PriceCeiling *int64
}

func (f CatalogFilter) IsEmpty() bool {
	return f.PriceCeiling == nil
}
