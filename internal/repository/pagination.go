package repository

// Sort orders.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// DefaultLimit bounds unpaginated queries.
const DefaultLimit = 100

// Pagination controls result ordering and windowing. A nil Pagination
// means the default window sorted by createdAt descending.
type Pagination struct {
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
	SortBy    string `json:"sortBy,omitempty"`
	SortOrder string `json:"sortOrder,omitempty"`
}

// normalized returns a copy with defaults applied.
func (p *Pagination) normalized() Pagination {
	out := Pagination{Limit: DefaultLimit, SortBy: "createdAt", SortOrder: SortDesc}
	if p == nil {
		return out
	}
	if p.Limit > 0 {
		out.Limit = p.Limit
	}
	if p.Offset > 0 {
		out.Offset = p.Offset
	}
	if p.SortBy != "" {
		out.SortBy = p.SortBy
	}
	if p.SortOrder == SortAsc || p.SortOrder == SortDesc {
		out.SortOrder = p.SortOrder
	}
	return out
}

// Page is one window of a query result.
type Page[T any] struct {
	Items      []T  `json:"items"`
	Total      int  `json:"total"`
	HasMore    bool `json:"hasMore"`
	Page       int  `json:"page"`
	TotalPages int  `json:"totalPages"`
}

// newPage computes page bookkeeping from the full match count and the
// normalized pagination that produced items.
func newPage[T any](items []T, total int, p Pagination) *Page[T] {
	page := 1
	totalPages := 1
	if p.Limit > 0 {
		page = p.Offset/p.Limit + 1
		totalPages = (total + p.Limit - 1) / p.Limit
		if totalPages < 1 {
			totalPages = 1
		}
	}
	return &Page[T]{
		Items:      items,
		Total:      total,
		HasMore:    p.Offset+len(items) < total,
		Page:       page,
		TotalPages: totalPages,
	}
}
