package request

import (
	"net/http"
	"strconv"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Pagination is the parsed limit/cursor pair from list query parameters.
type Pagination struct {
	Limit  int
	Cursor string
}

// ParsePagination reads limit and cursor from the query string. A missing,
// malformed or non-positive limit falls back to DefaultLimit; anything
// above MaxLimit is clamped.
func ParsePagination(r *http.Request) Pagination {
	q := r.URL.Query()

	limit := DefaultLimit
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = min(v, MaxLimit)
	}

	return Pagination{Limit: limit, Cursor: q.Get("cursor")}
}
