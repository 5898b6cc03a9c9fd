// Package pagination converts page/limit requests into SQL offsets and page
// counts.
package pagination

// DefaultLimit and MaxLimit bound a page request.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Offset returns the number of rows to skip for a 1-based page.
// Pages below 1 are treated as page 1.
func Offset(page, limit int) int {
	if page < 1 {
		page = 1
	}
	if limit < 0 {
		limit = 0
	}
	return (page - 1) * limit
}

// TotalPages returns ceil(total/limit), or 0 when limit is not positive.
func TotalPages(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// Normalize clamps a client supplied page and limit.
func Normalize(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}
	return page, limit
}
