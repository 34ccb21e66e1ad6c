package paging

import "github.com/dmehra2102/sweet-shop/pkg/apperr"

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

type Page struct {
	Number int
	Limit  int
}

// New validates page >= 1 and 1 <= limit <= MaxLimit.
func New(number, limit int) (Page, error) {
	if number < 1 {
		return Page{}, apperr.FieldValidation("page", "Page must be at least 1")
	}
	if limit < 1 || limit > MaxLimit {
		return Page{}, apperr.FieldValidation("limit", "Limit must be between 1 and 100")
	}
	return Page{Number: number, Limit: limit}, nil
}

func (p Page) Offset() int { return (p.Number - 1) * p.Limit }

// Window returns the slice bounds of this page within n results.
func (p Page) Window(n int) (lo, hi int) {
	lo = min(p.Offset(), n)
	hi = min(lo+p.Limit, n)
	return lo, hi
}

type Info struct {
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	TotalCount  int  `json:"totalCount"`
	HasNextPage bool `json:"hasNextPage"`
	HasPrevPage bool `json:"hasPrevPage"`
}

func (p Page) Info(total int) Info {
	pages := TotalPages(total, p.Limit)
	return Info{
		CurrentPage: p.Number,
		TotalPages:  pages,
		TotalCount:  total,
		HasNextPage: p.Number < pages,
		HasPrevPage: p.Number > 1,
	}
}

func TotalPages(total, limit int) int {
	if limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
