package app

import (
	"math"
)

// DefaultPageSize is used when a request doesn't ask for one.
const DefaultPageSize = 20

// MaxPageSize caps requested page sizes.
const MaxPageSize = 100

// A Page is one window of a paginated listing.
type Page struct {
	Number      int  `json:"page"`
	Size        int  `json:"page_size"`
	StartOffset int  `json:"-"`
	EndOffset   int  `json:"-"`
	HasPrevious bool `json:"has_previous"`
	HasNext     bool `json:"has_next"`
	NumPages    int  `json:"num_pages"`
	Total       int  `json:"total"`
}

// A Paginator provides windowing for fetching the correct items.
type Paginator struct {
	// PageSize is the number of elements per page
	PageSize int
	// Total is the total number of elements
	Total int
	// NumPages is the number of total pages
	NumPages int
}

func NewPaginator(pageSize, objCount int) *Paginator {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return &Paginator{
		PageSize: pageSize,
		Total:    objCount,
		NumPages: int(math.Ceil(float64(objCount) / float64(pageSize))),
	}
}

// Page at ordinal num.  Pages past the end are empty windows.
func (p *Paginator) Page(num int) *Page {
	if num < 1 {
		num = 1
	}
	return &Page{
		Number:      num,
		Size:        p.PageSize,
		StartOffset: (num - 1) * p.PageSize,
		EndOffset:   num * p.PageSize,
		HasPrevious: num > 1,
		HasNext:     num*p.PageSize < p.Total,
		NumPages:    p.NumPages,
		Total:       p.Total,
	}
}
