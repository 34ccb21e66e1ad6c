package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrItemNotFound = errors.New("item not found")
	ErrNameTaken    = errors.New("item name already exists")
	ErrStockLimit   = errors.New("stock limit exceeded")
)

const (
	MaxNameLen     = 100
	MaxCategoryLen = 50
	PriceScale     = 2

	// MaxQuantity bounds on-hand stock and any single stock movement. It sits
	// well inside the INTEGER column so returned reservations cannot overflow.
	MaxQuantity = 1_000_000_000
)

// Item is a sellable catalog entry.
type Item struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (i Item) InStock() bool { return i.Quantity > 0 }

// ShortageError reports a conditional decrement that found too little stock.
type ShortageError struct {
	ItemID    uuid.UUID
	Requested int
	Available int
}

func (e *ShortageError) Error() string {
	return fmt.Sprintf("item %s: requested %d, available %d", e.ItemID, e.Requested, e.Available)
}

// Draft is a validated new item.
type Draft struct {
	Name     string
	Category string
	Price    decimal.Decimal
	Quantity int
}

func NewItem(id uuid.UUID, d Draft, now time.Time) Item {
	return Item{
		ID:        id,
		Name:      d.Name,
		Category:  d.Category,
		Price:     d.Price,
		Quantity:  d.Quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Name     *string
	Category *string
	Price    *decimal.Decimal
	Quantity *int
}

func (p Patch) Empty() bool {
	return p.Name == nil && p.Category == nil && p.Price == nil && p.Quantity == nil
}

func (p Patch) Apply(it Item, now time.Time) Item {
	if p.Name != nil {
		it.Name = *p.Name
	}
	if p.Category != nil {
		it.Category = *p.Category
	}
	if p.Price != nil {
		it.Price = *p.Price
	}
	if p.Quantity != nil {
		it.Quantity = *p.Quantity
	}
	it.UpdatedAt = now
	return it
}

// Filter narrows list and search results. Zero value matches everything.
type Filter struct {
	Name     string
	Category string
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
}

func (f Filter) Matches(it Item) bool {
	if f.Name != "" && !containsFold(it.Name, f.Name) {
		return false
	}
	if f.Category != "" && !containsFold(it.Category, f.Category) {
		return false
	}
	if f.MinPrice != nil && it.Price.LessThan(*f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && it.Price.GreaterThan(*f.MaxPrice) {
		return false
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func CleanName(s string) string { return strings.TrimSpace(s) }

func NameViolation(name string) string {
	n := utf8.RuneCountInString(name)
	switch {
	case n == 0:
		return "Sweet name is required"
	case n > MaxNameLen:
		return "Sweet name cannot exceed 100 characters"
	}
	return ""
}

func CategoryViolation(category string) string {
	n := utf8.RuneCountInString(category)
	switch {
	case n == 0:
		return "Category is required"
	case n > MaxCategoryLen:
		return "Category cannot exceed 50 characters"
	}
	return ""
}

func PriceViolation(p decimal.Decimal) string {
	if p.IsNegative() {
		return "Price cannot be negative"
	}
	if !p.Equal(p.Round(PriceScale)) {
		return "Price can have at most 2 decimal places"
	}
	return ""
}

func QuantityViolation(q int) string {
	if q < 0 {
		return "Quantity cannot be negative"
	}
	if q > MaxQuantity {
		return fmt.Sprintf("Quantity cannot exceed %d", MaxQuantity)
	}
	return ""
}

// MovementViolation checks the size of a single purchase, restock or order line.
func MovementViolation(q int) string {
	if q < 1 {
		return "Quantity must be a positive integer"
	}
	if q > MaxQuantity {
		return fmt.Sprintf("Quantity cannot exceed %d", MaxQuantity)
	}
	return ""
}
