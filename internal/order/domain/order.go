package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	MaxNotesLen     = 500
	MaxLines        = 50
	DefaultCountry  = "India"
	orderNumberTail = 8
)

type ShippingAddress struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
}

// Normalize trims every field and fills the default country.
func (a ShippingAddress) Normalize() ShippingAddress {
	a.Street = strings.TrimSpace(a.Street)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.TrimSpace(a.State)
	a.ZipCode = strings.TrimSpace(a.ZipCode)
	a.Country = strings.TrimSpace(a.Country)
	if a.Country == "" {
		a.Country = DefaultCountry
	}
	return a
}

// MissingField names the first blank required field, or "".
func (a ShippingAddress) MissingField() string {
	switch {
	case a.Street == "":
		return "street"
	case a.City == "":
		return "city"
	case a.State == "":
		return "state"
	case a.ZipCode == "":
		return "zipCode"
	}
	return ""
}

// Line is an order line. Name, category and unit price are copied from the
// item when the stock is reserved and never change afterwards.
type Line struct {
	ItemID    uuid.UUID       `json:"sweetId"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	UnitPrice decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Order struct {
	ID            uuid.UUID
	AccountID     uuid.UUID
	Lines         []Line
	TotalAmount   decimal.Decimal
	Status        OrderStatus
	PaymentStatus PaymentStatus
	PaymentMethod PaymentMethod
	Shipping      ShippingAddress
	Notes         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func NewOrder(id, accountID uuid.UUID, lines []Line, shipping ShippingAddress, method PaymentMethod, notes string, now time.Time) Order {
	return Order{
		ID:            id,
		AccountID:     accountID,
		Lines:         lines,
		TotalAmount:   Total(lines),
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		PaymentMethod: method,
		Shipping:      shipping,
		Notes:         notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func Total(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// Number is the customer facing reference, ORD- plus the id tail.
func (o Order) Number() string {
	hex := strings.ReplaceAll(o.ID.String(), "-", "")
	return "ORD-" + strings.ToUpper(hex[len(hex)-orderNumberTail:])
}

// TransitionTo moves the order along the status table.
func (o *Order) TransitionTo(to OrderStatus, now time.Time) error {
	if !o.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = now
	return nil
}

func (o *Order) SetPaymentStatus(ps PaymentStatus, now time.Time) {
	o.PaymentStatus = ps
	o.UpdatedAt = now
}

func NotesViolation(notes string) string {
	if utf8.RuneCountInString(notes) > MaxNotesLen {
		return "Notes cannot exceed 500 characters"
	}
	return ""
}

// ListFilter narrows order listings. Nil fields match everything.
type ListFilter struct {
	AccountID *uuid.UUID
	Status    *OrderStatus
}

func (f ListFilter) Matches(o Order) bool {
	if f.AccountID != nil && o.AccountID != *f.AccountID {
		return false
	}
	if f.Status != nil && o.Status != *f.Status {
		return false
	}
	return true
}
