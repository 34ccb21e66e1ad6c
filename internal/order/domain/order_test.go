package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	allowed := map[OrderStatus][]OrderStatus{
		StatusPending:    {StatusConfirmed, StatusCancelled},
		StatusConfirmed:  {StatusProcessing, StatusCancelled},
		StatusProcessing: {StatusShipped},
		StatusShipped:    {StatusDelivered},
	}
	all := []OrderStatus{StatusPending, StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				want = want || a == to
			}
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
	assert.False(t, StatusShipped.Cancellable())
	assert.False(t, StatusCancelled.Cancellable())
	assert.True(t, StatusConfirmed.Cancellable())
}

func TestTransitionToRejectsBackwards(t *testing.T) {
	now := time.Now()
	o := Order{Status: StatusShipped}

	err := o.TransitionTo(StatusPending, now)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusShipped, o.Status)

	require.NoError(t, o.TransitionTo(StatusDelivered, now))
	assert.Equal(t, StatusDelivered, o.Status)
	assert.Equal(t, now, o.UpdatedAt)
}

func TestNewOrderTotals(t *testing.T) {
	lines := []Line{
		{ItemID: uuid.New(), UnitPrice: decimal.RequireFromString("12.50"), Quantity: 3},
		{ItemID: uuid.New(), UnitPrice: decimal.RequireFromString("0.10"), Quantity: 7},
	}
	o := NewOrder(uuid.New(), uuid.New(), lines, ShippingAddress{}, MethodCard, "", time.Now())

	assert.True(t, o.TotalAmount.Equal(decimal.RequireFromString("38.20")), o.TotalAmount.String())
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, PaymentPending, o.PaymentStatus)
}

func TestOrderNumber(t *testing.T) {
	o := Order{ID: uuid.MustParse("3f2a9c10-5b7e-4d21-9a8c-00aa11bb22cc")}
	assert.Equal(t, "ORD-11BB22CC", o.Number())
}

func TestParsePaymentMethodDefault(t *testing.T) {
	m, err := ParsePaymentMethod("")
	require.NoError(t, err)
	assert.Equal(t, MethodCashOnDelivery, m)

	_, err = ParsePaymentMethod("barter")
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestParseStatuses(t *testing.T) {
	_, err := ParseStatus("lost")
	assert.ErrorIs(t, err, ErrUnknownStatus)
	_, err = ParsePaymentStatus("maybe")
	assert.ErrorIs(t, err, ErrUnknownPayment)

	ps, err := ParsePaymentStatus("refunded")
	require.NoError(t, err)
	assert.Equal(t, PaymentRefunded, ps)
}

func TestShippingAddress(t *testing.T) {
	a := ShippingAddress{Street: " 1 Main ", City: "Pune", State: "MH", ZipCode: " "}.Normalize()
	assert.Equal(t, "1 Main", a.Street)
	assert.Equal(t, DefaultCountry, a.Country)
	assert.Equal(t, "zipCode", a.MissingField())
}

func TestNotesViolation(t *testing.T) {
	assert.Empty(t, NotesViolation(strings.Repeat("a", 500)))
	assert.NotEmpty(t, NotesViolation(strings.Repeat("a", 501)))
}

func TestListFilter(t *testing.T) {
	acc := uuid.New()
	st := StatusPending
	o := Order{AccountID: acc, Status: StatusPending}

	assert.True(t, ListFilter{}.Matches(o))
	assert.True(t, ListFilter{AccountID: &acc, Status: &st}.Matches(o))
	other := uuid.New()
	assert.False(t, ListFilter{AccountID: &other}.Matches(o))
}
