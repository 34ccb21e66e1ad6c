package domain

import (
	"errors"
	"fmt"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusConfirmed  OrderStatus = "confirmed"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
)

var transitions = map[OrderStatus][]OrderStatus{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped},
	StatusShipped:    {StatusDelivered},
}

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrUnknownStatus     = errors.New("unknown order status")
	ErrUnknownPayment    = errors.New("unknown payment status")
	ErrUnknownMethod     = errors.New("unknown payment method")
	ErrInvalidTransition = errors.New("invalid status transition")
)

func ParseStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	switch st {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Cancellable reports whether the order still holds reservable stock.
func (s OrderStatus) Cancellable() bool { return s.CanTransition(StatusCancelled) }

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	ps := PaymentStatus(s)
	switch ps {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
		return ps, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPayment, s)
}

type PaymentMethod string

const (
	MethodCashOnDelivery PaymentMethod = "cash_on_delivery"
	MethodOnline         PaymentMethod = "online_payment"
	MethodCard           PaymentMethod = "card"
)

// ParsePaymentMethod maps an empty value to cash on delivery.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	if s == "" {
		return MethodCashOnDelivery, nil
	}
	m := PaymentMethod(s)
	switch m {
	case MethodCashOnDelivery, MethodOnline, MethodCard:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}
