package domain

import "time"

const (
	AggregateType = "order"

	EventPlaced               = "order.placed"
	EventCancelled            = "order.cancelled"
	EventStatusChanged        = "order.status_changed"
	EventPaymentStatusChanged = "order.payment_status_changed"
)

type OrderPlaced struct {
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	AccountID   string    `json:"accountId"`
	TotalAmount string    `json:"totalAmount"`
	Lines       []Line    `json:"items"`
	PlacedAt    time.Time `json:"placedAt"`
}

type OrderCancelled struct {
	OrderID     string    `json:"orderId"`
	AccountID   string    `json:"accountId"`
	CancelledBy string    `json:"cancelledBy"`
	Restocked   []Line    `json:"restocked"`
	CancelledAt time.Time `json:"cancelledAt"`
}

type StatusChanged struct {
	OrderID   string      `json:"orderId"`
	From      OrderStatus `json:"from"`
	To        OrderStatus `json:"to"`
	ChangedAt time.Time   `json:"changedAt"`
}

type PaymentStatusChanged struct {
	OrderID   string        `json:"orderId"`
	From      PaymentStatus `json:"from"`
	To        PaymentStatus `json:"to"`
	ChangedAt time.Time     `json:"changedAt"`
}

// PaymentResult is the message consumed from the payment provider topic.
type PaymentResult struct {
	OrderID   string `json:"orderId"`
	Status    string `json:"status"`
	Reference string `json:"reference,omitempty"`
}
