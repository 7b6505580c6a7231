package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// OrderCreatedEvent is emitted once checkout commits.
type OrderCreatedEvent struct {
	OrderID       uint64              `json:"order_id"`
	OrderNumber   string              `json:"order_number"`
	CustomerID    uuid.UUID           `json:"customer_id"`
	TotalCents    int64               `json:"total_cents"`
	Currency      string              `json:"currency"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
}

// OrderStatusChangedEvent is emitted on every committed order transition.
type OrderStatusChangedEvent struct {
	OrderID     uint64            `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	CustomerID  uuid.UUID         `json:"customer_id"`
	Action      string            `json:"action"`
	From        enums.OrderStatus `json:"from"`
	To          enums.OrderStatus `json:"to"`
	ChangedAt   time.Time         `json:"changed_at"`
}

// PaymentStatusChangedEvent is emitted when a webhook or poll settles a payment.
type PaymentStatusChangedEvent struct {
	PaymentID     uint64              `json:"payment_id"`
	OrderID       uint64              `json:"order_id"`
	Status        enums.PaymentStatus `json:"status"`
	TransactionID *string             `json:"transaction_id,omitempty"`
}

// RefundRequestedEvent announces money owed back to the buyer.
type RefundRequestedEvent struct {
	RefundID    uint64 `json:"refund_id"`
	OrderID     uint64 `json:"order_id"`
	PaymentID   uint64 `json:"payment_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// RefundSettledEvent reports the gateway outcome of a refund.
type RefundSettledEvent struct {
	RefundID         uint64             `json:"refund_id"`
	OrderID          uint64             `json:"order_id"`
	Status           enums.RefundStatus `json:"status"`
	ProviderRefundID *string            `json:"provider_refund_id,omitempty"`
}

// OrderRef is implemented by every payload; it names the order the event
// belongs to so consumers can sequence related events.
type OrderRef interface {
	OrderRef() uint64
}

func (e *OrderCreatedEvent) OrderRef() uint64 { return e.OrderID }
func (e *OrderStatusChangedEvent) OrderRef() uint64 { return e.OrderID }
func (e *PaymentStatusChangedEvent) OrderRef() uint64 { return e.OrderID }
func (e *RefundRequestedEvent) OrderRef() uint64 { return e.OrderID }
func (e *RefundSettledEvent) OrderRef() uint64 { return e.OrderID }
