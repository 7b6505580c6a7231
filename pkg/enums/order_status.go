package enums

import "fmt"

// OrderStatus is the lifecycle position of an order.
type OrderStatus string

const (
	OrderStatusPendingPayment   OrderStatus = "pending_payment"
	OrderStatusConfirmed        OrderStatus = "confirmed"
	OrderStatusProcessing       OrderStatus = "processing"
	OrderStatusShipped          OrderStatus = "shipped"
	OrderStatusDelivered        OrderStatus = "delivered"
	OrderStatusComplete         OrderStatus = "complete"
	OrderStatusCancelledByUser  OrderStatus = "cancelled_by_user"
	OrderStatusCancelledByAdmin OrderStatus = "cancelled_by_admin"
	OrderStatusPaymentExpired   OrderStatus = "payment_expired"
	OrderStatusRefunded         OrderStatus = "refunded"
	OrderStatusReturned         OrderStatus = "returned"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPendingPayment,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusComplete,
	OrderStatusCancelledByUser,
	OrderStatusCancelledByAdmin,
	OrderStatusPaymentExpired,
	OrderStatusRefunded,
	OrderStatusReturned,
}

// RevenueOrderStatuses are the statuses whose totals count toward revenue.
var RevenueOrderStatuses = []OrderStatus{
	OrderStatusComplete,
	OrderStatusDelivered,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
}

// AllOrderStatuses returns a copy of every known status.
func AllOrderStatuses() []OrderStatus {
	out := make([]OrderStatus, len(validOrderStatuses))
	copy(out, validOrderStatuses)
	return out
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is defined from s.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusComplete,
		OrderStatusRefunded,
		OrderStatusReturned,
		OrderStatusCancelledByUser,
		OrderStatusCancelledByAdmin,
		OrderStatusPaymentExpired:
		return true
	default:
		return false
	}
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
