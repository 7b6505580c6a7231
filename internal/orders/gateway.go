package orders

import (
	"context"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Gateway is the payment provider as seen by the order lifecycle.
type Gateway interface {
	RequestCheckoutLink(ctx context.Context, req CheckoutLinkRequest) (*CheckoutLink, error)
	// QueryStatus reports the provider's view of a checkout and, once paid,
	// the settling transaction id.
	QueryStatus(ctx context.Context, providerOrderID string) (enums.PaymentStatus, *string, error)
	RefundPayment(ctx context.Context, req RefundRequest) (string, error)
}

type CheckoutLinkRequest struct {
	OrderID     uint64
	OrderNumber string
	PaymentID   uint64
	AmountCents int64
	Currency    string
	Method      enums.PaymentMethod
	// IdempotencyKey is stable per payment attempt.
	IdempotencyKey string
}

type CheckoutLink struct {
	URL             string
	ProviderOrderID string
}

type RefundRequest struct {
	RefundID       uint64
	OrderID        uint64
	TransactionID  string
	AmountCents    int64
	Currency       string
	Reason         string
	IdempotencyKey string
}
