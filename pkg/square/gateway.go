package square

import (
	"context"
	"strings"
	"time"

	sq "github.com/square/square-go-sdk"

	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

var _ orders.Gateway = (*Client)(nil)

// RequestCheckoutLink creates a hosted payment link for one order. The Square
// order carries our order id as its reference and the payment note.
func (c *Client) RequestCheckoutLink(ctx context.Context, req orders.CheckoutLinkRequest) (*orders.CheckoutLink, error) {
	req.IdempotencyKey = idempotencyKey("checkout", req.IdempotencyKey)

	var link *sq.PaymentLink
	err := c.call(ctx, "create_payment_link", map[string]any{
		"order_id":     req.OrderID,
		"order_number": req.OrderNumber,
		"amount_cents": req.AmountCents,
	}, func(ctx context.Context) error {
		resp, err := c.sdk.Checkout.PaymentLinks.Create(ctx, checkoutLinkRequest(req, c.locationID, c.redirectURL))
		if err != nil {
			return err
		}
		link = resp.GetPaymentLink()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if link == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square returned no payment link")
	}
	out := &orders.CheckoutLink{
		URL:             stringOf(link.URL),
		ProviderOrderID: stringOf(link.OrderID),
	}
	if out.URL == "" || out.ProviderOrderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square payment link is incomplete").
			WithDetails(map[string]any{"payment_link_id": stringOf(link.ID)})
	}
	return out, nil
}

// QueryStatus reads the Square order behind a checkout link and folds its
// tenders into one payment status.
func (c *Client) QueryStatus(ctx context.Context, providerOrderID string) (enums.PaymentStatus, *string, error) {
	providerOrderID = strings.TrimSpace(providerOrderID)
	if providerOrderID == "" {
		return "", nil, pkgerrors.New(pkgerrors.CodeValidation, "provider order id required")
	}

	var order *sq.Order
	err := c.call(ctx, "get_order", map[string]any{"provider_order_id": providerOrderID}, func(ctx context.Context) error {
		resp, err := c.sdk.Orders.Get(ctx, &sq.GetOrdersRequest{OrderID: providerOrderID})
		if err != nil {
			return err
		}
		order = resp.GetOrder()
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	status, paymentID := paymentStatusForOrder(order)
	return status, paymentID, nil
}

// RefundPayment refunds a captured payment. The idempotency key is derived
// from the local refund id, so retries never refund twice.
func (c *Client) RefundPayment(ctx context.Context, req orders.RefundRequest) (string, error) {
	if strings.TrimSpace(req.TransactionID) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "payment id required for refund")
	}
	req.IdempotencyKey = idempotencyKey("refund", req.IdempotencyKey)

	var refund *sq.PaymentRefund
	err := c.call(ctx, "refund_payment", map[string]any{
		"refund_id":    req.RefundID,
		"order_id":     req.OrderID,
		"payment_id":   req.TransactionID,
		"amount_cents": req.AmountCents,
	}, func(ctx context.Context) error {
		resp, err := c.sdk.Refunds.RefundPayment(ctx, refundRequest(req))
		if err != nil {
			return err
		}
		refund = resp.GetRefund()
		return nil
	})
	if err != nil {
		return "", err
	}
	if refund == nil || stringOf(refund.ID) == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "square returned no refund")
	}
	return stringOf(refund.ID), nil
}

// call runs one SDK request with a single log line per outcome. Field values
// that could carry credentials or buyer data are redacted.
func (c *Client) call(ctx context.Context, op string, fields map[string]any, fn func(context.Context) error) error {
	started := time.Now()
	err := fn(ctx)

	logFields := map[string]any{
		"square_op":   op,
		"duration_ms": time.Since(started).Milliseconds(),
	}
	for k, v := range fields {
		logFields[k] = redact(k, v)
	}
	logCtx := c.logger.WithFields(ctx, logFields)
	if err != nil {
		mapped := mapError(op, err)
		c.logger.Error(logCtx, "square call failed", mapped)
		return mapped
	}
	c.logger.Info(logCtx, "square call succeeded")
	return nil
}

var sensitiveFields = []string{"card", "token", "secret", "email", "phone", "url"}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range sensitiveFields {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

// stringOf reads SDK string fields, some of which are optional pointers.
func stringOf(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case *string:
		if s == nil {
			return ""
		}
		return *s
	default:
		return ""
	}
}
