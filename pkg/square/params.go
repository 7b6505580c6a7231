package square

import (
	"fmt"
	"strconv"
	"strings"

	sq "github.com/square/square-go-sdk"
	sqcheckout "github.com/square/square-go-sdk/checkout"

	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Square order states; OPEN with nothing left to pay means the buyer paid.
const (
	orderStateOpen      = "OPEN"
	orderStateCompleted = "COMPLETED"
	orderStateCanceled  = "CANCELED"
)

// NoteForOrder is the payment note the webhook reconciler parses back.
func NoteForOrder(orderID uint64) string {
	return "order:" + strconv.FormatUint(orderID, 10)
}

func checkoutLinkRequest(req orders.CheckoutLinkRequest, locationID, redirectURL string) *sqcheckout.CreatePaymentLinkRequest {
	name := fmt.Sprintf("Order %s", req.OrderNumber)
	out := &sqcheckout.CreatePaymentLinkRequest{
		IdempotencyKey: ptrString(req.IdempotencyKey),
		Description:    ptrString(name),
		PaymentNote:    ptrString(NoteForOrder(req.OrderID)),
		Order: &sq.Order{
			LocationID:  locationID,
			ReferenceID: ptrString(strconv.FormatUint(req.OrderID, 10)),
			LineItems: []*sq.OrderLineItem{{
				Name:           ptrString(name),
				Quantity:       "1",
				BasePriceMoney: moneyPtr(req.AmountCents, req.Currency),
			}},
		},
	}
	if redirectURL != "" {
		out.CheckoutOptions = &sq.CheckoutOptions{RedirectURL: ptrString(redirectURL)}
	}
	return out
}

func refundRequest(req orders.RefundRequest) *sq.RefundPaymentRequest {
	out := &sq.RefundPaymentRequest{
		IdempotencyKey: req.IdempotencyKey,
		PaymentID:      ptrString(req.TransactionID),
		AmountMoney:    moneyPtr(req.AmountCents, req.Currency),
	}
	if req.Reason != nil {
		out.Reason = ptrString(*req.Reason)
	}
	return out
}

// paymentStatusForOrder maps a Square order onto the local payment status and
// the id of the payment that settled it, if any.
func paymentStatusForOrder(order *sq.Order) (enums.PaymentStatus, *string) {
	if order == nil {
		return enums.PaymentStatusPending, nil
	}
	var paymentID *string
	for _, tender := range order.Tenders {
		if tender == nil {
			continue
		}
		if id := stringOf(tender.PaymentID); id != "" {
			paymentID = &id
			break
		}
	}

	state := ""
	if order.State != nil {
		state = string(*order.State)
	}
	switch state {
	case orderStateCompleted:
		return enums.PaymentStatusCompleted, paymentID
	case orderStateCanceled:
		return enums.PaymentStatusFailed, paymentID
	case orderStateOpen:
		if paymentID != nil && amountDue(order) == 0 {
			return enums.PaymentStatusCompleted, paymentID
		}
	}
	return enums.PaymentStatusPending, paymentID
}

func amountDue(order *sq.Order) int64 {
	if order.NetAmountDueMoney == nil || order.NetAmountDueMoney.Amount == nil {
		return -1
	}
	return *order.NetAmountDueMoney.Amount
}

func ptrString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func int64Ptr(value int64) *int64 {
	return &value
}

func currencyPtr(code string) *sq.Currency {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		trimmed = "USD"
	}
	c := sq.Currency(trimmed)
	return &c
}

func moneyPtr(amount int64, currency string) *sq.Money {
	if amount == 0 {
		return nil
	}
	return &sq.Money{
		Amount:   int64Ptr(amount),
		Currency: currencyPtr(currency),
	}
}
