package squarewebhook

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

const (
	provider        = "square"
	noteOrderPrefix = "order:"
)

// Event is the subset of a Square payment notification the reconciler reads.
type Event struct {
	MerchantID string    `json:"merchant_id"`
	Type       string    `json:"type"`
	EventID    string    `json:"event_id"`
	CreatedAt  string    `json:"created_at"`
	Data       EventData `json:"data"`
}

type EventData struct {
	Type   string      `json:"type"`
	ID     string      `json:"id"`
	Object EventObject `json:"object"`
}

type EventObject struct {
	Payment *Payment `json:"payment"`
}

// Payment mirrors Square's Payment object. ReferenceID carries our order id
// when the checkout link was created by this service.
type Payment struct {
	ID          string `json:"id"`
	OrderID     string `json:"order_id"`
	ReferenceID string `json:"reference_id"`
	Note        string `json:"note"`
	Status      string `json:"status"`
	AmountMoney Money  `json:"amount_money"`
}

type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Notification is a decoded event reduced to what reconciliation needs.
type Notification struct {
	EventID         string
	EventType       string
	TransactionID   string
	ProviderOrderID string
	MerchantOrderID string
	AmountCents     int64
	Currency        string
	Success         bool
	Pending         bool
	Raw             json.RawMessage
}

// Parse decodes a raw callback. A nil notification with a nil error means
// the event carries no payment and is ignored.
func Parse(raw []byte) (*Notification, error) {
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook payload")
	}
	payment := event.Data.Object.Payment
	if payment == nil || strings.TrimSpace(payment.ID) == "" {
		return nil, nil
	}

	success, pending := statusFlags(payment.Status)
	n := &Notification{
		EventID:         event.EventID,
		EventType:       event.Type,
		TransactionID:   payment.ID,
		ProviderOrderID: payment.OrderID,
		MerchantOrderID: merchantOrderID(payment),
		AmountCents:     payment.AmountMoney.Amount,
		Currency:        strings.ToUpper(payment.AmountMoney.Currency),
		Success:         success,
		Pending:         pending,
		Raw:             json.RawMessage(raw),
	}
	return n, nil
}

// statusFlags maps Square payment states onto the success and pending flags.
func statusFlags(status string) (success, pending bool) {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "COMPLETED":
		return true, false
	case "APPROVED", "PENDING":
		return false, true
	default:
		return false, false
	}
}

func merchantOrderID(p *Payment) string {
	if ref := strings.TrimSpace(p.ReferenceID); ref != "" {
		return ref
	}
	note := strings.TrimSpace(p.Note)
	if strings.HasPrefix(note, noteOrderPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(note, noteOrderPrefix))
	}
	return ""
}

// PaymentStatus maps the notification flags: pending, success, otherwise failed.
func (n *Notification) PaymentStatus() enums.PaymentStatus {
	switch {
	case n.Pending:
		return enums.PaymentStatusPending
	case n.Success:
		return enums.PaymentStatusCompleted
	default:
		return enums.PaymentStatusFailed
	}
}

// UniqueKey identifies one delivery of one payment state. The mapped status
// is part of the key so APPROVED and COMPLETED callbacks for the same payment
// are distinct events while redeliveries of either collapse.
func (n *Notification) UniqueKey() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d|%s",
		provider, n.TransactionID, n.ProviderOrderID, n.AmountCents, n.PaymentStatus())))
	return hex.EncodeToString(sum[:])
}

// parsedMerchantOrderID returns the merchant order id as a local order id.
func (n *Notification) parsedMerchantOrderID() (uint64, bool) {
	if n.MerchantOrderID == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(n.MerchantOrderID, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
