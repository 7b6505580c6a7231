package squarewebhook

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/internal/payments"
	"github.com/angelmondragon/orderflow-backend/pkg/alerts"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
)

// Outcome is what happened to one delivery.
type Outcome string

const (
	OutcomeIgnored     Outcome = "ignored"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeUnresolved  Outcome = "unresolved"
	OutcomeApplied     Outcome = "applied"
	OutcomeApplyFailed Outcome = "apply_failed"
)

var errAlreadyApplied = errors.New("webhook already applied")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// paymentApplier is the slice of the order lifecycle the reconciler drives.
type paymentApplier interface {
	MarkPaymentSucceeded(ctx context.Context, tx *gorm.DB, orderID uint64) (*models.Order, error)
}

type ServiceParams struct {
	Records   RecordRepository
	Orders    orders.Repository
	Payments  payments.Repository
	Lifecycle paymentApplier
	Outbox    outboxPublisher
	Tx        txRunner
	Alerts    alerts.Notifier
	Metrics   *metrics.WebhookMetrics
	Logger    *logger.Logger
	// AllowAmountMatch enables the best-effort amount correlation fallback.
	AllowAmountMatch bool
	Now              func() time.Time
}

// Service reconciles Square payment callbacks against the payment ledger and
// the order lifecycle, exactly once per delivery key.
type Service struct {
	records          RecordRepository
	orders           orders.Repository
	payments         payments.Repository
	lifecycle        paymentApplier
	outbox           outboxPublisher
	tx               txRunner
	alerts           alerts.Notifier
	metrics          *metrics.WebhookMetrics
	logg             *logger.Logger
	allowAmountMatch bool
	now              func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Records == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook record repository required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	}
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payments repository required")
	}
	if params.Lifecycle == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order lifecycle required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox publisher required")
	}
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	s := &Service{
		records:          params.Records,
		orders:           params.Orders,
		payments:         params.Payments,
		lifecycle:        params.Lifecycle,
		outbox:           params.Outbox,
		tx:               params.Tx,
		alerts:           params.Alerts,
		metrics:          params.Metrics,
		logg:             params.Logger,
		allowAmountMatch: params.AllowAmountMatch,
		now:              params.Now,
	}
	if s.alerts == nil {
		s.alerts = alerts.Nop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Handle processes one raw callback. It returns an error only for payloads
// that are not JSON or when the audit record cannot be written; anything
// audited is acknowledged to the provider.
func (s *Service) Handle(ctx context.Context, raw []byte) (Outcome, error) {
	n, err := Parse(raw)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "dropping malformed square webhook")
		s.count(OutcomeIgnored)
		return OutcomeIgnored, err
	}
	if n == nil {
		s.logg.Info(ctx, "square webhook without payment ignored")
		s.count(OutcomeIgnored)
		return OutcomeIgnored, nil
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"event_id":          n.EventID,
		"event_type":        n.EventType,
		"transaction_id":    n.TransactionID,
		"provider_order_id": n.ProviderOrderID,
	})

	orderID, resolvedBy, err := s.resolveOrder(ctx, n)
	if err != nil {
		return OutcomeIgnored, err
	}

	record := newRecord(n, orderID, resolvedBy)
	err = s.records.Insert(ctx, record)
	switch {
	case err == nil:
		if resolvedBy == enums.WebhookResolvedAmountMatch {
			s.alerts.Notify(ctx, alerts.ForOrder(alerts.KindWebhookAmountMatch, *orderID,
				fmt.Sprintf("square payment %s matched to order %d by amount only", n.TransactionID, *orderID), nil))
		}
	case db.IsUniqueViolation(err, ""):
		existing, findErr := s.records.FindByKey(ctx, record.WebhookUniqueKey)
		if findErr != nil {
			return OutcomeIgnored, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load webhook record")
		}
		if existing.AppliedAt != nil || existing.OrderID == nil {
			s.logg.Info(ctx, "duplicate square webhook absorbed")
			s.count(OutcomeDuplicate)
			return OutcomeDuplicate, nil
		}
		// Audited earlier but the apply failed: the redelivery retries it.
		record = existing
	default:
		return OutcomeIgnored, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "audit webhook")
	}

	if record.OrderID == nil {
		s.logg.Warn(ctx, "square webhook could not be matched to an order")
		s.alerts.Notify(ctx, alerts.Alert{
			Kind:    alerts.KindWebhookUnresolved,
			Message: fmt.Sprintf("square payment %s has no matching order", n.TransactionID),
			Fields: map[string]any{
				"record_id":    record.ID,
				"amount_cents": n.AmountCents,
				"currency":     n.Currency,
			},
		})
		s.count(OutcomeUnresolved)
		return OutcomeUnresolved, nil
	}

	outcome := s.apply(ctx, record, n.PaymentStatus())
	s.count(outcome)
	return outcome, nil
}

// resolveOrder prefers the merchant order id, then the gateway order
// reference and, only when enabled, the amount fallback.
func (s *Service) resolveOrder(ctx context.Context, n *Notification) (*uint64, enums.WebhookResolution, error) {
	if id, ok := n.parsedMerchantOrderID(); ok {
		_, err := s.orders.FindByID(ctx, id)
		switch {
		case err == nil:
			return &id, enums.WebhookResolvedMerchantOrderID, nil
		case !pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
			return nil, enums.WebhookResolvedNone, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve merchant order")
		}
	}

	if n.ProviderOrderID != "" {
		payment, err := s.payments.FindByProviderOrderID(ctx, n.ProviderOrderID)
		switch {
		case err == nil:
			id := payment.OrderID
			return &id, enums.WebhookResolvedProviderOrderID, nil
		case !pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
			return nil, enums.WebhookResolvedNone, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve provider order")
		}
	}

	if s.allowAmountMatch && n.AmountCents > 0 {
		payment, err := s.payments.FindLatestByAmount(ctx, n.AmountCents, n.Currency)
		switch {
		case err == nil:
			id := payment.OrderID
			s.logg.Warn(s.logg.WithOrderID(ctx, id), "square webhook resolved by amount match")
			return &id, enums.WebhookResolvedAmountMatch, nil
		case !pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
			return nil, enums.WebhookResolvedNone, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve by amount")
		}
	}
	return nil, enums.WebhookResolvedNone, nil
}

func (s *Service) apply(ctx context.Context, record *models.PaymentWebhookRecord, status enums.PaymentStatus) Outcome {
	orderID := *record.OrderID
	ctx = s.logg.WithOrderID(ctx, orderID)
	txID := record.TransactionID

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		records := s.records.WithTx(tx)
		locked, err := records.LockByID(ctx, record.ID)
		if err != nil {
			return err
		}
		if locked.AppliedAt != nil {
			return errAlreadyApplied
		}
		if err := s.settle(ctx, tx, orderID, status, &txID); err != nil {
			return err
		}
		return records.MarkApplied(ctx, record.ID, s.now().UTC())
	})
	if errors.Is(err, errAlreadyApplied) {
		s.logg.Info(ctx, "square webhook applied concurrently")
		return OutcomeDuplicate
	}
	if err != nil {
		s.logg.Error(ctx, "failed to apply square webhook", err)
		if markErr := s.records.MarkApplyError(ctx, record.ID, err.Error()); markErr != nil {
			s.logg.Error(ctx, "failed to record webhook apply error", markErr)
		}
		s.alerts.Notify(ctx, alerts.ForOrder(alerts.KindWebhookApplyFailed, orderID,
			fmt.Sprintf("square payment %s audited but not applied", txID), err))
		return OutcomeApplyFailed
	}
	s.logg.Info(s.logg.WithField(ctx, "payment_status", status), "square webhook applied")
	return OutcomeApplied
}

// Settle applies a gateway payment status outside of a webhook delivery, for
// example from the status poll.
func (s *Service) Settle(ctx context.Context, orderID uint64, status enums.PaymentStatus, transactionID *string) error {
	ctx = s.logg.WithOrderID(ctx, orderID)
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.settle(ctx, tx, orderID, status, transactionID)
	})
}

// settle updates the authoritative payment and, on completion, moves the
// order out of PendingPayment. The order row is locked first.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, orderID uint64, status enums.PaymentStatus, transactionID *string) error {
	order, err := s.orders.WithTx(tx).LockForUpdate(ctx, orderID)
	if err != nil {
		return err
	}
	paymentRepo := s.payments.WithTx(tx)
	latest, err := paymentRepo.LatestLocked(ctx, orderID)
	if err != nil {
		return err
	}

	if latest.Status == enums.PaymentStatusRefunded ||
		(latest.Status == enums.PaymentStatusCompleted && status != enums.PaymentStatusCompleted) {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"incoming_status": status,
			"payment_status":  latest.Status,
		}), "ignoring status change of a settled payment")
		return nil
	}

	if latest.Status != status || (transactionID != nil && latest.TransactionID == nil) {
		if err := paymentRepo.MarkStatus(ctx, latest.ID, status, transactionID); err != nil {
			return err
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentStatusChanged,
			AggregateType: enums.AggregatePayment,
			AggregateID:   strconv.FormatUint(latest.ID, 10),
			Actor:         &outbox.ActorRef{Role: string(enums.ActorRoleSystem)},
			Data: payloads.PaymentStatusChangedEvent{
				PaymentID:     latest.ID,
				OrderID:       orderID,
				Status:        status,
				TransactionID: transactionID,
			},
		}); err != nil {
			return err
		}
	}

	if status != enums.PaymentStatusCompleted {
		return nil
	}
	switch {
	case order.Status == enums.OrderStatusPendingPayment:
		_, err := s.lifecycle.MarkPaymentSucceeded(ctx, tx, orderID)
		return err
	case order.Status.IsTerminal():
		// Money arrived for an order that already ended; a person decides
		// whether to refund or reopen.
		s.logg.Warn(s.logg.WithField(ctx, "order_status", order.Status), "payment completed for a terminal order")
		s.alerts.Notify(ctx, alerts.ForOrder(alerts.KindPaymentAfterTerminal, orderID,
			fmt.Sprintf("payment completed for order %d in status %s", orderID, order.Status), nil))
	}
	return nil
}

func (s *Service) count(outcome Outcome) {
	s.metrics.IncOutcome(provider, string(outcome))
}

func newRecord(n *Notification, orderID *uint64, resolvedBy enums.WebhookResolution) *models.PaymentWebhookRecord {
	record := &models.PaymentWebhookRecord{
		WebhookUniqueKey: n.UniqueKey(),
		Provider:         provider,
		EventType:        n.EventType,
		TransactionID:    n.TransactionID,
		OrderID:          orderID,
		ResolvedBy:       resolvedBy,
		AmountCents:      n.AmountCents,
		Currency:         n.Currency,
		Success:          n.Success,
		Pending:          n.Pending,
		RawPayload:       n.Raw,
	}
	if n.EventID != "" {
		record.EventID = &n.EventID
	}
	if n.ProviderOrderID != "" {
		record.ProviderOrderID = &n.ProviderOrderID
	}
	if n.MerchantOrderID != "" {
		record.MerchantOrderID = &n.MerchantOrderID
	}
	return record
}
