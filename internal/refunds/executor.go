package refunds

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/internal/jobs"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/internal/payments"
	"github.com/angelmondragon/orderflow-backend/pkg/alerts"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
)

const defaultGatewayTimeout = 10 * time.Second

type refundGateway interface {
	RefundPayment(ctx context.Context, req orders.RefundRequest) (string, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type ExecutorParams struct {
	Payments       payments.Repository
	Gateway        refundGateway
	Outbox         outboxPublisher
	Tx             txRunner
	Alerts         alerts.Notifier
	Logger         *logger.Logger
	GatewayTimeout time.Duration
}

// Executor runs refund.execute jobs against the payment gateway. The refund
// id is the gateway idempotency key, so a job delivered twice refunds once.
type Executor struct {
	payments payments.Repository
	gateway  refundGateway
	outbox   outboxPublisher
	tx       txRunner
	alerts   alerts.Notifier
	logg     *logger.Logger
	timeout  time.Duration
}

func NewExecutor(params ExecutorParams) (*Executor, error) {
	if params.Payments == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	e := &Executor{
		payments: params.Payments,
		gateway:  params.Gateway,
		outbox:   params.Outbox,
		tx:       params.Tx,
		alerts:   params.Alerts,
		logg:     params.Logger,
		timeout:  params.GatewayTimeout,
	}
	if e.alerts == nil {
		e.alerts = alerts.Nop{}
	}
	if e.timeout <= 0 {
		e.timeout = defaultGatewayTimeout
	}
	return e, nil
}

// IdempotencyKey is the key sent to the gateway for a refund record.
func IdempotencyKey(refundID uint64) string {
	return "refund-" + strconv.FormatUint(refundID, 10)
}

// Handle implements jobs.Handler. Gateway failures that may succeed later
// are returned so the worker retries; rejections settle the refund as failed.
func (e *Executor) Handle(ctx context.Context, job jobs.Job) error {
	if job.Kind != jobs.KindRefundExecute {
		return fmt.Errorf("unexpected job kind %q", job.Kind)
	}
	ctx = e.logg.WithFields(ctx, map[string]any{"refund_id": job.RefundID, "order_id": job.OrderID})

	refund, err := e.payments.FindRefund(ctx, job.RefundID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			e.logg.Warn(ctx, "refund job for missing refund dropped")
			return nil
		}
		return err
	}
	if refund.Status != enums.RefundStatusPending {
		e.logg.Info(e.logg.WithField(ctx, "refund_status", refund.Status), "refund already settled")
		return nil
	}

	payment, err := e.payments.FindPayment(ctx, refund.PaymentID)
	if err != nil {
		return err
	}
	if payment.TransactionID == nil || *payment.TransactionID == "" {
		return e.settle(ctx, refund, enums.RefundStatusFailed, nil,
			pkgerrors.New(pkgerrors.CodeConflict, "payment has no gateway transaction"))
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	providerRefundID, err := e.gateway.RefundPayment(callCtx, orders.RefundRequest{
		RefundID:       refund.ID,
		OrderID:        refund.OrderID,
		TransactionID:  *payment.TransactionID,
		AmountCents:    refund.AmountCents,
		Currency:       refund.Currency,
		Reason:         refund.Reason,
		IdempotencyKey: IdempotencyKey(refund.ID),
	})
	if err != nil {
		if pkgerrors.IsClientError(err) {
			return e.settle(ctx, refund, enums.RefundStatusFailed, nil, err)
		}
		msg := err.Error()
		if markErr := e.payments.MarkRefund(ctx, refund.ID, enums.RefundStatusPending, nil, &msg); markErr != nil {
			e.logg.Error(ctx, "failed to record refund attempt", markErr)
		}
		e.logg.Warn(e.logg.WithField(ctx, "error", msg), "gateway refund failed, will retry")
		return err
	}
	return e.settle(ctx, refund, enums.RefundStatusSucceeded, &providerRefundID, nil)
}

func (e *Executor) settle(ctx context.Context, refund *models.Refund, status enums.RefundStatus, providerRefundID *string, cause error) error {
	var lastError *string
	if cause != nil {
		msg := cause.Error()
		lastError = &msg
	}
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := e.payments.WithTx(tx).MarkRefund(ctx, refund.ID, status, providerRefundID, lastError); err != nil {
			return err
		}
		return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRefundSettled,
			AggregateType: enums.AggregateRefund,
			AggregateID:   strconv.FormatUint(refund.ID, 10),
			Actor:         &outbox.ActorRef{Role: string(enums.ActorRoleSystem)},
			Data: payloads.RefundSettledEvent{
				RefundID:         refund.ID,
				OrderID:          refund.OrderID,
				Status:           status,
				ProviderRefundID: providerRefundID,
			},
		})
	})
	if err != nil {
		return err
	}

	if status == enums.RefundStatusFailed {
		e.logg.Error(ctx, "refund rejected", cause)
		e.alerts.Notify(ctx, alerts.ForOrder(alerts.KindRefundFailed, refund.OrderID,
			fmt.Sprintf("refund %d for order %d needs manual handling", refund.ID, refund.OrderID), cause))
		return nil
	}
	e.logg.Info(ctx, "refund settled")
	return nil
}
