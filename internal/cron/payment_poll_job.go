package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

const defaultPollAfter = 15 * time.Minute

type pendingPaymentReader interface {
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]models.Payment, error)
	LatestFor(ctx context.Context, orderID uint64) (*models.Payment, error)
}

type statusQuerier interface {
	QueryStatus(ctx context.Context, providerOrderID string) (enums.PaymentStatus, *string, error)
}

// paymentSettler applies a gateway status through the same path webhooks use.
type paymentSettler interface {
	Settle(ctx context.Context, orderID uint64, status enums.PaymentStatus, transactionID *string) error
}

// PaymentPollJobParams configure the gateway status poll.
type PaymentPollJobParams struct {
	Logger    *logger.Logger
	Payments  pendingPaymentReader
	Gateway   statusQuerier
	Settler   paymentSettler
	PollAfter time.Duration
	BatchSize int
}

// NewPaymentPollJob asks the gateway about payments that stayed pending past
// PollAfter, recovering from webhooks that never arrived.
func NewPaymentPollJob(params PaymentPollJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments reader required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway required")
	}
	if params.Settler == nil {
		return nil, fmt.Errorf("payment settler required")
	}
	pollAfter := params.PollAfter
	if pollAfter <= 0 {
		pollAfter = defaultPollAfter
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &paymentPollJob{
		logg:      params.Logger,
		payments:  params.Payments,
		gateway:   params.Gateway,
		settler:   params.Settler,
		pollAfter: pollAfter,
		batch:     batch,
		now:       time.Now,
	}, nil
}

type paymentPollJob struct {
	logg      *logger.Logger
	payments  pendingPaymentReader
	gateway   statusQuerier
	settler   paymentSettler
	pollAfter time.Duration
	batch     int
	now       func() time.Time
}

func (j *paymentPollJob) Name() string { return "payment_status_poll" }

func (j *paymentPollJob) Run(ctx context.Context) error {
	rows, err := j.payments.ListPendingBefore(ctx, j.now().UTC().Add(-j.pollAfter), j.batch)
	if err != nil {
		return fmt.Errorf("query pending payments: %w", err)
	}
	var errs error
	settled := 0
	for _, payment := range rows {
		changed, err := j.poll(ctx, payment)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("poll payment %d: %w", payment.ID, err))
			continue
		}
		if changed {
			settled++
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"polled":  len(rows),
		"settled": settled,
	}), "payment status poll complete")
	return errs
}

func (j *paymentPollJob) poll(ctx context.Context, payment models.Payment) (bool, error) {
	if payment.ProviderOrderID == nil {
		return false, nil
	}
	// A superseded attempt says nothing about the order.
	latest, err := j.payments.LatestFor(ctx, payment.OrderID)
	if err != nil {
		return false, err
	}
	if latest.ID != payment.ID {
		return false, nil
	}

	status, transactionID, err := j.gateway.QueryStatus(ctx, *payment.ProviderOrderID)
	if err != nil {
		return false, err
	}
	if status == enums.PaymentStatusPending {
		return false, nil
	}
	if err := j.settler.Settle(ctx, payment.OrderID, status, transactionID); err != nil {
		return false, err
	}
	return true, nil
}
