package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/orderflow-backend/internal/jobs"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

const defaultRefundStaleAfter = 10 * time.Minute

type pendingRefundReader interface {
	ListPendingRefunds(ctx context.Context, before time.Time, limit int) ([]models.Refund, error)
}

// PendingRefundsJobParams configure the refund backstop.
type PendingRefundsJobParams struct {
	Logger     *logger.Logger
	Refunds    pendingRefundReader
	Scheduler  jobs.Scheduler
	StaleAfter time.Duration
	BatchSize  int
}

// NewPendingRefundsJob re-enqueues refund execution for refunds that have sat
// pending longer than StaleAfter, such as those whose job exhausted its
// retries.
func NewPendingRefundsJob(params PendingRefundsJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Refunds == nil {
		return nil, fmt.Errorf("refund reader required")
	}
	if params.Scheduler == nil {
		return nil, fmt.Errorf("scheduler required")
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultRefundStaleAfter
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &pendingRefundsJob{
		logg:       params.Logger,
		refunds:    params.Refunds,
		scheduler:  params.Scheduler,
		staleAfter: staleAfter,
		batch:      batch,
		now:        time.Now,
	}, nil
}

type pendingRefundsJob struct {
	logg       *logger.Logger
	refunds    pendingRefundReader
	scheduler  jobs.Scheduler
	staleAfter time.Duration
	batch      int
	now        func() time.Time
}

func (j *pendingRefundsJob) Name() string { return "pending_refunds" }

func (j *pendingRefundsJob) Run(ctx context.Context) error {
	rows, err := j.refunds.ListPendingRefunds(ctx, j.now().UTC().Add(-j.staleAfter), j.batch)
	if err != nil {
		return fmt.Errorf("query pending refunds: %w", err)
	}
	var errs error
	for _, refund := range rows {
		if err := j.scheduler.ScheduleNow(ctx, jobs.ExecuteRefund(refund.OrderID, refund.ID)); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("schedule refund %d: %w", refund.ID, err))
		}
	}
	if len(rows) > 0 {
		j.logg.Info(j.logg.WithField(ctx, "count", len(rows)), "pending refunds re-enqueued")
	}
	return errs
}
