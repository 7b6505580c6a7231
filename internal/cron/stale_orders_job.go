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

const defaultBatchSize = 100

type staleOrderReader interface {
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Order, error)
}

// StaleOrdersJobParams configure the expiry backstop.
type StaleOrdersJobParams struct {
	Logger    *logger.Logger
	Orders    staleOrderReader
	Scheduler jobs.Scheduler
	Retention time.Duration
	BatchSize int
}

// NewStaleOrdersJob re-enqueues expiry for PendingPayment orders older than
// the payment window. It covers delayed jobs lost between claim and handling;
// the expiry handler re-checks the order, so re-enqueueing is harmless.
func NewStaleOrdersJob(params StaleOrdersJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders reader required")
	}
	if params.Scheduler == nil {
		return nil, fmt.Errorf("scheduler required")
	}
	if params.Retention <= 0 {
		return nil, fmt.Errorf("payment retention must be positive")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &staleOrdersJob{
		logg:      params.Logger,
		orders:    params.Orders,
		scheduler: params.Scheduler,
		retention: params.Retention,
		batch:     batch,
		now:       time.Now,
	}, nil
}

type staleOrdersJob struct {
	logg      *logger.Logger
	orders    staleOrderReader
	scheduler jobs.Scheduler
	retention time.Duration
	batch     int
	now       func() time.Time
}

func (j *staleOrdersJob) Name() string { return "stale_pending_orders" }

func (j *staleOrdersJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	rows, err := j.orders.ListStalePending(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("query stale pending orders: %w", err)
	}
	var errs error
	scheduled := 0
	for _, order := range rows {
		if err := j.scheduler.ScheduleNow(ctx, jobs.ExpireOrder(order.ID)); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("schedule expiry for order %d: %w", order.ID, err))
			continue
		}
		scheduled++
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"found":     len(rows),
		"scheduled": scheduled,
	}), "stale pending orders re-enqueued")
	return errs
}
