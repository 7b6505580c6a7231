package main

import (
	"context"
	"errors"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/orderflow-backend/internal/bootstrap"
	"github.com/angelmondragon/orderflow-backend/internal/cron"
	squarewebhook "github.com/angelmondragon/orderflow-backend/internal/webhooks/square"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
)

const lockName = "cron-worker"

func main() {
	cfg, logg, err := bootstrap.Load("cron-worker")
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	ctx, stop := bootstrap.SignalContext(cfg, logg, "cron-0")
	defer stop()

	stack, err := bootstrap.Open(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap cron worker", err)
		os.Exit(1)
	}
	defer stack.Close(context.Background())

	service, err := newCronService(stack)
	if err != nil {
		logg.Error(ctx, "failed to create cron service", err)
		os.Exit(1)
	}

	logg.Info(ctx, "starting cron worker")
	bootstrap.ServeMetrics(ctx, cfg, logg)

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

// newCronService registers the backstop jobs: stale order expiry, payment
// status polling, pending refund retries and outbox retention.
func newCronService(stack *bootstrap.Stack) (*cron.Service, error) {
	cfg, logg := stack.Config, stack.Logger

	// The poll settles through the webhook reconciler so both paths share
	// one ledger and transition routine.
	settler, err := squarewebhook.NewService(squarewebhook.ServiceParams{
		Records:   squarewebhook.NewRecordRepository(stack.DB.DB()),
		Orders:    stack.OrderRepo,
		Payments:  stack.PaymentRepo,
		Lifecycle: stack.Orders,
		Outbox:    stack.Outbox,
		Tx:        stack.DB,
		Alerts:    stack.Alerts,
		Logger:    logg,
	})
	if err != nil {
		return nil, err
	}

	staleOrders, err := cron.NewStaleOrdersJob(cron.StaleOrdersJobParams{
		Logger:    logg,
		Orders:    stack.OrderRepo,
		Scheduler: stack.Queue,
		Retention: cfg.Orders.PaymentRetention,
		BatchSize: cfg.Cron.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	paymentPoll, err := cron.NewPaymentPollJob(cron.PaymentPollJobParams{
		Logger:    logg,
		Payments:  stack.PaymentRepo,
		Gateway:   stack.Square,
		Settler:   settler,
		PollAfter: cfg.Cron.PaymentPollAfter,
		BatchSize: cfg.Cron.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	pendingRefunds, err := cron.NewPendingRefundsJob(cron.PendingRefundsJobParams{
		Logger:    logg,
		Refunds:   stack.PaymentRepo,
		Scheduler: stack.Queue,
		BatchSize: cfg.Cron.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         stack.DB,
		Repository: stack.OutboxRepo,
	})
	if err != nil {
		return nil, err
	}

	registry, err := cron.NewRegistry(staleOrders, paymentPoll, pendingRefunds, outboxRetention)
	if err != nil {
		return nil, err
	}
	lock, err := cron.NewRedisLock(stack.Redis, stack.Redis.LockKey(lockName), cfg.Cron.LockTTL)
	if err != nil {
		return nil, err
	}

	return cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Alerts:   stack.Alerts,
		Interval: cfg.Cron.Interval,
	})
}
