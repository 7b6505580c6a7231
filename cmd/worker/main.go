package main

import (
	"context"
	"errors"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/orderflow-backend/internal/bootstrap"
	"github.com/angelmondragon/orderflow-backend/internal/expiry"
	"github.com/angelmondragon/orderflow-backend/internal/jobs"
	"github.com/angelmondragon/orderflow-backend/internal/refunds"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
)

func main() {
	cfg, logg, err := bootstrap.Load("worker")
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	ctx, stop := bootstrap.SignalContext(cfg, logg, "worker-0")
	defer stop()

	stack, err := bootstrap.Open(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap worker", err)
		os.Exit(1)
	}
	defer stack.Close(context.Background())

	service, err := newWorkerService(stack)
	if err != nil {
		logg.Error(ctx, "failed to create worker service", err)
		os.Exit(1)
	}

	logg.Info(ctx, "starting worker")
	bootstrap.ServeMetrics(ctx, cfg, logg)

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "worker shutting down gracefully")
}

// newWorkerService registers the order expiry and refund handlers on the
// delayed job worker.
func newWorkerService(stack *bootstrap.Stack) (*Service, error) {
	cfg, logg := stack.Config, stack.Logger

	sweeper, err := expiry.NewSweeper(stack.Orders, logg)
	if err != nil {
		return nil, err
	}
	executor, err := refunds.NewExecutor(refunds.ExecutorParams{
		Payments:       stack.PaymentRepo,
		Gateway:        stack.Square,
		Outbox:         stack.Outbox,
		Tx:             stack.DB,
		Alerts:         stack.Alerts,
		Logger:         logg,
		GatewayTimeout: cfg.Gateway.Timeout,
	})
	if err != nil {
		return nil, err
	}

	jobWorker, err := jobs.NewWorker(jobs.WorkerParams{
		Queue:        stack.Queue,
		Logger:       logg,
		Alerts:       stack.Alerts,
		Metrics:      metrics.NewJobMetrics(prometheus.DefaultRegisterer),
		PollInterval: cfg.Jobs.PollInterval,
		BatchSize:    cfg.Jobs.BatchSize,
		MaxAttempts:  cfg.Jobs.MaxAttempts,
		RetryBackoff: cfg.Jobs.RetryBackoff,
	})
	if err != nil {
		return nil, err
	}
	jobWorker.Register(jobs.KindOrderExpire, sweeper)
	jobWorker.Register(jobs.KindRefundExecute, executor)

	return NewService(ServiceParams{
		Logger: logg,
		DB:     stack.DB,
		Redis:  stack.Redis,
		Jobs:   jobWorker,
	})
}
