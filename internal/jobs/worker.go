package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/orderflow-backend/pkg/alerts"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
)

const (
	defaultPollInterval = time.Second
	defaultBatchSize    = 50
	defaultMaxAttempts  = 8
	defaultRetryBackoff = 30 * time.Second
	maxRetryBackoff     = 30 * time.Minute
)

type claimer interface {
	Claim(ctx context.Context, limit int) ([]Job, error)
	ScheduleOnce(ctx context.Context, delay time.Duration, job Job) error
}

// WorkerParams configure the job worker.
type WorkerParams struct {
	Queue        claimer
	Logger       *logger.Logger
	Alerts       alerts.Notifier
	Metrics      *metrics.JobMetrics
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	RetryBackoff time.Duration
}

// Worker polls the queue and dispatches due jobs to their handlers.
type Worker struct {
	queue        claimer
	logg         *logger.Logger
	alerts       alerts.Notifier
	metrics      *metrics.JobMetrics
	handlers     map[Kind]Handler
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	retryBackoff time.Duration
}

// NewWorker builds a worker with no handlers registered.
func NewWorker(params WorkerParams) (*Worker, error) {
	if params.Queue == nil {
		return nil, errors.New("job queue required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	w := &Worker{
		queue:        params.Queue,
		logg:         params.Logger,
		alerts:       params.Alerts,
		metrics:      params.Metrics,
		handlers:     map[Kind]Handler{},
		pollInterval: params.PollInterval,
		batchSize:    params.BatchSize,
		maxAttempts:  params.MaxAttempts,
		retryBackoff: params.RetryBackoff,
	}
	if w.alerts == nil {
		w.alerts = alerts.Nop{}
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = defaultMaxAttempts
	}
	if w.retryBackoff <= 0 {
		w.retryBackoff = defaultRetryBackoff
	}
	return w, nil
}

// Register binds handler to kind, replacing any previous handler.
func (w *Worker) Register(kind Kind, handler Handler) {
	if handler == nil {
		return
	}
	w.handlers[kind] = handler
}

// Run polls until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.logg.Error(ctx, "job batch finished with errors", err)
		}
		select {
		case <-ctx.Done():
			w.logg.Info(ctx, "job worker context canceled")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce claims one batch and runs it. It returns how many jobs were claimed
// and every handler or requeue failure combined.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	claimed, err := w.queue.Claim(ctx, w.batchSize)
	for _, job := range claimed {
		err = multierr.Append(err, w.dispatch(ctx, job))
	}
	return len(claimed), err
}

func (w *Worker) dispatch(ctx context.Context, job Job) error {
	jobCtx := w.logg.WithFields(ctx, map[string]any{
		"job_id":       job.ID,
		"job_kind":     job.Kind,
		"job_attempts": job.Attempts,
	})
	handler, ok := w.handlers[job.Kind]
	if !ok {
		w.logg.Warn(jobCtx, "no handler registered for job kind; dropping")
		w.observe(job.Kind, "dropped", 0)
		return nil
	}

	start := time.Now()
	err := w.safeHandle(jobCtx, handler, job)
	duration := time.Since(start)
	if err == nil {
		w.observe(job.Kind, "success", duration)
		return nil
	}

	job.Attempts++
	if job.Attempts >= w.maxAttempts {
		w.observe(job.Kind, "dropped", duration)
		w.logg.Error(jobCtx, "job exhausted retries", err)
		alert := alerts.Alert{
			Kind:    alerts.KindJobFailed,
			Message: fmt.Sprintf("job %s gave up after %d attempts", job.ID, job.Attempts),
			Err:     err,
		}
		if job.OrderID != 0 {
			id := job.OrderID
			alert.OrderID = &id
		}
		w.alerts.Notify(jobCtx, alert)
		return fmt.Errorf("job %s: %w", job.ID, err)
	}

	w.observe(job.Kind, "retry", duration)
	w.logg.Warn(w.logg.WithField(jobCtx, "error", err.Error()), "job failed; scheduling retry")
	if requeueErr := w.queue.ScheduleOnce(ctx, w.backoff(job.Attempts), job); requeueErr != nil {
		return multierr.Combine(fmt.Errorf("job %s: %w", job.ID, err), fmt.Errorf("requeue %s: %w", job.ID, requeueErr))
	}
	return fmt.Errorf("job %s: %w", job.ID, err)
}

func (w *Worker) safeHandle(ctx context.Context, handler Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return handler.Handle(ctx, job)
}

func (w *Worker) backoff(attempts int) time.Duration {
	d := w.retryBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxRetryBackoff {
			return maxRetryBackoff
		}
	}
	return d
}

func (w *Worker) observe(kind Kind, outcome string, duration time.Duration) {
	if w.metrics == nil {
		return
	}
	w.metrics.Observe(string(kind), outcome, duration)
}
