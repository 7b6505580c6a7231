package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Kind selects the handler that runs a job.
type Kind string

const (
	KindOrderExpire   Kind = "order.expire"
	KindRefundExecute Kind = "refund.execute"
)

// QueueName is the queue every process schedules onto and the worker drains.
const QueueName = "jobs"

// Job is plain data; the behaviour lives in the handler registered for Kind.
// Delivery is at-least-once, so handlers re-check their preconditions.
type Job struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	OrderID  uint64 `json:"order_id,omitempty"`
	RefundID uint64 `json:"refund_id,omitempty"`
	Attempts int    `json:"attempts"`
}

// Scheduler enqueues jobs for later execution.
type Scheduler interface {
	ScheduleOnce(ctx context.Context, delay time.Duration, job Job) error
	ScheduleNow(ctx context.Context, job Job) error
}

// Handler runs one job kind.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job Job) error

func (f HandlerFunc) Handle(ctx context.Context, job Job) error { return f(ctx, job) }

// ExpireOrder builds the payment-window expiry job. The ID is stable per
// order so re-scheduling replaces rather than duplicates it.
func ExpireOrder(orderID uint64) Job {
	return Job{ID: fmt.Sprintf("%s:%d", KindOrderExpire, orderID), Kind: KindOrderExpire, OrderID: orderID}
}

// ExecuteRefund builds the gateway refund job for a refund record.
func ExecuteRefund(orderID, refundID uint64) Job {
	return Job{ID: fmt.Sprintf("%s:%d", KindRefundExecute, refundID), Kind: KindRefundExecute, OrderID: orderID, RefundID: refundID}
}

func encode(job Job) (string, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decode(member string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(member), &job); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if job.Kind == "" {
		return Job{}, fmt.Errorf("decode job: missing kind")
	}
	return job, nil
}
