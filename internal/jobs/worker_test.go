package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/orderflow-backend/pkg/alerts"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
)

type stubClaimer struct {
	mu        sync.Mutex
	due       []Job
	scheduled []Job
	delays    []time.Duration
}

func (s *stubClaimer) Claim(ctx context.Context, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.due
	s.due = nil
	return out, nil
}

func (s *stubClaimer) ScheduleOnce(ctx context.Context, delay time.Duration, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled = append(s.scheduled, job)
	s.delays = append(s.delays, delay)
	return nil
}

type recordingNotifier struct {
	alerts []alerts.Alert
}

func (r *recordingNotifier) Notify(ctx context.Context, alert alerts.Alert) {
	r.alerts = append(r.alerts, alert)
}

func newTestWorker(t *testing.T, q *stubClaimer, notifier alerts.Notifier) *Worker {
	t.Helper()
	w, err := NewWorker(WorkerParams{
		Queue:        q,
		Logger:       testLogger(),
		Alerts:       notifier,
		Metrics:      metrics.NewJobMetrics(prometheus.NewRegistry()),
		MaxAttempts:  3,
		RetryBackoff: time.Second,
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return w
}

func TestWorkerDispatchesByKind(t *testing.T) {
	q := &stubClaimer{due: []Job{ExpireOrder(1), ExecuteRefund(1, 2)}}
	w := newTestWorker(t, q, nil)

	var handled []Kind
	record := HandlerFunc(func(ctx context.Context, job Job) error {
		handled = append(handled, job.Kind)
		return nil
	})
	w.Register(KindOrderExpire, record)
	w.Register(KindRefundExecute, record)

	n, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if n != 2 || len(handled) != 2 {
		t.Fatalf("expected 2 handled jobs, got n=%d handled=%v", n, handled)
	}
	if len(q.scheduled) != 0 {
		t.Fatalf("no retries expected, got %+v", q.scheduled)
	}
}

func TestWorkerRetriesWithBackoffThenAlerts(t *testing.T) {
	q := &stubClaimer{due: []Job{ExpireOrder(5)}}
	notifier := &recordingNotifier{}
	w := newTestWorker(t, q, notifier)
	w.Register(KindOrderExpire, HandlerFunc(func(ctx context.Context, job Job) error {
		return errors.New("db unavailable")
	}))

	if _, err := w.RunOnce(context.Background()); err == nil {
		t.Fatal("expected handler error")
	}
	if len(q.scheduled) != 1 || q.scheduled[0].Attempts != 1 || q.delays[0] != time.Second {
		t.Fatalf("expected first retry after 1s, got %+v %v", q.scheduled, q.delays)
	}

	q.due = []Job{q.scheduled[0]}
	_, _ = w.RunOnce(context.Background())
	if len(q.delays) != 2 || q.delays[1] != 2*time.Second {
		t.Fatalf("expected doubled backoff, got %v", q.delays)
	}

	q.due = []Job{q.scheduled[1]}
	_, _ = w.RunOnce(context.Background())
	if len(q.scheduled) != 2 {
		t.Fatalf("job should be dropped on the last attempt, got %d schedules", len(q.scheduled))
	}
	if len(notifier.alerts) != 1 || notifier.alerts[0].Kind != alerts.KindJobFailed {
		t.Fatalf("expected one job_failed alert, got %+v", notifier.alerts)
	}
	if notifier.alerts[0].OrderID == nil || *notifier.alerts[0].OrderID != 5 {
		t.Fatalf("alert should carry the order id")
	}
}

func TestWorkerRecoversHandlerPanics(t *testing.T) {
	q := &stubClaimer{due: []Job{ExpireOrder(1)}}
	w := newTestWorker(t, q, nil)
	w.Register(KindOrderExpire, HandlerFunc(func(ctx context.Context, job Job) error {
		panic("boom")
	}))

	if _, err := w.RunOnce(context.Background()); err == nil {
		t.Fatal("expected panic to surface as error")
	}
	if len(q.scheduled) != 1 {
		t.Fatal("panicking job should be retried")
	}
}

func TestWorkerDropsUnknownKinds(t *testing.T) {
	q := &stubClaimer{due: []Job{{ID: "x", Kind: "mystery"}}}
	w := newTestWorker(t, q, nil)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("unknown kinds are dropped without error: %v", err)
	}
	if len(q.scheduled) != 0 {
		t.Fatal("unknown kinds must not be retried")
	}
}

func TestWorkerBackoffIsCapped(t *testing.T) {
	w := &Worker{retryBackoff: time.Minute}
	if got := w.backoff(20); got != maxRetryBackoff {
		t.Fatalf("expected cap %v, got %v", maxRetryBackoff, got)
	}
}

func TestNewWorkerValidates(t *testing.T) {
	if _, err := NewWorker(WorkerParams{}); err == nil {
		t.Fatal("expected error without queue")
	}
}
