package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/orderflow-backend/internal/jobs"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

var testNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

type fakeScheduler struct {
	scheduled []jobs.Job
	failFor   string
}

func (f *fakeScheduler) ScheduleOnce(ctx context.Context, delay time.Duration, job jobs.Job) error {
	if job.ID == f.failFor {
		return errors.New("redis down")
	}
	f.scheduled = append(f.scheduled, job)
	return nil
}

func (f *fakeScheduler) ScheduleNow(ctx context.Context, job jobs.Job) error {
	return f.ScheduleOnce(ctx, 0, job)
}

type fakeStaleReader struct {
	cutoff time.Time
	rows   []models.Order
}

func (f *fakeStaleReader) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Order, error) {
	f.cutoff = createdBefore
	return f.rows, nil
}

func TestStaleOrdersJobReschedulesExpiry(t *testing.T) {
	reader := &fakeStaleReader{rows: []models.Order{{ID: 1}, {ID: 2}, {ID: 3}}}
	scheduler := &fakeScheduler{failFor: jobs.ExpireOrder(2).ID}
	iface, err := NewStaleOrdersJob(StaleOrdersJobParams{
		Logger:    testLogger(),
		Orders:    reader,
		Scheduler: scheduler,
		Retention: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewStaleOrdersJob: %v", err)
	}
	job := iface.(*staleOrdersJob)
	job.now = func() time.Time { return testNow }

	err = job.Run(context.Background())
	if err == nil {
		t.Fatal("expected the failed schedule to be reported")
	}
	if !reader.cutoff.Equal(testNow.Add(-24 * time.Hour)) {
		t.Fatalf("unexpected cutoff %s", reader.cutoff)
	}
	if len(scheduler.scheduled) != 2 {
		t.Fatalf("expected the other two orders to be scheduled, got %d", len(scheduler.scheduled))
	}
	if scheduler.scheduled[1].ID != jobs.ExpireOrder(3).ID {
		t.Fatalf("unexpected job %s", scheduler.scheduled[1].ID)
	}

	if _, err := NewStaleOrdersJob(StaleOrdersJobParams{Logger: testLogger(), Orders: reader, Scheduler: scheduler}); err == nil {
		t.Fatal("expected missing retention to be rejected")
	}
}

type fakeRefundReader struct{ rows []models.Refund }

func (f *fakeRefundReader) ListPendingRefunds(ctx context.Context, before time.Time, limit int) ([]models.Refund, error) {
	return f.rows, nil
}

func TestPendingRefundsJobReschedulesExecution(t *testing.T) {
	scheduler := &fakeScheduler{}
	job, err := NewPendingRefundsJob(PendingRefundsJobParams{
		Logger:    testLogger(),
		Refunds:   &fakeRefundReader{rows: []models.Refund{{ID: 9, OrderID: 4}}},
		Scheduler: scheduler,
	})
	if err != nil {
		t.Fatalf("NewPendingRefundsJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(scheduler.scheduled) != 1 {
		t.Fatalf("expected one job, got %d", len(scheduler.scheduled))
	}
	got := scheduler.scheduled[0]
	if got.Kind != jobs.KindRefundExecute || got.RefundID != 9 || got.OrderID != 4 {
		t.Fatalf("unexpected job %+v", got)
	}
}

type fakePaymentReader struct {
	rows   []models.Payment
	latest map[uint64]uint64
}

func (f *fakePaymentReader) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]models.Payment, error) {
	return f.rows, nil
}

func (f *fakePaymentReader) LatestFor(ctx context.Context, orderID uint64) (*models.Payment, error) {
	return &models.Payment{ID: f.latest[orderID], OrderID: orderID}, nil
}

type fakeStatusQuerier struct {
	statuses map[string]enums.PaymentStatus
	queried  []string
}

func (f *fakeStatusQuerier) QueryStatus(ctx context.Context, providerOrderID string) (enums.PaymentStatus, *string, error) {
	f.queried = append(f.queried, providerOrderID)
	status, ok := f.statuses[providerOrderID]
	if !ok {
		return "", nil, errors.New("unknown order")
	}
	tx := "tx-" + providerOrderID
	return status, &tx, nil
}

type settleCall struct {
	orderID uint64
	status  enums.PaymentStatus
}

type fakeSettler struct{ calls []settleCall }

func (f *fakeSettler) Settle(ctx context.Context, orderID uint64, status enums.PaymentStatus, transactionID *string) error {
	f.calls = append(f.calls, settleCall{orderID: orderID, status: status})
	return nil
}

func strPtr(s string) *string { return &s }

func TestPaymentPollJobSettlesFinishedPayments(t *testing.T) {
	reader := &fakePaymentReader{
		rows: []models.Payment{
			{ID: 10, OrderID: 1, ProviderOrderID: strPtr("sq-1")},
			{ID: 11, OrderID: 2, ProviderOrderID: strPtr("sq-2")},
			{ID: 12, OrderID: 3, ProviderOrderID: strPtr("sq-3")},
			{ID: 13, OrderID: 4, ProviderOrderID: strPtr("sq-4")},
			{ID: 14, OrderID: 5},
		},
		// Order 4 has a newer attempt than the pending one.
		latest: map[uint64]uint64{1: 10, 2: 11, 3: 12, 4: 99},
	}
	querier := &fakeStatusQuerier{statuses: map[string]enums.PaymentStatus{
		"sq-1": enums.PaymentStatusCompleted,
		"sq-2": enums.PaymentStatusPending,
		"sq-4": enums.PaymentStatusCompleted,
	}}
	settler := &fakeSettler{}
	job, err := NewPaymentPollJob(PaymentPollJobParams{
		Logger:   testLogger(),
		Payments: reader,
		Gateway:  querier,
		Settler:  settler,
	})
	if err != nil {
		t.Fatalf("NewPaymentPollJob: %v", err)
	}

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected the unknown sq-3 order to be reported")
	}
	if len(settler.calls) != 1 {
		t.Fatalf("expected one settlement, got %+v", settler.calls)
	}
	if settler.calls[0].orderID != 1 || settler.calls[0].status != enums.PaymentStatusCompleted {
		t.Fatalf("unexpected settlement %+v", settler.calls[0])
	}
	for _, id := range querier.queried {
		if id == "sq-4" {
			t.Fatal("superseded attempt should not be queried")
		}
	}
}
