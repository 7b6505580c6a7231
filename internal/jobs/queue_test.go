package jobs

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

type memorySet struct {
	mu       sync.Mutex
	members  map[string]float64
	rangeErr error
}

func newMemorySet() *memorySet {
	return &memorySet{members: map[string]float64{}}
}

func (m *memorySet) ZAdd(ctx context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[member] = score
	return nil
}

func (m *memorySet) ZRangeByScore(ctx context.Context, key string, max float64, limit int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rangeErr != nil {
		return nil, m.rangeErr
	}
	var due []string
	for member, score := range m.members {
		if score <= max {
			due = append(due, member)
		}
	}
	sort.Slice(due, func(i, j int) bool { return m.members[due[i]] < m.members[due[j]] })
	if int64(len(due)) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *memorySet) ZRem(ctx context.Context, key string, member string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[member]; !ok {
		return 0, nil
	}
	delete(m.members, member)
	return 1, nil
}

func (m *memorySet) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.members)
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "jobs-test", Output: io.Discard})
}

func newTestQueue(t *testing.T, store *memorySet, now time.Time) *Queue {
	t.Helper()
	q, err := NewQueue(store, "of:jobs", testLogger())
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	q.now = func() time.Time { return now }
	return q
}

func TestQueueClaimsOnlyDueJobs(t *testing.T) {
	store := newMemorySet()
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	q := newTestQueue(t, store, now)
	ctx := context.Background()

	if err := q.ScheduleNow(ctx, ExpireOrder(1)); err != nil {
		t.Fatalf("schedule now: %v", err)
	}
	if err := q.ScheduleOnce(ctx, time.Hour, ExpireOrder(2)); err != nil {
		t.Fatalf("schedule later: %v", err)
	}

	claimed, err := q.Claim(ctx, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].OrderID != 1 {
		t.Fatalf("expected only order 1 to be due, got %+v", claimed)
	}

	q.now = func() time.Time { return now.Add(2 * time.Hour) }
	claimed, err = q.Claim(ctx, 10)
	if err != nil {
		t.Fatalf("claim later: %v", err)
	}
	if len(claimed) != 1 || claimed[0].OrderID != 2 {
		t.Fatalf("expected order 2 after an hour, got %+v", claimed)
	}
	if store.size() != 0 {
		t.Fatalf("expected empty queue, got %d members", store.size())
	}
}

func TestQueueRescheduleReplacesSameJob(t *testing.T) {
	store := newMemorySet()
	q := newTestQueue(t, store, time.Now())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := q.ScheduleOnce(ctx, time.Minute, ExpireOrder(9)); err != nil {
			t.Fatalf("schedule: %v", err)
		}
	}
	if store.size() != 1 {
		t.Fatalf("expected one member, got %d", store.size())
	}
}

func TestQueueRejectsAnonymousJobsAndBadMembers(t *testing.T) {
	store := newMemorySet()
	q := newTestQueue(t, store, time.Now())
	ctx := context.Background()

	if err := q.ScheduleNow(ctx, Job{Kind: KindOrderExpire}); err == nil {
		t.Fatal("expected error for job without id")
	}

	store.members[`{"id":"x"}`] = 0
	store.members["not json"] = 0
	claimed, err := q.Claim(ctx, 10)
	if err == nil {
		t.Fatal("expected decode errors")
	}
	if len(claimed) != 0 {
		t.Fatalf("expected nothing claimed, got %+v", claimed)
	}
	if store.size() != 0 {
		t.Fatal("undecodable members should be removed")
	}

	store.rangeErr = errors.New("redis down")
	if _, err := q.Claim(ctx, 1); err == nil {
		t.Fatal("expected range error")
	}
}

func TestJobIDsAreStable(t *testing.T) {
	if ExpireOrder(7).ID != "order.expire:7" {
		t.Fatalf("unexpected expire id %q", ExpireOrder(7).ID)
	}
	job := ExecuteRefund(7, 3)
	if job.ID != "refund.execute:3" || job.OrderID != 7 || job.RefundID != 3 {
		t.Fatalf("unexpected refund job %+v", job)
	}
}
