package jobs

import (
	"context"
	"errors"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

// sortedSet is the slice of the redis client the queue needs.
type sortedSet interface {
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRangeByScore(ctx context.Context, key string, max float64, limit int64) ([]string, error)
	ZRem(ctx context.Context, key string, member string) (int64, error)
}

// Queue is a delayed job queue backed by a Redis sorted set scored by due
// time in unix milliseconds.
type Queue struct {
	store sortedSet
	key   string
	logg  *logger.Logger
	now   func() time.Time
}

// NewQueue binds a queue to key in store.
func NewQueue(store sortedSet, key string, logg *logger.Logger) (*Queue, error) {
	if store == nil {
		return nil, errors.New("queue store required")
	}
	if key == "" {
		return nil, errors.New("queue key required")
	}
	return &Queue{store: store, key: key, logg: logg, now: time.Now}, nil
}

func (q *Queue) ScheduleOnce(ctx context.Context, delay time.Duration, job Job) error {
	if job.Kind == "" || job.ID == "" {
		return errors.New("job kind and id are required")
	}
	if delay < 0 {
		delay = 0
	}
	member, err := encode(job)
	if err != nil {
		return err
	}
	due := q.now().Add(delay)
	if err := q.store.ZAdd(ctx, q.key, float64(due.UnixMilli()), member); err != nil {
		return err
	}
	if q.logg != nil {
		q.logg.Info(q.logg.WithFields(ctx, map[string]any{
			"job_id":   job.ID,
			"job_kind": job.Kind,
			"due_at":   due.UTC(),
		}), "job scheduled")
	}
	return nil
}

func (q *Queue) ScheduleNow(ctx context.Context, job Job) error {
	return q.ScheduleOnce(ctx, 0, job)
}

// Claim removes and returns up to limit due jobs. Removal is the claim: a
// member another worker already removed is skipped. Undecodable members are
// dropped and reported in the error.
func (q *Queue) Claim(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 1
	}
	members, err := q.store.ZRangeByScore(ctx, q.key, float64(q.now().UnixMilli()), int64(limit))
	if err != nil {
		return nil, err
	}
	var (
		claimed []Job
		errs    error
	)
	for _, member := range members {
		removed, err := q.store.ZRem(ctx, q.key, member)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if removed == 0 {
			continue
		}
		job, err := decode(member)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		claimed = append(claimed, job)
	}
	return claimed, errs
}
