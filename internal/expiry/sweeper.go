package expiry

import (
	"context"
	"fmt"

	"github.com/angelmondragon/orderflow-backend/internal/jobs"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

type expirer interface {
	ExpireIfUnpaid(ctx context.Context, orderID uint64) (bool, error)
}

// Sweeper runs order.expire jobs. It holds no state of its own; the order
// lock taken by ExpireIfUnpaid decides whether the order is still due.
type Sweeper struct {
	orders expirer
	logg   *logger.Logger
}

func NewSweeper(orders expirer, logg *logger.Logger) (*Sweeper, error) {
	if orders == nil {
		return nil, fmt.Errorf("order service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Sweeper{orders: orders, logg: logg}, nil
}

// Handle implements jobs.Handler.
func (s *Sweeper) Handle(ctx context.Context, job jobs.Job) error {
	if job.Kind != jobs.KindOrderExpire {
		return fmt.Errorf("unexpected job kind %q", job.Kind)
	}
	if job.OrderID == 0 {
		s.logg.Warn(s.logg.WithField(ctx, "job_id", job.ID), "expiry job without order id dropped")
		return nil
	}
	ctx = s.logg.WithOrderID(ctx, job.OrderID)

	expired, err := s.orders.ExpireIfUnpaid(ctx, job.OrderID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			s.logg.Warn(ctx, "expiry job for missing order dropped")
			return nil
		}
		return err
	}
	if expired {
		s.logg.Info(ctx, "unpaid order expired")
	}
	return nil
}
