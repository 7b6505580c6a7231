package orders

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/api/responses"
	internalorders "github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

type adminTransitions interface {
	Confirm(ctx context.Context, orderID uint64, actor internalorders.Actor) (*models.Order, error)
	Process(ctx context.Context, orderID uint64, actor internalorders.Actor) (*models.Order, error)
	Ship(ctx context.Context, orderID uint64, actor internalorders.Actor) (*models.Order, error)
	Deliver(ctx context.Context, orderID uint64, actor internalorders.Actor) (*models.Order, error)
	Complete(ctx context.Context, orderID uint64, actor internalorders.Actor) (*models.Order, error)
	CancelByAdmin(ctx context.Context, orderID uint64, adminID uuid.UUID, notes *string) (*models.Order, error)
	Refund(ctx context.Context, orderID uint64, adminID uuid.UUID, notes *string) (*models.Order, error)
	Return(ctx context.Context, orderID uint64, actor internalorders.Actor, notes *string) (*models.Order, error)
	ExpirePayment(ctx context.Context, orderID uint64, actor internalorders.Actor, notes *string) (*models.Order, error)
}

type orderAggregates interface {
	CountOrders(ctx context.Context, filter internalorders.AggregateFilter) (int64, error)
	Revenue(ctx context.Context, filter internalorders.AggregateFilter) (internalorders.RevenueSummary, error)
}

// AdminTransition drives one admin action. Legality is decided by the
// lifecycle service; an illegal action comes back as a state conflict.
func AdminTransition(action internalorders.Action, svc adminTransitions, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		notes, err := decodeNotes(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithField(logg.WithOrderID(ctx, orderID), "action", string(action))
		}

		var order *models.Order
		switch action {
		case internalorders.ActionConfirm:
			order, err = svc.Confirm(ctx, orderID, actor)
		case internalorders.ActionProcess:
			order, err = svc.Process(ctx, orderID, actor)
		case internalorders.ActionShip:
			order, err = svc.Ship(ctx, orderID, actor)
		case internalorders.ActionDeliver:
			order, err = svc.Deliver(ctx, orderID, actor)
		case internalorders.ActionComplete:
			order, err = svc.Complete(ctx, orderID, actor)
		case internalorders.ActionCancelByAdmin:
			order, err = svc.CancelByAdmin(ctx, orderID, actor.ID, notes)
		case internalorders.ActionRefund:
			order, err = svc.Refund(ctx, orderID, actor.ID, notes)
		case internalorders.ActionReturn:
			order, err = svc.Return(ctx, orderID, actor, notes)
		case internalorders.ActionExpire:
			order, err = svc.ExpirePayment(ctx, orderID, actor, notes)
		default:
			err = pkgerrors.New(pkgerrors.CodeValidation, "unsupported order action")
		}
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// AdminCount counts orders matching the from/to/status query filters.
func AdminCount(svc orderAggregates, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseAggregateFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		count, err := svc.CountOrders(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int64{"count": count})
	}
}

// AdminRevenue sums revenue over the same filters. A status filter can only
// narrow the set of statuses that count as revenue.
func AdminRevenue(svc orderAggregates, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseAggregateFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		summary, err := svc.Revenue(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}
