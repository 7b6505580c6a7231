package orders

import (
	"slices"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

// Action is a request to move an order to another status.
type Action string

const (
	ActionPaymentSucceeded Action = "payment_succeeded"
	ActionConfirm          Action = "confirm"
	ActionProcess          Action = "process"
	ActionShip             Action = "ship"
	ActionDeliver          Action = "deliver"
	ActionComplete         Action = "complete"
	ActionCancelByCustomer Action = "cancel_by_customer"
	ActionCancelByAdmin    Action = "cancel_by_admin"
	ActionExpire           Action = "expire"
	ActionRefund           Action = "refund"
	ActionReturn           Action = "return"
)

// SideEffect is work the lifecycle service performs inside the same
// transaction as the status write.
type SideEffect string

const (
	EffectReleaseInventory    SideEffect = "release_inventory"
	EffectRefundIfPaid        SideEffect = "refund_if_paid"
	EffectMarkPaymentRefunded SideEffect = "mark_payment_refunded"
)

const (
	ReasonInvalidTransition = "invalid_transition"
	ReasonActorNotAllowed   = "actor_not_allowed"
)

type rule struct {
	actors  []enums.ActorRole
	from    []enums.OrderStatus
	to      enums.OrderStatus
	effects []SideEffect
}

var nonTerminal = []enums.OrderStatus{
	enums.OrderStatusPendingPayment,
	enums.OrderStatusConfirmed,
	enums.OrderStatusProcessing,
	enums.OrderStatusShipped,
	enums.OrderStatusDelivered,
}

// transitionTable is the only place order status legality is decided.
var transitionTable = map[Action]rule{
	ActionPaymentSucceeded: {
		actors: []enums.ActorRole{enums.ActorRoleSystem},
		from:   []enums.OrderStatus{enums.OrderStatusPendingPayment},
		to:     enums.OrderStatusProcessing,
	},
	ActionConfirm: {
		actors: []enums.ActorRole{enums.ActorRoleAdmin, enums.ActorRoleSystem},
		from:   []enums.OrderStatus{enums.OrderStatusProcessing},
		to:     enums.OrderStatusConfirmed,
	},
	ActionProcess: {
		actors: []enums.ActorRole{enums.ActorRoleAdmin},
		from:   []enums.OrderStatus{enums.OrderStatusConfirmed},
		to:     enums.OrderStatusProcessing,
	},
	ActionShip: {
		actors: []enums.ActorRole{enums.ActorRoleAdmin},
		from:   []enums.OrderStatus{enums.OrderStatusConfirmed, enums.OrderStatusProcessing},
		to:     enums.OrderStatusShipped,
	},
	ActionDeliver: {
		actors: []enums.ActorRole{enums.ActorRoleAdmin},
		from:   []enums.OrderStatus{enums.OrderStatusShipped},
		to:     enums.OrderStatusDelivered,
	},
	ActionComplete: {
		actors: []enums.ActorRole{enums.ActorRoleAdmin, enums.ActorRoleSystem},
		from:   []enums.OrderStatus{enums.OrderStatusDelivered},
		to:     enums.OrderStatusComplete,
	},
	ActionCancelByCustomer: {
		actors:  []enums.ActorRole{enums.ActorRoleCustomer},
		from:    []enums.OrderStatus{enums.OrderStatusPendingPayment, enums.OrderStatusConfirmed},
		to:      enums.OrderStatusCancelledByUser,
		effects: []SideEffect{EffectReleaseInventory, EffectRefundIfPaid},
	},
	ActionCancelByAdmin: {
		actors:  []enums.ActorRole{enums.ActorRoleAdmin},
		from:    nonTerminal,
		to:      enums.OrderStatusCancelledByAdmin,
		effects: []SideEffect{EffectReleaseInventory, EffectRefundIfPaid},
	},
	ActionExpire: {
		actors:  []enums.ActorRole{enums.ActorRoleSystem, enums.ActorRoleAdmin},
		from:    []enums.OrderStatus{enums.OrderStatusPendingPayment},
		to:      enums.OrderStatusPaymentExpired,
		effects: []SideEffect{EffectReleaseInventory},
	},
	ActionRefund: {
		actors:  []enums.ActorRole{enums.ActorRoleAdmin},
		from:    []enums.OrderStatus{enums.OrderStatusConfirmed, enums.OrderStatusProcessing, enums.OrderStatusShipped},
		to:      enums.OrderStatusRefunded,
		effects: []SideEffect{EffectReleaseInventory, EffectMarkPaymentRefunded},
	},
	ActionReturn: {
		actors:  []enums.ActorRole{enums.ActorRoleCustomer, enums.ActorRoleAdmin},
		from:    []enums.OrderStatus{enums.OrderStatusDelivered},
		to:      enums.OrderStatusReturned,
		effects: []SideEffect{EffectReleaseInventory},
	},
}

// stampColumns maps a target status to the lifecycle timestamp it sets.
var stampColumns = map[enums.OrderStatus]string{
	enums.OrderStatusShipped:          "shipped_at",
	enums.OrderStatusDelivered:        "delivered_at",
	enums.OrderStatusCancelledByUser:  "cancelled_at",
	enums.OrderStatusCancelledByAdmin: "cancelled_at",
}

// Transition is an approved move produced by Resolve.
type Transition struct {
	Action  Action
	From    enums.OrderStatus
	To      enums.OrderStatus
	Effects []SideEffect
}

// Has reports whether the transition carries effect.
func (t Transition) Has(effect SideEffect) bool {
	return slices.Contains(t.Effects, effect)
}

// Resolve validates action against the current status and the actor role.
// It never mutates anything.
func Resolve(current enums.OrderStatus, action Action, actor enums.ActorRole) (Transition, error) {
	r, ok := transitionTable[action]
	if !ok {
		return Transition{}, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown order action %q", action)
	}
	if !slices.Contains(r.actors, actor) {
		return Transition{}, pkgerrors.Newf(pkgerrors.CodeForbidden, "%s may not %s an order", actor, action).
			WithDetails(map[string]any{"reason": ReasonActorNotAllowed, "action": action, "actor": actor})
	}
	if !slices.Contains(r.from, current) {
		return Transition{}, pkgerrors.Newf(pkgerrors.CodeStateConflict, "cannot %s an order in status %s", action, current).
			WithDetails(map[string]any{
				"reason":          ReasonInvalidTransition,
				"action":          action,
				"current_status":  current,
				"already_applied": current == r.to,
			})
	}
	return Transition{
		Action:  action,
		From:    current,
		To:      r.to,
		Effects: slices.Clone(r.effects),
	}, nil
}

// TargetOf returns the status an action leads to.
func TargetOf(action Action) (enums.OrderStatus, bool) {
	r, ok := transitionTable[action]
	return r.to, ok
}

// StampColumn returns the timestamp column set when an order enters status.
func StampColumn(status enums.OrderStatus) (string, bool) {
	col, ok := stampColumns[status]
	return col, ok
}

// IsInvalidTransition reports whether err is a rejected state transition.
func IsInvalidTransition(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		return false
	}
	details, ok := typed.Details().(map[string]any)
	return ok && details["reason"] == ReasonInvalidTransition
}

// AllActions lists every action in the table.
func AllActions() []Action {
	return []Action{
		ActionPaymentSucceeded, ActionConfirm, ActionProcess, ActionShip, ActionDeliver,
		ActionComplete, ActionCancelByCustomer, ActionCancelByAdmin, ActionExpire,
		ActionRefund, ActionReturn,
	}
}
