package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/internal/inventory"
	"github.com/angelmondragon/orderflow-backend/internal/jobs"
	"github.com/angelmondragon/orderflow-backend/internal/payments"
	"github.com/angelmondragon/orderflow-backend/pkg/alerts"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/orderflow-backend/pkg/pagination"
)

const (
	defaultProvider       = "square"
	offlineProvider       = "offline"
	defaultGatewayTimeout = 10 * time.Second
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service is the order lifecycle: checkout, every status transition and the
// read side used by the HTTP layer.
type Service interface {
	CreateFromCart(ctx context.Context, userID uuid.UUID, cart CartSnapshot) (*CheckoutResult, error)

	Confirm(ctx context.Context, orderID uint64, actor Actor) (*models.Order, error)
	Process(ctx context.Context, orderID uint64, actor Actor) (*models.Order, error)
	Ship(ctx context.Context, orderID uint64, actor Actor) (*models.Order, error)
	Deliver(ctx context.Context, orderID uint64, actor Actor) (*models.Order, error)
	Complete(ctx context.Context, orderID uint64, actor Actor) (*models.Order, error)
	CancelByCustomer(ctx context.Context, orderID uint64, userID uuid.UUID) (*models.Order, error)
	CancelByAdmin(ctx context.Context, orderID uint64, adminID uuid.UUID, notes *string) (*models.Order, error)
	Refund(ctx context.Context, orderID uint64, adminID uuid.UUID, notes *string) (*models.Order, error)
	Return(ctx context.Context, orderID uint64, actor Actor, notes *string) (*models.Order, error)
	ExpirePayment(ctx context.Context, orderID uint64, actor Actor, notes *string) (*models.Order, error)
	ExpireIfUnpaid(ctx context.Context, orderID uint64) (bool, error)
	MarkPaymentSucceeded(ctx context.Context, tx *gorm.DB, orderID uint64) (*models.Order, error)

	Get(ctx context.Context, orderID uint64, actor Actor) (*OrderDetail, error)
	GetByNumber(ctx context.Context, number string, actor Actor) (*OrderDetail, error)
	ListForCustomer(ctx context.Context, customerID uuid.UUID, params pagination.Params) (*OrderList, error)
	CountOrders(ctx context.Context, filter AggregateFilter) (int64, error)
	Revenue(ctx context.Context, filter AggregateFilter) (RevenueSummary, error)
}

// ServiceParams wires the lifecycle service. Numbers, Alerts and Now are
// optional.
type ServiceParams struct {
	Repo           Repository
	Payments       payments.Repository
	Inventory      inventory.Ledger
	Numbers        *NumberGenerator
	Gateway        Gateway
	Scheduler      jobs.Scheduler
	Outbox         outboxPublisher
	Alerts         alerts.Notifier
	Tx             txRunner
	Logger         *logger.Logger
	Config         config.OrdersConfig
	GatewayTimeout time.Duration
	Provider       string
	Now            func() time.Time
}

type service struct {
	repo           Repository
	payments       payments.Repository
	inventory      inventory.Ledger
	numbers        *NumberGenerator
	gateway        Gateway
	scheduler      jobs.Scheduler
	outbox         outboxPublisher
	alerts         alerts.Notifier
	tx             txRunner
	logg           *logger.Logger
	cfg            config.OrdersConfig
	gatewayTimeout time.Duration
	provider       string
	now            func() time.Time
}

// NewService builds the lifecycle service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Payments == nil:
		return nil, fmt.Errorf("payments repository required")
	case params.Inventory == nil:
		return nil, fmt.Errorf("inventory ledger required")
	case params.Gateway == nil:
		return nil, fmt.Errorf("payment gateway required")
	case params.Scheduler == nil:
		return nil, fmt.Errorf("job scheduler required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	if params.Config.PaymentRetention <= 0 {
		return nil, fmt.Errorf("payment retention must be positive")
	}

	s := &service{
		repo:           params.Repo,
		payments:       params.Payments,
		inventory:      params.Inventory,
		numbers:        params.Numbers,
		gateway:        params.Gateway,
		scheduler:      params.Scheduler,
		outbox:         params.Outbox,
		alerts:         params.Alerts,
		tx:             params.Tx,
		logg:           params.Logger,
		cfg:            params.Config,
		gatewayTimeout: params.GatewayTimeout,
		provider:       params.Provider,
		now:            params.Now,
	}
	if s.numbers == nil {
		s.numbers = NewNumberGenerator(params.Repo, params.Config.NumberAttempts)
	}
	if s.alerts == nil {
		s.alerts = alerts.Nop{}
	}
	if s.gatewayTimeout <= 0 {
		s.gatewayTimeout = defaultGatewayTimeout
	}
	if s.provider == "" {
		s.provider = defaultProvider
	}
	if s.cfg.Currency == "" {
		s.cfg.Currency = "USD"
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func (s *service) CreateFromCart(ctx context.Context, userID uuid.UUID, cart CartSnapshot) (*CheckoutResult, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	totals, err := priceCart(cart)
	if err != nil {
		return nil, err
	}

	number, err := s.numbers.Next(ctx)
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{"user_id": userID.String(), "order_number": number})
	var result *CheckoutResult
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ledger := s.inventory.WithTx(tx)
		if err := checkVariants(ctx, ledger, cart.Lines); err != nil {
			return err
		}
		// A failed reservation rolls back the ones already taken in this tx.
		for _, line := range cart.Lines {
			if err := ledger.Reserve(ctx, line.VariantID, line.Quantity); err != nil {
				return err
			}
		}

		order := &models.Order{
			OrderNumber:   number,
			CustomerID:    userID,
			Status:        enums.OrderStatusPendingPayment,
			PaymentMethod: cart.PaymentMethod,
			SubtotalCents: totals.subtotal,
			TaxCents:      cart.TaxCents,
			ShippingCents: cart.ShippingCents,
			DiscountCents: cart.DiscountCents,
			TotalCents:    totals.total,
			Currency:      s.cfg.Currency,
			Notes:         cart.Notes,
		}
		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, order); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "order number already taken; retry checkout")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		items := make([]models.OrderItem, 0, len(cart.Lines))
		for _, line := range cart.Lines {
			items = append(items, models.OrderItem{
				OrderID:        order.ID,
				ProductID:      line.ProductID,
				VariantID:      line.VariantID,
				Quantity:       line.Quantity,
				UnitPriceCents: line.UnitPriceCents,
				LineTotalCents: int64(line.Quantity) * line.UnitPriceCents,
			})
		}
		if err := repo.CreateItems(ctx, items); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order items")
		}
		order.Items = items

		provider := offlineProvider
		if cart.PaymentMethod.RequiresGateway() {
			provider = s.provider
		}
		paymentRepo := s.payments.WithTx(tx)
		payment, err := paymentRepo.CreateAttempt(ctx, order, provider)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment attempt")
		}

		result = &CheckoutResult{Order: order, Payment: payment}
		if cart.PaymentMethod.RequiresGateway() {
			link, err := s.requestCheckoutLink(ctx, order, payment)
			if err != nil {
				return err
			}
			if err := paymentRepo.SetCheckout(ctx, payment.ID, link.ProviderOrderID, link.URL); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record checkout link")
			}
			if link.ProviderOrderID != "" {
				payment.ProviderOrderID = &link.ProviderOrderID
			}
			if link.URL != "" {
				payment.CheckoutURL = &link.URL
				result.RedirectURL = &link.URL
			}
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   formatID(order.ID),
			Actor:         actorRef(Actor{ID: userID, Role: enums.ActorRoleCustomer}),
			Data: payloads.OrderCreatedEvent{
				OrderID:       order.ID,
				OrderNumber:   order.OrderNumber,
				CustomerID:    order.CustomerID,
				TotalCents:    order.TotalCents,
				Currency:      order.Currency,
				PaymentMethod: order.PaymentMethod,
			},
		}); err != nil {
			return err
		}

		// Cash on delivery has nothing to wait for: the order goes straight to
		// fulfilment and the payment settles when the order completes.
		if !cart.PaymentMethod.RequiresGateway() {
			accepted, _, err := s.applyTransition(ctx, tx, transitionRequest{
				orderID: order.ID,
				action:  ActionPaymentSucceeded,
				actor:   SystemActor,
			})
			if err != nil {
				return err
			}
			accepted.Items = items
			result.Order = accepted
		}
		return nil
	})
	if err != nil {
		if !pkgerrors.IsClientError(err) {
			s.logg.Error(ctx, "checkout failed", err)
		}
		return nil, asTyped(err, "checkout")
	}

	ctx = s.logg.WithOrderID(ctx, result.Order.ID)
	s.logg.Info(ctx, "order created")
	if cart.PaymentMethod.RequiresGateway() {
		s.schedule(ctx, s.cfg.PaymentRetention, jobs.ExpireOrder(result.Order.ID))
	}
	return result, nil
}

func (s *service) requestCheckoutLink(ctx context.Context, order *models.Order, payment *models.Payment) (*CheckoutLink, error) {
	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	link, err := s.gateway.RequestCheckoutLink(gctx, CheckoutLinkRequest{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PaymentID:      payment.ID,
		AmountCents:    payment.AmountCents,
		Currency:       payment.Currency,
		Method:         payment.Method,
		IdempotencyKey: fmt.Sprintf("checkout-%d-%d", order.ID, payment.ID),
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "request checkout link")
	}
	if link == nil || link.URL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway returned no checkout link")
	}
	return link, nil
}

type cartTotals struct {
	subtotal int64
	total    int64
}

func priceCart(cart CartSnapshot) (cartTotals, error) {
	if len(cart.Lines) == 0 {
		return cartTotals{}, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	if !cart.PaymentMethod.IsValid() {
		return cartTotals{}, pkgerrors.Newf(pkgerrors.CodeValidation, "unsupported payment method %q", cart.PaymentMethod)
	}
	if cart.TaxCents < 0 || cart.ShippingCents < 0 || cart.DiscountCents < 0 {
		return cartTotals{}, pkgerrors.New(pkgerrors.CodeValidation, "cart adjustments must not be negative")
	}
	var subtotal int64
	for i, line := range cart.Lines {
		if line.VariantID == uuid.Nil || line.ProductID == uuid.Nil {
			return cartTotals{}, pkgerrors.New(pkgerrors.CodeValidation, "cart line is missing its product").
				WithDetails(map[string]any{"line": i})
		}
		if line.Quantity <= 0 || line.UnitPriceCents < 0 {
			return cartTotals{}, pkgerrors.New(pkgerrors.CodeValidation, "cart line quantity and price must be positive").
				WithDetails(map[string]any{"line": i, "variant_id": line.VariantID})
		}
		subtotal += int64(line.Quantity) * line.UnitPriceCents
	}
	total := subtotal + cart.TaxCents + cart.ShippingCents - cart.DiscountCents
	if total < 0 {
		return cartTotals{}, pkgerrors.New(pkgerrors.CodeValidation, "discount exceeds order value")
	}
	return cartTotals{subtotal: subtotal, total: total}, nil
}

// checkVariants rejects lines whose variant vanished or moved to another
// product. Stock itself is checked by the atomic reservation.
func checkVariants(ctx context.Context, ledger inventory.Ledger, lines []CartLine) error {
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.VariantID)
	}
	variants, err := ledger.Variants(ctx, ids)
	if err != nil {
		return err
	}
	for _, line := range lines {
		variant, ok := variants[line.VariantID]
		if !ok {
			return pkgerrors.New(pkgerrors.CodeValidation, "variant no longer available").
				WithDetails(map[string]any{"variant_id": line.VariantID, "reason": "not_found"})
		}
		if variant.ProductID != line.ProductID {
			return pkgerrors.New(pkgerrors.CodeValidation, "variant does not belong to product").
				WithDetails(map[string]any{"variant_id": line.VariantID, "product_id": line.ProductID})
		}
		if !variant.IsActive {
			return pkgerrors.New(pkgerrors.CodeValidation, "variant is not active").
				WithDetails(map[string]any{"variant_id": line.VariantID, "reason": "inactive"})
		}
	}
	return nil
}

func (s *service) Confirm(ctx context.Context, orderID uint64, actor Actor) (*models.Order, error) {
	return s.transition(ctx, transitionRequest{orderID: orderID, action: ActionConfirm, actor: actor})
}

func (s *service) Process(ctx context.Context, orderID uint64, actor Actor) (*models.Order, error) {
	return s.transition(ctx, transitionRequest{orderID: orderID, action: ActionProcess, actor: actor})
}

func (s *service) Ship(ctx context.Context, orderID uint64, actor Actor) (*models.Order, error) {
	return s.transition(ctx, transitionRequest{orderID: orderID, action: ActionShip, actor: actor})
}

func (s *service) Deliver(ctx context.Context, orderID uint64, actor Actor) (*models.Order, error) {
	return s.transition(ctx, transitionRequest{orderID: orderID, action: ActionDeliver, actor: actor})
}

func (s *service) Complete(ctx context.Context, orderID uint64, actor Actor) (*models.Order, error) {
	return s.transition(ctx, transitionRequest{orderID: orderID, action: ActionComplete, actor: actor})
}

func (s *service) CancelByCustomer(ctx context.Context, orderID uint64, userID uuid.UUID) (*models.Order, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	return s.transition(ctx, transitionRequest{
		orderID: orderID,
		action:  ActionCancelByCustomer,
		actor:   Actor{ID: userID, Role: enums.ActorRoleCustomer},
	})
}

func (s *service) CancelByAdmin(ctx context.Context, orderID uint64, adminID uuid.UUID, notes *string) (*models.Order, error) {
	return s.transition(ctx, transitionRequest{
		orderID: orderID,
		action:  ActionCancelByAdmin,
		actor:   Actor{ID: adminID, Role: enums.ActorRoleAdmin},
		notes:   notes,
	})
}

func (s *service) Refund(ctx context.Context, orderID uint64, adminID uuid.UUID, notes *string) (*models.Order, error) {
	return s.transition(ctx, transitionRequest{
		orderID: orderID,
		action:  ActionRefund,
		actor:   Actor{ID: adminID, Role: enums.ActorRoleAdmin},
		notes:   notes,
	})
}

func (s *service) Return(ctx context.Context, orderID uint64, actor Actor, notes *string) (*models.Order, error) {
	return s.transition(ctx, transitionRequest{orderID: orderID, action: ActionReturn, actor: actor, notes: notes})
}

// ExpirePayment is idempotent: an order that already expired is returned as is.
func (s *service) ExpirePayment(ctx context.Context, orderID uint64, actor Actor, notes *string) (*models.Order, error) {
	return s.transition(ctx, transitionRequest{
		orderID:       orderID,
		action:        ActionExpire,
		actor:         actor,
		notes:         notes,
		tolerateSame:  true,
		requireUnpaid: true,
	})
}

// ExpireIfUnpaid is the sweeper entry point. It reports whether the order was
// expired by this call; a paid, already expired or otherwise moved order is a
// no-op.
func (s *service) ExpireIfUnpaid(ctx context.Context, orderID uint64) (bool, error) {
	expired := false
	order, err := s.transition(ctx, transitionRequest{
		orderID:       orderID,
		action:        ActionExpire,
		actor:         SystemActor,
		tolerateSame:  true,
		requireUnpaid: true,
		skipIfNotDue:  true,
		applied:       &expired,
	})
	if err != nil {
		return false, err
	}
	if !expired {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{"order_id": orderID, "status": order.Status}), "expiry skipped")
	}
	return expired, nil
}

// MarkPaymentSucceeded moves a PendingPayment order to Processing inside the
// caller's transaction. The caller owns commit and post-commit work.
func (s *service) MarkPaymentSucceeded(ctx context.Context, tx *gorm.DB, orderID uint64) (*models.Order, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	order, _, err := s.applyTransition(ctx, tx, transitionRequest{
		orderID: orderID,
		action:  ActionPaymentSucceeded,
		actor:   SystemActor,
	})
	return order, err
}

type transitionRequest struct {
	orderID uint64
	action  Action
	actor   Actor
	notes   *string

	// tolerateSame turns "already in the target status" into a no-op success.
	tolerateSame bool
	// requireUnpaid rejects the transition when the latest payment completed.
	requireUnpaid bool
	// skipIfNotDue turns any precondition miss into a no-op.
	skipIfNotDue bool
	applied      *bool
}

func (s *service) transition(ctx context.Context, req transitionRequest) (*models.Order, error) {
	if req.orderID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	ctx = s.logg.WithOrderID(ctx, req.orderID)
	ctx = s.logg.WithFields(ctx, map[string]any{"action": req.action, "actor_role": req.actor.Role})

	var (
		order    *models.Order
		followUp []jobs.Job
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, followUp, err = s.applyTransition(ctx, tx, req)
		return err
	})
	if err != nil {
		err = asTyped(err, string(req.action))
		s.report(ctx, req, err)
		return nil, err
	}

	for _, job := range followUp {
		s.schedule(ctx, 0, job)
	}
	return order, nil
}

// applyTransition is the locked read-decide-write unit. Everything it touches
// goes through tx so the status write and its side effects commit together.
func (s *service) applyTransition(ctx context.Context, tx *gorm.DB, req transitionRequest) (*models.Order, []jobs.Job, error) {
	repo := s.repo.WithTx(tx)
	order, err := repo.LockForUpdate(ctx, req.orderID)
	if err != nil {
		return nil, nil, err
	}
	if req.actor.Role == enums.ActorRoleCustomer && order.CustomerID != req.actor.ID {
		return nil, nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to customer")
	}

	tr, err := Resolve(order.Status, req.action, req.actor.Role)
	if err != nil {
		if req.skipIfNotDue && IsInvalidTransition(err) {
			return order, nil, nil
		}
		if req.tolerateSame && IsInvalidTransition(err) && alreadyApplied(err) {
			return order, nil, nil
		}
		return nil, nil, err
	}

	paymentRepo := s.payments.WithTx(tx)
	var latest *models.Payment
	if req.requireUnpaid || tr.Has(EffectReleaseInventory) || tr.Has(EffectRefundIfPaid) || tr.Has(EffectMarkPaymentRefunded) || tr.Action == ActionComplete {
		latest, err = paymentRepo.LatestLocked(ctx, order.ID)
		if err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, nil, err
		}
	}
	if req.requireUnpaid && latest != nil && latest.Status == enums.PaymentStatusCompleted {
		if req.skipIfNotDue {
			return order, nil, nil
		}
		return nil, nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order payment already completed").
			WithDetails(map[string]any{
				"reason":          ReasonInvalidTransition,
				"action":          req.action,
				"current_status":  order.Status,
				"already_applied": false,
			})
	}

	if tr.Has(EffectReleaseInventory) {
		items, err := repo.FindItems(ctx, order.ID)
		if err != nil {
			return nil, nil, err
		}
		if err := s.inventory.WithTx(tx).ReleaseItems(ctx, items); err != nil {
			return nil, nil, err
		}
		order.Items = items
	}

	var followUp []jobs.Job
	if (tr.Has(EffectRefundIfPaid) || tr.Has(EffectMarkPaymentRefunded)) && latest != nil && latest.Status == enums.PaymentStatusCompleted {
		job, err := s.refundPayment(ctx, tx, paymentRepo, order, latest, req)
		if err != nil {
			return nil, nil, err
		}
		if job != nil {
			followUp = append(followUp, *job)
		}
	}

	// The status poll and the amount fallback only look at pending attempts,
	// so an attempt left open on an ended order must be closed here.
	if tr.Has(EffectReleaseInventory) && latest != nil && latest.Status == enums.PaymentStatusPending {
		if err := s.abandonPayment(ctx, tx, paymentRepo, latest, req); err != nil {
			return nil, nil, err
		}
	}

	// Cash on delivery is settled when the order completes.
	if tr.Action == ActionComplete && latest != nil && latest.Method == enums.PaymentMethodCashOnDelivery && latest.Status == enums.PaymentStatusPending {
		if err := paymentRepo.MarkStatus(ctx, latest.ID, enums.PaymentStatusCompleted, nil); err != nil {
			return nil, nil, err
		}
	}

	at := s.now().UTC()
	if err := repo.UpdateStatus(ctx, order.ID, StatusUpdate{
		Expected: order.Status,
		Status:   tr.To,
		Notes:    req.notes,
		At:       at,
	}); err != nil {
		return nil, nil, err
	}

	order.Status = tr.To
	order.UpdatedAt = at
	if req.notes != nil {
		order.Notes = req.notes
	}
	stampOrder(order, tr.To, at)

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   formatID(order.ID),
		Actor:         actorRef(req.actor),
		OccurredAt:    at,
		Data: payloads.OrderStatusChangedEvent{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			CustomerID:  order.CustomerID,
			Action:      string(tr.Action),
			From:        tr.From,
			To:          tr.To,
			ChangedAt:   at,
		},
	}); err != nil {
		return nil, nil, err
	}

	if req.applied != nil {
		*req.applied = true
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"from": tr.From, "to": tr.To}), "order status changed")
	return order, followUp, nil
}

// refundPayment marks a completed payment refunded and records what is owed.
// Gateway-backed payments get a refund.execute job after commit.
func (s *service) refundPayment(ctx context.Context, tx *gorm.DB, paymentRepo payments.Repository, order *models.Order, payment *models.Payment, req transitionRequest) (*jobs.Job, error) {
	if err := paymentRepo.MarkStatus(ctx, payment.ID, enums.PaymentStatusRefunded, nil); err != nil {
		return nil, err
	}
	reason := string(req.action)
	if req.notes != nil && *req.notes != "" {
		reason = *req.notes
	}
	refund := &models.Refund{
		OrderID:     order.ID,
		PaymentID:   payment.ID,
		AmountCents: payment.AmountCents,
		Currency:    payment.Currency,
		Status:      enums.RefundStatusPending,
		Reason:      &reason,
	}
	if err := paymentRepo.CreateRefund(ctx, refund); err != nil {
		return nil, err
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventRefundRequested,
		AggregateType: enums.AggregateRefund,
		AggregateID:   formatID(refund.ID),
		Actor:         actorRef(req.actor),
		Data: payloads.RefundRequestedEvent{
			RefundID:    refund.ID,
			OrderID:     order.ID,
			PaymentID:   payment.ID,
			AmountCents: refund.AmountCents,
			Currency:    refund.Currency,
		},
	}); err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithField(ctx, "refund_id", refund.ID), "refund recorded")
	if payment.Provider == offlineProvider {
		return nil, nil
	}
	job := jobs.ExecuteRefund(order.ID, refund.ID)
	return &job, nil
}

func (s *service) abandonPayment(ctx context.Context, tx *gorm.DB, paymentRepo payments.Repository, payment *models.Payment, req transitionRequest) error {
	if err := paymentRepo.MarkStatus(ctx, payment.ID, enums.PaymentStatusFailed, nil); err != nil {
		return err
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentStatusChanged,
		AggregateType: enums.AggregatePayment,
		AggregateID:   formatID(payment.ID),
		Actor:         actorRef(req.actor),
		Data: payloads.PaymentStatusChangedEvent{
			PaymentID: payment.ID,
			OrderID:   payment.OrderID,
			Status:    enums.PaymentStatusFailed,
		},
	})
}

func (s *service) Get(ctx context.Context, orderID uint64, actor Actor) (*OrderDetail, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, asTyped(err, "load order")
	}
	return s.detail(ctx, order, actor)
}

func (s *service) GetByNumber(ctx context.Context, number string, actor Actor) (*OrderDetail, error) {
	if number == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number required")
	}
	order, err := s.repo.FindByNumber(ctx, number)
	if err != nil {
		return nil, asTyped(err, "load order")
	}
	return s.detail(ctx, order, actor)
}

func (s *service) detail(ctx context.Context, order *models.Order, actor Actor) (*OrderDetail, error) {
	// Customers never learn whether someone else's order exists.
	if actor.Role == enums.ActorRoleCustomer && order.CustomerID != actor.ID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	items, err := s.repo.FindItems(ctx, order.ID)
	if err != nil {
		return nil, asTyped(err, "load order items")
	}
	detail := &OrderDetail{Order: order, Items: items}
	latest, err := s.payments.LatestFor(ctx, order.ID)
	switch {
	case err == nil:
		detail.LatestPayment = latest
	case !pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		return nil, asTyped(err, "load latest payment")
	}
	return detail, nil
}

func (s *service) ListForCustomer(ctx context.Context, customerID uuid.UUID, params pagination.Params) (*OrderList, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	list, err := s.repo.ListForCustomer(ctx, customerID, params)
	if err != nil {
		return nil, asTyped(err, "list orders")
	}
	return list, nil
}

func (s *service) CountOrders(ctx context.Context, filter AggregateFilter) (int64, error) {
	count, err := s.repo.CountOrders(ctx, filter)
	if err != nil {
		return 0, asTyped(err, "count orders")
	}
	return count, nil
}

func (s *service) Revenue(ctx context.Context, filter AggregateFilter) (RevenueSummary, error) {
	cents, err := s.repo.SumRevenue(ctx, filter)
	if err != nil {
		return RevenueSummary{}, asTyped(err, "sum revenue")
	}
	return newRevenueSummary(cents, s.cfg.Currency), nil
}

// schedule enqueues a job after commit. A failure here never undoes the
// committed transition; the cron backstops pick the work up again.
func (s *service) schedule(ctx context.Context, delay time.Duration, job jobs.Job) {
	if err := s.scheduler.ScheduleOnce(ctx, delay, job); err != nil {
		s.logg.Error(s.logg.WithField(ctx, "job_id", job.ID), "failed to schedule job", err)
		alert := alerts.Alert{
			Kind:    alerts.KindJobFailed,
			Message: fmt.Sprintf("could not schedule %s", job.ID),
			Err:     err,
		}
		if job.OrderID != 0 {
			id := job.OrderID
			alert.OrderID = &id
		}
		s.alerts.Notify(ctx, alert)
	}
}

func (s *service) report(ctx context.Context, req transitionRequest, err error) {
	if pkgerrors.IsClientError(err) {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "order transition rejected")
		return
	}
	s.logg.Error(ctx, "order transition failed", err)
	s.alerts.Notify(ctx, alerts.ForOrder(alerts.KindTransitionFailed, req.orderID,
		fmt.Sprintf("%s failed for order %d", req.action, req.orderID), err))
}

func alreadyApplied(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil {
		return false
	}
	details, ok := typed.Details().(map[string]any)
	if !ok {
		return false
	}
	applied, _ := details["already_applied"].(bool)
	return applied
}

func stampOrder(order *models.Order, status enums.OrderStatus, at time.Time) {
	col, ok := StampColumn(status)
	if !ok {
		return
	}
	switch col {
	case "shipped_at":
		order.ShippedAt = &at
	case "delivered_at":
		order.DeliveredAt = &at
	case "cancelled_at":
		order.CancelledAt = &at
	}
}

// asTyped keeps typed errors as they are and classifies everything else as a
// dependency failure, which callers may retry.
func asTyped(err error, op string) error {
	if err == nil {
		return nil
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op+" timed out")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}

func actorRef(actor Actor) *outbox.ActorRef {
	ref := &outbox.ActorRef{Role: string(actor.Role)}
	if actor.ID != uuid.Nil {
		id := actor.ID
		ref.UserID = &id
	}
	return ref
}

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}
