package orders

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
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
)

type fakeGateway struct {
	mu       sync.Mutex
	requests []CheckoutLinkRequest
	err      error
}

func (g *fakeGateway) RequestCheckoutLink(ctx context.Context, req CheckoutLinkRequest) (*CheckoutLink, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return &CheckoutLink{
		URL:             "https://pay.example/" + req.OrderNumber,
		ProviderOrderID: "sq-" + req.OrderNumber,
	}, nil
}

func (g *fakeGateway) QueryStatus(ctx context.Context, providerOrderID string) (enums.PaymentStatus, *string, error) {
	return enums.PaymentStatusPending, nil, nil
}

func (g *fakeGateway) RefundPayment(ctx context.Context, req RefundRequest) (string, error) {
	return "rf-1", nil
}

type scheduledJob struct {
	delay time.Duration
	job   jobs.Job
}

type fakeScheduler struct {
	mu   sync.Mutex
	jobs []scheduledJob
	err  error
}

func (s *fakeScheduler) ScheduleOnce(ctx context.Context, delay time.Duration, job jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, scheduledJob{delay: delay, job: job})
	return nil
}

func (s *fakeScheduler) ScheduleNow(ctx context.Context, job jobs.Job) error {
	return s.ScheduleOnce(ctx, 0, job)
}

func (s *fakeScheduler) kinds() []jobs.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]jobs.Kind, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.job.Kind)
	}
	return out
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []alerts.Alert
}

func (n *fakeNotifier) Notify(ctx context.Context, alert alerts.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
}

// serialTx stands in for the row lock: sqlite ignores FOR UPDATE, so
// transactions are serialized the way Postgres would serialize them on the
// order row.
type serialTx struct {
	mu    sync.Mutex
	inner *db.Client
}

func (s *serialTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.WithTx(ctx, fn)
}

type lifecycleFixture struct {
	db        *gorm.DB
	client    *db.Client
	svc       Service
	gateway   *fakeGateway
	scheduler *fakeScheduler
	alerts    *fakeNotifier
	variant   models.ProductVariant
	customer  uuid.UUID
	admin     Actor
}

// racingRepository lets a test land a competing status write after the row
// is read under lock and before the transition writes it back.
type racingRepository struct {
	Repository
	tx    *gorm.DB
	write func(tx *gorm.DB, orderID uint64)
}

func (r *racingRepository) WithTx(tx *gorm.DB) Repository {
	return &racingRepository{Repository: r.Repository.WithTx(tx), tx: tx, write: r.write}
}

func (r *racingRepository) LockForUpdate(ctx context.Context, id uint64) (*models.Order, error) {
	order, err := r.Repository.LockForUpdate(ctx, id)
	if err == nil && r.write != nil && r.tx != nil {
		r.write(r.tx, id)
	}
	return order, err
}

func newLifecycleFixture(t *testing.T, wraps ...func(Repository) Repository) *lifecycleFixture {
	t.Helper()
	dsn := "file:lifecycle_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&models.Order{}, &models.OrderItem{}, &models.Payment{}, &models.Refund{},
		&models.ProductVariant{}, &models.OutboxEvent{},
	))

	variant := models.ProductVariant{
		ID:         uuid.New(),
		ProductID:  uuid.New(),
		SKU:        "SKU-" + uuid.NewString()[:8],
		PriceCents: 1250,
		Quantity:   10,
		IsActive:   true,
	}
	require.NoError(t, conn.Create(&variant).Error)

	logg := logger.New(logger.Options{ServiceName: "orders-test", Output: io.Discard})
	repo := NewRepository(conn)
	for _, wrap := range wraps {
		repo = wrap(repo)
	}
	client := db.Wrap(conn)
	f := &lifecycleFixture{
		db:        conn,
		client:    client,
		gateway:   &fakeGateway{},
		scheduler: &fakeScheduler{},
		alerts:    &fakeNotifier{},
		variant:   variant,
		customer:  uuid.New(),
		admin:     Actor{ID: uuid.New(), Role: enums.ActorRoleAdmin},
	}
	svc, err := NewService(ServiceParams{
		Repo:      repo,
		Payments:  payments.NewRepository(conn),
		Inventory: inventory.NewLedger(conn),
		Gateway:   f.gateway,
		Scheduler: f.scheduler,
		Outbox:    outbox.NewService(outbox.NewRepository(conn), logg),
		Alerts:    f.alerts,
		Tx:        &serialTx{inner: client},
		Logger:    logg,
		Config:    config.OrdersConfig{PaymentRetention: 24 * time.Hour, Currency: "USD", NumberAttempts: 5},
		Now:       func() time.Time { return baseTime },
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *lifecycleFixture) cart(qty int, method enums.PaymentMethod) CartSnapshot {
	return CartSnapshot{
		Lines: []CartLine{{
			ProductID:      f.variant.ProductID,
			VariantID:      f.variant.ID,
			Quantity:       qty,
			UnitPriceCents: f.variant.PriceCents,
		}},
		ShippingCents: 500,
		PaymentMethod: method,
	}
}

func (f *lifecycleFixture) stock(t *testing.T) int {
	t.Helper()
	var v models.ProductVariant
	require.NoError(t, f.db.Where("id = ?", f.variant.ID).First(&v).Error)
	return v.Quantity
}

func (f *lifecycleFixture) status(t *testing.T, orderID uint64) enums.OrderStatus {
	t.Helper()
	order, err := NewRepository(f.db).FindByID(context.Background(), orderID)
	require.NoError(t, err)
	return order.Status
}

// settle mimics the reconciler applying a successful gateway callback.
func (f *lifecycleFixture) settle(t *testing.T, orderID uint64) error {
	t.Helper()
	ctx := context.Background()
	return f.client.WithTx(ctx, func(tx *gorm.DB) error {
		paymentRepo := payments.NewRepository(tx)
		latest, err := paymentRepo.LatestLocked(ctx, orderID)
		if err != nil {
			return err
		}
		txn := "txn-" + uuid.NewString()
		if err := paymentRepo.MarkStatus(ctx, latest.ID, enums.PaymentStatusCompleted, &txn); err != nil {
			return err
		}
		_, err = f.svc.MarkPaymentSucceeded(ctx, tx, orderID)
		return err
	})
}

func (f *lifecycleFixture) checkout(t *testing.T, qty int) *CheckoutResult {
	t.Helper()
	res, err := f.svc.CreateFromCart(context.Background(), f.customer, f.cart(qty, enums.PaymentMethodCard))
	require.NoError(t, err)
	return res
}

func TestCheckoutReservesAndWebhookReplayIsNoop(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	res := f.checkout(t, 2)
	assert.Equal(t, 8, f.stock(t))
	assert.Equal(t, enums.OrderStatusPendingPayment, res.Order.Status)
	assert.Equal(t, int64(2*1250+500), res.Order.TotalCents)
	require.NotNil(t, res.RedirectURL)
	assert.Equal(t, "https://pay.example/"+res.Order.OrderNumber, *res.RedirectURL)
	require.Len(t, f.gateway.requests, 1)
	assert.Equal(t, res.Order.TotalCents, f.gateway.requests[0].AmountCents)

	require.Len(t, f.scheduler.jobs, 1)
	assert.Equal(t, jobs.ExpireOrder(res.Order.ID), f.scheduler.jobs[0].job)
	assert.Equal(t, 24*time.Hour, f.scheduler.jobs[0].delay)

	require.NoError(t, f.settle(t, res.Order.ID))
	assert.Equal(t, enums.OrderStatusProcessing, f.status(t, res.Order.ID))

	err := f.settle(t, res.Order.ID)
	require.Error(t, err)
	assert.True(t, IsInvalidTransition(err))
	assert.True(t, alreadyApplied(err))
	assert.Equal(t, enums.OrderStatusProcessing, f.status(t, res.Order.ID))
	assert.Equal(t, 8, f.stock(t))

	detail, err := f.svc.Get(ctx, res.Order.ID, Actor{ID: f.customer, Role: enums.ActorRoleCustomer})
	require.NoError(t, err)
	require.NotNil(t, detail.LatestPayment)
	assert.Equal(t, enums.PaymentStatusCompleted, detail.LatestPayment.Status)
	assert.Len(t, detail.Items, 1)

	_, err = f.svc.Get(ctx, res.Order.ID, Actor{ID: uuid.New(), Role: enums.ActorRoleCustomer})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestExpiryRestoresStockOnceAndIsIdempotent(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	res := f.checkout(t, 2)
	assert.Equal(t, 8, f.stock(t))

	expired, err := f.svc.ExpireIfUnpaid(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.True(t, expired)
	assert.Equal(t, enums.OrderStatusPaymentExpired, f.status(t, res.Order.ID))
	assert.Equal(t, 10, f.stock(t))

	expired, err = f.svc.ExpireIfUnpaid(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.False(t, expired)

	order, err := f.svc.ExpirePayment(ctx, res.Order.ID, f.admin, nil)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaymentExpired, order.Status)
	assert.Equal(t, 10, f.stock(t))
}

func TestExpiryLeavesPaidOrdersAlone(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	res := f.checkout(t, 1)
	require.NoError(t, f.settle(t, res.Order.ID))

	expired, err := f.svc.ExpireIfUnpaid(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.False(t, expired)
	assert.Equal(t, enums.OrderStatusProcessing, f.status(t, res.Order.ID))
	assert.Equal(t, 9, f.stock(t))

	// Paid but not yet reconciled: the payment row completed, the order did not move.
	other := f.checkout(t, 1)
	latest, err := payments.NewRepository(f.db).LatestFor(ctx, other.Order.ID)
	require.NoError(t, err)
	require.NoError(t, payments.NewRepository(f.db).MarkStatus(ctx, latest.ID, enums.PaymentStatusCompleted, nil))

	expired, err = f.svc.ExpireIfUnpaid(ctx, other.Order.ID)
	require.NoError(t, err)
	assert.False(t, expired)
	_, err = f.svc.ExpirePayment(ctx, other.Order.ID, f.admin, nil)
	assert.True(t, IsInvalidTransition(err))
	assert.Equal(t, enums.OrderStatusPendingPayment, f.status(t, other.Order.ID))
}

func TestEndingUnpaidOrderClosesPaymentAttempt(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	paymentRepo := payments.NewRepository(f.db)

	expired := f.checkout(t, 1)
	cancelled := f.checkout(t, 1)
	live := f.checkout(t, 1)

	ok, err := f.svc.ExpireIfUnpaid(ctx, expired.Order.ID)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.svc.CancelByCustomer(ctx, cancelled.Order.ID, f.customer)
	require.NoError(t, err)

	for _, orderID := range []uint64{expired.Order.ID, cancelled.Order.ID} {
		latest, err := paymentRepo.LatestFor(ctx, orderID)
		require.NoError(t, err)
		assert.Equal(t, enums.PaymentStatusFailed, latest.Status, "order %d", orderID)
	}
	latest, err := paymentRepo.LatestFor(ctx, live.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, latest.Status)

	var paymentEvents int64
	require.NoError(t, f.db.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventPaymentStatusChanged).
		Count(&paymentEvents).Error)
	assert.Equal(t, int64(2), paymentEvents)

	// No refund is owed for money that never arrived.
	var refunds int64
	require.NoError(t, f.db.Model(&models.Refund{}).Count(&refunds).Error)
	assert.Zero(t, refunds)
}

func TestStatusPollSeesLiveOrdersPastAbandonedCheckouts(t *testing.T) {
	f := newLifecycleFixture(t)
	f.variant.Quantity = 100
	require.NoError(t, f.db.Model(&models.ProductVariant{}).
		Where("id = ?", f.variant.ID).
		Update("quantity", 100).Error)
	ctx := context.Background()

	const batch = 10
	for i := 0; i < batch+5; i++ {
		res := f.checkout(t, 1)
		ok, err := f.svc.ExpireIfUnpaid(ctx, res.Order.ID)
		require.NoError(t, err)
		require.True(t, ok)
	}
	live := f.checkout(t, 1)

	pending, err := payments.NewRepository(f.db).ListPendingBefore(ctx, time.Now().Add(time.Hour), batch)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, live.Order.ID, pending[0].OrderID)
}

func TestAdminCancelAfterPaymentRecordsRefund(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	res := f.checkout(t, 2)
	require.NoError(t, f.settle(t, res.Order.ID))
	_, err := f.svc.Confirm(ctx, res.Order.ID, f.admin)
	require.NoError(t, err)

	notes := "customer called support"
	order, err := f.svc.CancelByAdmin(ctx, res.Order.ID, f.admin.ID, &notes)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelledByAdmin, order.Status)
	require.NotNil(t, order.CancelledAt)
	assert.Equal(t, 10, f.stock(t))

	var refunds []models.Refund
	require.NoError(t, f.db.Where("order_id = ?", res.Order.ID).Find(&refunds).Error)
	require.Len(t, refunds, 1)
	assert.Equal(t, enums.RefundStatusPending, refunds[0].Status)
	assert.Equal(t, res.Order.TotalCents, refunds[0].AmountCents)

	latest, err := payments.NewRepository(f.db).LatestFor(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, latest.Status)

	assert.Contains(t, f.scheduler.kinds(), jobs.KindRefundExecute)

	var events []models.OutboxEvent
	require.NoError(t, f.db.Where("event_type = ?", enums.EventRefundRequested).Find(&events).Error)
	assert.Len(t, events, 1)
}

func TestShipFromPendingPaymentIsRejected(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	res := f.checkout(t, 1)
	_, err := f.svc.Ship(ctx, res.Order.ID, f.admin)
	require.Error(t, err)
	assert.True(t, IsInvalidTransition(err))
	assert.False(t, alreadyApplied(err))
	assert.Equal(t, enums.OrderStatusPendingPayment, f.status(t, res.Order.ID))
	assert.Empty(t, f.alerts.alerts)

	_, err = f.svc.Ship(ctx, res.Order.ID, Actor{ID: f.customer, Role: enums.ActorRoleCustomer})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestFulfilmentPathStampsTimestamps(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	res := f.checkout(t, 1)
	require.NoError(t, f.settle(t, res.Order.ID))

	shipped, err := f.svc.Ship(ctx, res.Order.ID, f.admin)
	require.NoError(t, err)
	require.NotNil(t, shipped.ShippedAt)

	delivered, err := f.svc.Deliver(ctx, res.Order.ID, f.admin)
	require.NoError(t, err)
	require.NotNil(t, delivered.DeliveredAt)

	returned, err := f.svc.Return(ctx, res.Order.ID, Actor{ID: f.customer, Role: enums.ActorRoleCustomer}, nil)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusReturned, returned.Status)
	assert.Equal(t, 10, f.stock(t))

	_, err = f.svc.Complete(ctx, res.Order.ID, f.admin)
	assert.True(t, IsInvalidTransition(err))
}

func TestCustomerCancelChecksOwnership(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	res := f.checkout(t, 3)
	_, err := f.svc.CancelByCustomer(ctx, res.Order.ID, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
	assert.Equal(t, 7, f.stock(t))

	order, err := f.svc.CancelByCustomer(ctx, res.Order.ID, f.customer)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelledByUser, order.Status)
	assert.Equal(t, 10, f.stock(t))

	var refunds int64
	require.NoError(t, f.db.Model(&models.Refund{}).Count(&refunds).Error)
	assert.Zero(t, refunds)
}

func TestRefundReleasesStockAndMarksPayment(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	res := f.checkout(t, 4)
	require.NoError(t, f.settle(t, res.Order.ID))
	_, err := f.svc.Ship(ctx, res.Order.ID, f.admin)
	require.NoError(t, err)

	notes := "damaged in transit"
	order, err := f.svc.Refund(ctx, res.Order.ID, f.admin.ID, &notes)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusRefunded, order.Status)
	require.NotNil(t, order.Notes)
	assert.Equal(t, notes, *order.Notes)
	assert.Equal(t, 10, f.stock(t))

	_, err = f.svc.Refund(ctx, res.Order.ID, f.admin.ID, nil)
	assert.True(t, IsInvalidTransition(err))
	assert.Equal(t, 10, f.stock(t))
}

func TestCheckoutRollsBackOnFailure(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	scarce := models.ProductVariant{
		ID: uuid.New(), ProductID: uuid.New(), SKU: "SCARCE", PriceCents: 100, Quantity: 1, IsActive: true,
	}
	require.NoError(t, f.db.Create(&scarce).Error)

	cart := f.cart(2, enums.PaymentMethodCard)
	cart.Lines = append(cart.Lines, CartLine{ProductID: scarce.ProductID, VariantID: scarce.ID, Quantity: 2, UnitPriceCents: 100})
	_, err := f.svc.CreateFromCart(ctx, f.customer, cart)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Equal(t, 10, f.stock(t))

	f.gateway.err = context.DeadlineExceeded
	_, err = f.svc.CreateFromCart(ctx, f.customer, f.cart(2, enums.PaymentMethodCard))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.Equal(t, 10, f.stock(t))

	var orders int64
	require.NoError(t, f.db.Model(&models.Order{}).Count(&orders).Error)
	assert.Zero(t, orders)
	assert.Empty(t, f.scheduler.jobs)

	_, err = f.svc.CreateFromCart(ctx, f.customer, CartSnapshot{PaymentMethod: enums.PaymentMethodCard})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestCashOnDeliverySkipsGatewayAndSettlesOnComplete(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateFromCart(ctx, f.customer, f.cart(1, enums.PaymentMethodCashOnDelivery))
	require.NoError(t, err)
	assert.Nil(t, res.RedirectURL)
	assert.Empty(t, f.gateway.requests)
	assert.Empty(t, f.scheduler.jobs)
	assert.Equal(t, enums.OrderStatusProcessing, res.Order.Status)

	for _, step := range []func(context.Context, uint64, Actor) (*models.Order, error){f.svc.Ship, f.svc.Deliver, f.svc.Complete} {
		_, err := step(ctx, res.Order.ID, f.admin)
		require.NoError(t, err)
	}
	latest, err := payments.NewRepository(f.db).LatestFor(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCompleted, latest.Status)

	revenue, err := f.svc.Revenue(ctx, AggregateFilter{})
	require.NoError(t, err)
	assert.Equal(t, res.Order.TotalCents, revenue.RevenueCents)
}

func TestConcurrentTerminationsHaveOneWinner(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	res := f.checkout(t, 5)
	assert.Equal(t, 5, f.stock(t))

	attempts := []func() error{
		func() error { _, err := f.svc.CancelByAdmin(ctx, res.Order.ID, f.admin.ID, nil); return err },
		func() error { _, err := f.svc.CancelByCustomer(ctx, res.Order.ID, f.customer); return err },
		func() error { _, err := f.svc.ExpireIfUnpaid(ctx, res.Order.ID); return err },
		func() error { _, err := f.svc.CancelByAdmin(ctx, res.Order.ID, f.admin.ID, nil); return err },
	}
	errs := make([]error, len(attempts))
	var wg sync.WaitGroup
	for i, attempt := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = attempt()
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			assert.True(t, IsInvalidTransition(err), "unexpected error: %v", err)
		}
	}
	assert.Equal(t, 10, f.stock(t))
	assert.True(t, f.status(t, res.Order.ID).IsTerminal())

	var changes int64
	require.NoError(t, f.db.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventOrderStatusChanged).
		Count(&changes).Error)
	assert.Equal(t, int64(1), changes)
}

func TestTransitionLosesToStatusWrittenAfterLock(t *testing.T) {
	armed := false
	f := newLifecycleFixture(t, func(repo Repository) Repository {
		return &racingRepository{Repository: repo, write: func(tx *gorm.DB, orderID uint64) {
			if !armed {
				return
			}
			armed = false
			// The payment callback moved the order on after our read.
			require.NoError(t, tx.Model(&models.Order{}).
				Where("id = ?", orderID).
				Update("status", enums.OrderStatusProcessing).Error)
		}}
	})
	ctx := context.Background()

	res := f.checkout(t, 3)
	require.Equal(t, 7, f.stock(t))

	armed = true
	_, err := f.svc.CancelByAdmin(ctx, res.Order.ID, f.admin.ID, nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "unexpected error: %v", err)
	details, ok := pkgerrors.As(err).Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, enums.OrderStatusProcessing, details["current_status"])
	assert.Equal(t, enums.OrderStatusPendingPayment, details["expected_status"])

	// The losing transaction rolled back as a whole.
	assert.Equal(t, 7, f.stock(t))
	latest, err := payments.NewRepository(f.db).LatestFor(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, latest.Status)
	var changes int64
	require.NoError(t, f.db.Model(&models.OutboxEvent{}).
		Where("event_type IN ?", []enums.OutboxEventType{enums.EventOrderStatusChanged, enums.EventPaymentStatusChanged}).
		Count(&changes).Error)
	assert.Zero(t, changes)
}

func TestScheduleFailureAlertsButKeepsOrder(t *testing.T) {
	f := newLifecycleFixture(t)
	f.scheduler.err = errors.New("redis down")

	res := f.checkout(t, 1)
	assert.Equal(t, enums.OrderStatusPendingPayment, f.status(t, res.Order.ID))
	require.Len(t, f.alerts.alerts, 1)
	assert.Equal(t, alerts.KindJobFailed, f.alerts.alerts[0].Kind)
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}
