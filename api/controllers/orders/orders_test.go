package orders

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/orderflow-backend/api/middleware"
	"github.com/angelmondragon/orderflow-backend/internal/cart"
	internalorders "github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/pagination"
)

type stubSnapshotter struct {
	opts cart.CheckoutOptions
	err  error
}

func (s *stubSnapshotter) Snapshot(_ context.Context, _ uuid.UUID, opts cart.CheckoutOptions) (internalorders.CartSnapshot, error) {
	s.opts = opts
	if s.err != nil {
		return internalorders.CartSnapshot{}, s.err
	}
	return internalorders.CartSnapshot{
		Lines:         []internalorders.CartLine{{ProductID: uuid.New(), VariantID: uuid.New(), Quantity: 1, UnitPriceCents: 1000}},
		PaymentMethod: opts.PaymentMethod,
		Notes:         opts.Notes,
	}, nil
}

type stubOrderService struct {
	calls    []string
	lastUser uuid.UUID
	lastNote *string
	lastRole enums.ActorRole
	params   pagination.Params
	filter   internalorders.AggregateFilter
	err      error
}

func (s *stubOrderService) record(name string, actor internalorders.Actor, notes *string) (*models.Order, error) {
	s.calls = append(s.calls, name)
	s.lastUser = actor.ID
	s.lastRole = actor.Role
	s.lastNote = notes
	if s.err != nil {
		return nil, s.err
	}
	return &models.Order{ID: 42, Status: enums.OrderStatusProcessing}, nil
}

func (s *stubOrderService) CreateFromCart(_ context.Context, userID uuid.UUID, snapshot internalorders.CartSnapshot) (*internalorders.CheckoutResult, error) {
	order, err := s.record("checkout", internalorders.Actor{ID: userID, Role: enums.ActorRoleCustomer}, snapshot.Notes)
	if err != nil {
		return nil, err
	}
	url := "https://pay.example/1"
	return &internalorders.CheckoutResult{Order: order, RedirectURL: &url}, nil
}

func (s *stubOrderService) Get(_ context.Context, orderID uint64, actor internalorders.Actor) (*internalorders.OrderDetail, error) {
	order, err := s.record("get", actor, nil)
	if err != nil {
		return nil, err
	}
	order.ID = orderID
	return &internalorders.OrderDetail{Order: order}, nil
}

func (s *stubOrderService) GetByNumber(_ context.Context, number string, actor internalorders.Actor) (*internalorders.OrderDetail, error) {
	order, err := s.record("get_by_number:"+number, actor, nil)
	if err != nil {
		return nil, err
	}
	return &internalorders.OrderDetail{Order: order}, nil
}

func (s *stubOrderService) ListForCustomer(_ context.Context, customerID uuid.UUID, params pagination.Params) (*internalorders.OrderList, error) {
	s.params = params
	if _, err := s.record("list", internalorders.Actor{ID: customerID}, nil); err != nil {
		return nil, err
	}
	return &internalorders.OrderList{}, nil
}

func (s *stubOrderService) CancelByCustomer(_ context.Context, _ uint64, userID uuid.UUID) (*models.Order, error) {
	return s.record("cancel_by_customer", internalorders.Actor{ID: userID, Role: enums.ActorRoleCustomer}, nil)
}

func (s *stubOrderService) Return(_ context.Context, _ uint64, actor internalorders.Actor, notes *string) (*models.Order, error) {
	return s.record("return", actor, notes)
}

func (s *stubOrderService) Confirm(_ context.Context, _ uint64, actor internalorders.Actor) (*models.Order, error) {
	return s.record("confirm", actor, nil)
}

func (s *stubOrderService) Process(_ context.Context, _ uint64, actor internalorders.Actor) (*models.Order, error) {
	return s.record("process", actor, nil)
}

func (s *stubOrderService) Ship(_ context.Context, _ uint64, actor internalorders.Actor) (*models.Order, error) {
	return s.record("ship", actor, nil)
}

func (s *stubOrderService) Deliver(_ context.Context, _ uint64, actor internalorders.Actor) (*models.Order, error) {
	return s.record("deliver", actor, nil)
}

func (s *stubOrderService) Complete(_ context.Context, _ uint64, actor internalorders.Actor) (*models.Order, error) {
	return s.record("complete", actor, nil)
}

func (s *stubOrderService) CancelByAdmin(_ context.Context, _ uint64, adminID uuid.UUID, notes *string) (*models.Order, error) {
	return s.record("cancel_by_admin", internalorders.Actor{ID: adminID, Role: enums.ActorRoleAdmin}, notes)
}

func (s *stubOrderService) Refund(_ context.Context, _ uint64, adminID uuid.UUID, notes *string) (*models.Order, error) {
	return s.record("refund", internalorders.Actor{ID: adminID, Role: enums.ActorRoleAdmin}, notes)
}

func (s *stubOrderService) ExpirePayment(_ context.Context, _ uint64, actor internalorders.Actor, notes *string) (*models.Order, error) {
	return s.record("expire", actor, notes)
}

func (s *stubOrderService) CountOrders(_ context.Context, filter internalorders.AggregateFilter) (int64, error) {
	s.filter = filter
	return 7, s.err
}

func (s *stubOrderService) Revenue(_ context.Context, filter internalorders.AggregateFilter) (internalorders.RevenueSummary, error) {
	s.filter = filter
	return internalorders.RevenueSummary{Currency: "USD", RevenueCents: 1250}, s.err
}

func newRequest(method, target string, body io.Reader, userID uuid.UUID, role enums.ActorRole, params map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	ctx := middleware.WithRole(middleware.WithUserID(req.Context(), userID.String()), string(role))
	rc := chi.NewRouteContext()
	for k, v := range params {
		rc.URLParams.Add(k, v)
	}
	ctx = context.WithValue(ctx, chi.RouteCtxKey, rc)
	return req.WithContext(ctx)
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload.Error.Code
}

func TestCheckoutCreatesOrder(t *testing.T) {
	snaps := &stubSnapshotter{}
	svc := &stubOrderService{}
	userID := uuid.New()

	req := newRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(`{"payment_method":"card","notes":"  leave at door  "}`), userID, enums.ActorRoleCustomer, nil)
	rec := httptest.NewRecorder()
	Checkout(snaps, svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, enums.PaymentMethodCard, snaps.opts.PaymentMethod)
	require.NotNil(t, snaps.opts.Notes)
	assert.Equal(t, "leave at door", *snaps.opts.Notes)
	assert.Equal(t, []string{"checkout"}, svc.calls)
	assert.Equal(t, userID, svc.lastUser)
	assert.Contains(t, rec.Body.String(), `"redirect_url":"https://pay.example/1"`)
}

func TestCheckoutRejectsBadInput(t *testing.T) {
	svc := &stubOrderService{}
	userID := uuid.New()

	cases := []string{
		`{"payment_method":"bitcoin"}`,
		`{}`,
		`{"payment_method":"card","extra":true}`,
	}
	for _, body := range cases {
		req := newRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body), userID, enums.ActorRoleCustomer, nil)
		rec := httptest.NewRecorder()
		Checkout(&stubSnapshotter{}, svc, nil).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Empty(t, svc.calls)
}

func TestCheckoutEmptyCartIsValidationError(t *testing.T) {
	snaps := &stubSnapshotter{err: pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")}
	svc := &stubOrderService{}

	req := newRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(`{"payment_method":"cash_on_delivery"}`), uuid.New(), enums.ActorRoleCustomer, nil)
	rec := httptest.NewRecorder()
	Checkout(snaps, svc, nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeValidation), decodeErrorCode(t, rec))
	assert.Empty(t, svc.calls)
}

func TestCheckoutGatewayFailureIsRetryable(t *testing.T) {
	svc := &stubOrderService{err: pkgerrors.New(pkgerrors.CodeDependency, "gateway timeout")}

	req := newRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(`{"payment_method":"card"}`), uuid.New(), enums.ActorRoleCustomer, nil)
	rec := httptest.NewRecorder()
	Checkout(&stubSnapshotter{}, svc, nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"retryable":true`)
}

func TestCheckoutRequiresIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(`{"payment_method":"card"}`))
	rec := httptest.NewRecorder()
	Checkout(&stubSnapshotter{}, &stubOrderService{}, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListPassesPagination(t *testing.T) {
	svc := &stubOrderService{}
	req := newRequest(http.MethodGet, "/api/v1/orders?limit=10&cursor=abc", nil, uuid.New(), enums.ActorRoleCustomer, nil)
	rec := httptest.NewRecorder()
	List(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pagination.Params{Limit: 10, Cursor: "abc"}, svc.params)

	req = newRequest(http.MethodGet, "/api/v1/orders?limit=1000", nil, uuid.New(), enums.ActorRoleCustomer, nil)
	rec = httptest.NewRecorder()
	List(svc, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDetailParsesOrderID(t *testing.T) {
	svc := &stubOrderService{}
	userID := uuid.New()

	req := newRequest(http.MethodGet, "/api/v1/orders/42", nil, userID, enums.ActorRoleCustomer, map[string]string{"orderId": "42"})
	rec := httptest.NewRecorder()
	Detail(svc, nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, enums.ActorRoleCustomer, svc.lastRole)
	assert.Equal(t, userID, svc.lastUser)

	for _, raw := range []string{"abc", "0", "-1"} {
		req = newRequest(http.MethodGet, "/api/v1/orders/"+raw, nil, userID, enums.ActorRoleCustomer, map[string]string{"orderId": raw})
		rec = httptest.NewRecorder()
		Detail(svc, nil).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, raw)
	}
}

func TestDetailOfForeignOrderIsNotFound(t *testing.T) {
	svc := &stubOrderService{err: pkgerrors.New(pkgerrors.CodeNotFound, "order not found")}
	req := newRequest(http.MethodGet, "/api/v1/orders/42", nil, uuid.New(), enums.ActorRoleCustomer, map[string]string{"orderId": "42"})
	rec := httptest.NewRecorder()
	Detail(svc, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDetailByNumber(t *testing.T) {
	svc := &stubOrderService{}
	req := newRequest(http.MethodGet, "/api/v1/orders/lookup?number=ORD-20261017-0001", nil, uuid.New(), enums.ActorRoleCustomer, nil)
	rec := httptest.NewRecorder()
	DetailByNumber(svc, nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"get_by_number:ORD-20261017-0001"}, svc.calls)
}

func TestCustomerCancelAndReturn(t *testing.T) {
	svc := &stubOrderService{}
	userID := uuid.New()

	req := newRequest(http.MethodPost, "/api/v1/orders/42/cancel", nil, userID, enums.ActorRoleCustomer, map[string]string{"orderId": "42"})
	rec := httptest.NewRecorder()
	CancelOrder(svc, nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = newRequest(http.MethodPost, "/api/v1/orders/42/return", strings.NewReader(`{"notes":"wrong size"}`), userID, enums.ActorRoleCustomer, map[string]string{"orderId": "42"})
	rec = httptest.NewRecorder()
	ReturnOrder(svc, nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, svc.lastNote)
	assert.Equal(t, "wrong size", *svc.lastNote)
	assert.Equal(t, []string{"cancel_by_customer", "return"}, svc.calls)
}

func TestCancelConflictIsNotRetryable(t *testing.T) {
	svc := &stubOrderService{err: pkgerrors.New(pkgerrors.CodeStateConflict, "order already shipped").
		WithDetails(map[string]any{"already_applied": false})}
	req := newRequest(http.MethodPost, "/api/v1/orders/42/cancel", nil, uuid.New(), enums.ActorRoleCustomer, map[string]string{"orderId": "42"})
	rec := httptest.NewRecorder()
	CancelOrder(svc, nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `"retryable":false`)
	assert.Contains(t, rec.Body.String(), `"already_applied":false`)
}

func TestAdminTransitionDispatch(t *testing.T) {
	adminID := uuid.New()
	cases := map[internalorders.Action]string{
		internalorders.ActionConfirm:       "confirm",
		internalorders.ActionProcess:       "process",
		internalorders.ActionShip:          "ship",
		internalorders.ActionDeliver:       "deliver",
		internalorders.ActionComplete:      "complete",
		internalorders.ActionCancelByAdmin: "cancel_by_admin",
		internalorders.ActionRefund:        "refund",
		internalorders.ActionReturn:        "return",
		internalorders.ActionExpire:        "expire",
	}
	for action, want := range cases {
		svc := &stubOrderService{}
		req := newRequest(http.MethodPost, "/api/admin/v1/orders/42/x", nil, adminID, enums.ActorRoleAdmin, map[string]string{"orderId": "42"})
		rec := httptest.NewRecorder()
		AdminTransition(action, svc, nil).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, string(action))
		assert.Equal(t, []string{want}, svc.calls)
		assert.Equal(t, adminID, svc.lastUser)
	}
}

func TestAdminTransitionCarriesNotes(t *testing.T) {
	svc := &stubOrderService{}
	req := newRequest(http.MethodPost, "/api/admin/v1/orders/42/refund", strings.NewReader(`{"notes":"damaged in transit"}`), uuid.New(), enums.ActorRoleAdmin, map[string]string{"orderId": "42"})
	rec := httptest.NewRecorder()
	AdminTransition(internalorders.ActionRefund, svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.lastNote)
	assert.Equal(t, "damaged in transit", *svc.lastNote)
}

func TestAdminTransitionRejectsUnknownAction(t *testing.T) {
	svc := &stubOrderService{}
	req := newRequest(http.MethodPost, "/api/admin/v1/orders/42/x", nil, uuid.New(), enums.ActorRoleAdmin, map[string]string{"orderId": "42"})
	rec := httptest.NewRecorder()
	AdminTransition(internalorders.ActionPaymentSucceeded, svc, nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.calls)
}

func TestAdminAggregates(t *testing.T) {
	svc := &stubOrderService{}
	customerID := uuid.New()
	target := "/api/admin/v1/orders/stats/count?from=2026-10-01T00:00:00Z&to=2026-11-01T00:00:00Z&status=complete,delivered&customer_id=" + customerID.String()

	req := newRequest(http.MethodGet, target, nil, uuid.New(), enums.ActorRoleAdmin, nil)
	rec := httptest.NewRecorder()
	AdminCount(svc, nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"count":7`)
	require.NotNil(t, svc.filter.From)
	require.NotNil(t, svc.filter.To)
	require.NotNil(t, svc.filter.CustomerID)
	assert.Equal(t, customerID, *svc.filter.CustomerID)
	assert.Equal(t, []enums.OrderStatus{enums.OrderStatusComplete, enums.OrderStatusDelivered}, svc.filter.Statuses)

	req = newRequest(http.MethodGet, "/api/admin/v1/orders/stats/revenue", nil, uuid.New(), enums.ActorRoleAdmin, nil)
	rec = httptest.NewRecorder()
	AdminRevenue(svc, nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"revenue_cents":1250`)

	bad := []string{
		"?from=yesterday",
		"?status=lost",
		"?from=2026-11-01T00:00:00Z&to=2026-10-01T00:00:00Z",
		"?customer_id=nope",
	}
	for _, q := range bad {
		req = newRequest(http.MethodGet, "/api/admin/v1/orders/stats/count"+q, nil, uuid.New(), enums.ActorRoleAdmin, nil)
		rec = httptest.NewRecorder()
		AdminCount(svc, nil).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}
