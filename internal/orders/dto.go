package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// StatusUpdate is a guarded status write: it only applies while the row is
// still in Expected.
type StatusUpdate struct {
	Expected enums.OrderStatus
	Status   enums.OrderStatus
	Notes    *string
	At       time.Time
}

// AggregateFilter narrows count and revenue queries. Nil fields are ignored.
type AggregateFilter struct {
	CustomerID *uuid.UUID
	From       *time.Time
	To         *time.Time
	Statuses   []enums.OrderStatus
}

// CartLine is one frozen line of the cart snapshot.
type CartLine struct {
	ProductID      uuid.UUID `json:"product_id" validate:"required"`
	VariantID      uuid.UUID `json:"variant_id" validate:"required"`
	Quantity       int       `json:"quantity" validate:"required,gt=0"`
	UnitPriceCents int64     `json:"unit_price_cents" validate:"gte=0"`
}

// CartSnapshot is what the cart hands over at checkout. Prices are not
// re-read from the catalog.
type CartSnapshot struct {
	Lines         []CartLine          `json:"lines" validate:"required,min=1,dive"`
	TaxCents      int64               `json:"tax_cents" validate:"gte=0"`
	ShippingCents int64               `json:"shipping_cents" validate:"gte=0"`
	DiscountCents int64               `json:"discount_cents" validate:"gte=0"`
	PaymentMethod enums.PaymentMethod `json:"payment_method" validate:"required"`
	Notes         *string             `json:"notes,omitempty"`
}

// CheckoutResult is returned by CreateFromCart.
type CheckoutResult struct {
	Order       *models.Order   `json:"order"`
	Payment     *models.Payment `json:"payment"`
	RedirectURL *string         `json:"redirect_url,omitempty"`
}

// Actor is whoever requests a transition.
type Actor struct {
	ID   uuid.UUID
	Role enums.ActorRole
}

// SystemActor is used by webhooks, timers and cron jobs.
var SystemActor = Actor{Role: enums.ActorRoleSystem}

// OrderSummary is the list representation of an order.
type OrderSummary struct {
	ID          uint64            `json:"id"`
	OrderNumber string            `json:"order_number"`
	Status      enums.OrderStatus `json:"status"`
	TotalCents  int64             `json:"total_cents"`
	Currency    string            `json:"currency"`
	CreatedAt   time.Time         `json:"created_at"`
}

// OrderList wraps a page of orders plus the next cursor.
type OrderList struct {
	Orders     []OrderSummary `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// OrderDetail is an order with its items and the authoritative payment.
type OrderDetail struct {
	Order         *models.Order      `json:"order"`
	Items         []models.OrderItem `json:"items"`
	LatestPayment *models.Payment    `json:"latest_payment,omitempty"`
}

// RevenueSummary reports revenue in major currency units.
type RevenueSummary struct {
	Currency     string          `json:"currency"`
	RevenueCents int64           `json:"revenue_cents"`
	Revenue      decimal.Decimal `json:"revenue"`
}

func newRevenueSummary(cents int64, currency string) RevenueSummary {
	return RevenueSummary{
		Currency:     currency,
		RevenueCents: cents,
		Revenue:      decimal.New(cents, -2),
	}
}
