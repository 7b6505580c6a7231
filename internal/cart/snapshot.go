package cart

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

var basisPoints = decimal.NewFromInt(10_000)

// CheckoutOptions are the buyer's choices made at checkout.
type CheckoutOptions struct {
	PaymentMethod enums.PaymentMethod
	Notes         *string
}

// Snapshotter freezes a user's cart into the snapshot the order service
// prices from. Unit prices are read once here and never again.
type Snapshotter struct {
	repo Repository
	cfg  config.CheckoutConfig
}

func NewSnapshotter(repo Repository, cfg config.CheckoutConfig) *Snapshotter {
	return &Snapshotter{repo: repo, cfg: cfg}
}

func (s *Snapshotter) Snapshot(ctx context.Context, userID uuid.UUID, opts CheckoutOptions) (orders.CartSnapshot, error) {
	if !opts.PaymentMethod.IsValid() {
		return orders.CartSnapshot{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}
	rows, err := s.repo.LinesForUser(ctx, userID)
	if err != nil {
		return orders.CartSnapshot{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if len(rows) == 0 {
		return orders.CartSnapshot{}, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}

	lines := make([]orders.CartLine, 0, len(rows))
	var subtotal int64
	for _, row := range rows {
		if !row.VariantFound || !row.VariantActive {
			return orders.CartSnapshot{}, pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("variant %s is no longer available", row.VariantID)).
				WithDetails(map[string]any{"variant_id": row.VariantID})
		}
		lines = append(lines, orders.CartLine{
			ProductID:      row.ProductID,
			VariantID:      row.VariantID,
			Quantity:       row.Quantity,
			UnitPriceCents: row.UnitPriceCents,
		})
		subtotal += row.UnitPriceCents * int64(row.Quantity)
	}

	return orders.CartSnapshot{
		Lines:         lines,
		TaxCents:      s.tax(subtotal),
		ShippingCents: s.shipping(subtotal),
		PaymentMethod: opts.PaymentMethod,
		Notes:         opts.Notes,
	}, nil
}

// tax rounds half away from zero to the cent.
func (s *Snapshotter) tax(subtotal int64) int64 {
	if s.cfg.TaxRateBps <= 0 {
		return 0
	}
	return decimal.NewFromInt(subtotal).
		Mul(decimal.NewFromInt(int64(s.cfg.TaxRateBps))).
		Div(basisPoints).
		Round(0).
		IntPart()
}

func (s *Snapshotter) shipping(subtotal int64) int64 {
	if s.cfg.FreeShippingOverCents > 0 && subtotal >= s.cfg.FreeShippingOverCents {
		return 0
	}
	return s.cfg.FlatShippingCents
}
