package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

// Ledger reserves and releases variant stock with single-statement updates so
// concurrent checkouts never lose an update or push a counter below zero.
type Ledger interface {
	WithTx(tx *gorm.DB) Ledger
	Reserve(ctx context.Context, variantID uuid.UUID, qty int) error
	Release(ctx context.Context, variantID uuid.UUID, qty int) error
	ReleaseItems(ctx context.Context, items []models.OrderItem) error
	Variants(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.ProductVariant, error)
}

type ledger struct {
	db *gorm.DB
}

// NewLedger binds the ledger to db; callers normally rebind with WithTx.
func NewLedger(db *gorm.DB) Ledger {
	return &ledger{db: db}
}

func (l *ledger) WithTx(tx *gorm.DB) Ledger {
	if tx == nil {
		return l
	}
	return &ledger{db: tx}
}

func (l *ledger) Reserve(ctx context.Context, variantID uuid.UUID, qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "reservation quantity must be positive").
			WithDetails(map[string]any{"variant_id": variantID, "quantity": qty})
	}

	res := l.db.WithContext(ctx).Exec(`
		UPDATE product_variants
		SET quantity = quantity - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND quantity >= ? AND is_active = ? AND deleted_at IS NULL
	`, qty, variantID, qty, true)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve inventory")
	}
	if res.RowsAffected == 1 {
		return nil
	}
	return l.explainRejectedReservation(ctx, variantID, qty)
}

// explainRejectedReservation turns a zero-row update into a specific reason.
func (l *ledger) explainRejectedReservation(ctx context.Context, variantID uuid.UUID, qty int) error {
	var variant models.ProductVariant
	err := l.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", variantID).
		First(&variant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeValidation, "variant no longer available").
			WithDetails(map[string]any{"variant_id": variantID, "reason": "not_found"})
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load variant")
	}
	if !variant.IsActive {
		return pkgerrors.New(pkgerrors.CodeValidation, "variant is not active").
			WithDetails(map[string]any{"variant_id": variantID, "reason": "inactive"})
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "insufficient stock").
		WithDetails(map[string]any{
			"variant_id": variantID,
			"reason":     "insufficient_stock",
			"requested":  qty,
			"available":  variant.Quantity,
		})
}

func (l *ledger) Release(ctx context.Context, variantID uuid.UUID, qty int) error {
	if qty <= 0 {
		return nil
	}

	res := l.db.WithContext(ctx).Exec(`
		UPDATE product_variants
		SET quantity = quantity + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, qty, variantID)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "release inventory")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "variant missing for inventory release").
			WithDetails(map[string]any{"variant_id": variantID, "quantity": qty})
	}
	return nil
}

// ReleaseItems returns every line of an order to stock.
func (l *ledger) ReleaseItems(ctx context.Context, items []models.OrderItem) error {
	for _, item := range items {
		if err := l.Release(ctx, item.VariantID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (l *ledger) Variants(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.ProductVariant, error) {
	out := make(map[uuid.UUID]models.ProductVariant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.ProductVariant
	if err := l.db.WithContext(ctx).
		Where("id IN ? AND deleted_at IS NULL", ids).
		Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load variants")
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}
