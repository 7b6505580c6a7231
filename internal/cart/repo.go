package cart

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Line is a cart item joined with the variant it points at.
type Line struct {
	ProductID      uuid.UUID
	VariantID      uuid.UUID
	Quantity       int
	UnitPriceCents int64
	VariantActive  bool
	VariantFound   bool
}

// Repository reads carts owned by the cart service. Nothing here writes.
type Repository interface {
	LinesForUser(ctx context.Context, userID uuid.UUID) ([]Line, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

type lineRow struct {
	ProductID  uuid.UUID
	VariantID  uuid.UUID
	Quantity   int
	PriceCents *int64
	IsActive   *bool
}

func (r *repository) LinesForUser(ctx context.Context, userID uuid.UUID) ([]Line, error) {
	var rows []lineRow
	err := r.db.WithContext(ctx).
		Table("cart_items AS ci").
		Select("ci.product_id, ci.variant_id, ci.quantity, pv.price_cents, pv.is_active").
		Joins("LEFT JOIN product_variants AS pv ON pv.id = ci.variant_id AND pv.deleted_at IS NULL").
		Where("ci.user_id = ?", userID).
		Order("ci.created_at ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	lines := make([]Line, 0, len(rows))
	for _, row := range rows {
		line := Line{
			ProductID: row.ProductID,
			VariantID: row.VariantID,
			Quantity:  row.Quantity,
		}
		if row.PriceCents != nil {
			line.VariantFound = true
			line.UnitPriceCents = *row.PriceCents
			line.VariantActive = row.IsActive != nil && *row.IsActive
		}
		lines = append(lines, line)
	}
	return lines, nil
}
