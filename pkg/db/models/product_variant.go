package models

import (
	"time"

	"github.com/google/uuid"
)

// ProductVariant carries the sellable stock counter. Quantity never drops
// below zero; the schema enforces it with a CHECK constraint.
type ProductVariant struct {
	ID         uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	ProductID  uuid.UUID  `gorm:"column:product_id;type:uuid;not null;index"`
	SKU        string     `gorm:"column:sku;not null;uniqueIndex"`
	PriceCents int64      `gorm:"column:price_cents;not null"`
	Quantity   int        `gorm:"column:quantity;not null;default:0;check:quantity >= 0"`
	IsActive   bool       `gorm:"column:is_active;not null;default:true"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt  *time.Time `gorm:"column:deleted_at"`
}

func (ProductVariant) TableName() string { return "product_variants" }
