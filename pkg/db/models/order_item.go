package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderItem is one frozen cart line. Rows are never updated.
type OrderItem struct {
	ID             uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	OrderID        uint64    `gorm:"column:order_id;not null;index" json:"order_id"`
	ProductID      uuid.UUID `gorm:"column:product_id;type:uuid;not null" json:"product_id"`
	VariantID      uuid.UUID `gorm:"column:variant_id;type:uuid;not null" json:"variant_id"`
	Quantity       int       `gorm:"column:quantity;not null" json:"quantity"`
	UnitPriceCents int64     `gorm:"column:unit_price_cents;not null" json:"unit_price_cents"`
	LineTotalCents int64     `gorm:"column:line_total_cents;not null" json:"line_total_cents"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (OrderItem) TableName() string { return "order_items" }
