package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Order is a checked-out cart. Money fields are frozen at creation.
type Order struct {
	ID            uint64              `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	OrderNumber   string              `gorm:"column:order_number;not null;uniqueIndex" json:"order_number"`
	CustomerID    uuid.UUID           `gorm:"column:customer_id;type:uuid;not null;index" json:"customer_id"`
	Status        enums.OrderStatus   `gorm:"column:status;type:text;not null" json:"status"`
	PaymentMethod enums.PaymentMethod `gorm:"column:payment_method;type:text;not null" json:"payment_method"`
	SubtotalCents int64               `gorm:"column:subtotal_cents;not null" json:"subtotal_cents"`
	TaxCents      int64               `gorm:"column:tax_cents;not null;default:0" json:"tax_cents"`
	ShippingCents int64               `gorm:"column:shipping_cents;not null;default:0" json:"shipping_cents"`
	DiscountCents int64               `gorm:"column:discount_cents;not null;default:0" json:"discount_cents"`
	TotalCents    int64               `gorm:"column:total_cents;not null" json:"total_cents"`
	Currency      string              `gorm:"column:currency;not null" json:"currency"`
	Notes         *string             `gorm:"column:notes" json:"notes,omitempty"`
	ShippedAt     *time.Time          `gorm:"column:shipped_at" json:"shipped_at,omitempty"`
	DeliveredAt   *time.Time          `gorm:"column:delivered_at" json:"delivered_at,omitempty"`
	CancelledAt   *time.Time          `gorm:"column:cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	DeletedAt     *time.Time          `gorm:"column:deleted_at" json:"-"`

	Items []OrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"`
}

func (Order) TableName() string { return "orders" }
