package models

import (
	"time"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Payment is one attempt to pay an order. The newest attempt is authoritative.
type Payment struct {
	ID              uint64              `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	OrderID         uint64              `gorm:"column:order_id;not null;index" json:"order_id"`
	AmountCents     int64               `gorm:"column:amount_cents;not null" json:"amount_cents"`
	Currency        string              `gorm:"column:currency;not null" json:"currency"`
	Status          enums.PaymentStatus `gorm:"column:status;type:text;not null" json:"status"`
	Method          enums.PaymentMethod `gorm:"column:method;type:text;not null" json:"method"`
	Provider        string              `gorm:"column:provider;not null" json:"provider"`
	ProviderOrderID *string             `gorm:"column:provider_order_id;index" json:"provider_order_id,omitempty"`
	CheckoutURL     *string             `gorm:"column:checkout_url" json:"checkout_url,omitempty"`
	TransactionID   *string             `gorm:"column:transaction_id" json:"transaction_id,omitempty"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }
