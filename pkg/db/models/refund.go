package models

import (
	"time"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Refund records money owed back for a completed payment.
type Refund struct {
	ID               uint64             `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	OrderID          uint64             `gorm:"column:order_id;not null;index" json:"order_id"`
	PaymentID        uint64             `gorm:"column:payment_id;not null;uniqueIndex" json:"payment_id"`
	AmountCents      int64              `gorm:"column:amount_cents;not null" json:"amount_cents"`
	Currency         string             `gorm:"column:currency;not null" json:"currency"`
	Status           enums.RefundStatus `gorm:"column:status;type:text;not null" json:"status"`
	Reason           *string            `gorm:"column:reason" json:"reason,omitempty"`
	ProviderRefundID *string            `gorm:"column:provider_refund_id" json:"provider_refund_id,omitempty"`
	Attempts         int                `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastError        *string            `gorm:"column:last_error" json:"last_error,omitempty"`
	CreatedAt        time.Time          `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time          `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Refund) TableName() string { return "refunds" }
