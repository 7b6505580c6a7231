package models

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// PaymentWebhookRecord is the audit and dedup ledger for gateway callbacks.
type PaymentWebhookRecord struct {
	ID               uint64                  `gorm:"column:id;primaryKey;autoIncrement"`
	WebhookUniqueKey string                  `gorm:"column:webhook_unique_key;not null;uniqueIndex"`
	Provider         string                  `gorm:"column:provider;not null"`
	EventID          *string                 `gorm:"column:event_id"`
	EventType        string                  `gorm:"column:event_type;not null"`
	TransactionID    string                  `gorm:"column:transaction_id;not null"`
	ProviderOrderID  *string                 `gorm:"column:provider_order_id"`
	MerchantOrderID  *string                 `gorm:"column:merchant_order_id"`
	OrderID          *uint64                 `gorm:"column:order_id;index"`
	ResolvedBy       enums.WebhookResolution `gorm:"column:resolved_by;type:text"`
	AmountCents      int64                   `gorm:"column:amount_cents;not null"`
	Currency         string                  `gorm:"column:currency;not null"`
	Success          bool                    `gorm:"column:success;not null"`
	Pending          bool                    `gorm:"column:pending;not null"`
	RawPayload       json.RawMessage         `gorm:"column:raw_payload;type:jsonb;not null"`
	AppliedAt        *time.Time              `gorm:"column:applied_at"`
	ApplyError       *string                 `gorm:"column:apply_error"`
	CreatedAt        time.Time               `gorm:"column:created_at;autoCreateTime"`
}

func (PaymentWebhookRecord) TableName() string { return "payment_webhook_records" }
