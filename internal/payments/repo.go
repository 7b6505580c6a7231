package payments

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

// Repository is the payment ledger. Attempts are append-only and the newest
// attempt for an order is the authoritative one. There is no delete.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateAttempt(ctx context.Context, order *models.Order, provider string) (*models.Payment, error)
	SetCheckout(ctx context.Context, paymentID uint64, providerOrderID, checkoutURL string) error
	FindPayment(ctx context.Context, id uint64) (*models.Payment, error)
	LatestFor(ctx context.Context, orderID uint64) (*models.Payment, error)
	LatestLocked(ctx context.Context, orderID uint64) (*models.Payment, error)
	MarkStatus(ctx context.Context, paymentID uint64, status enums.PaymentStatus, transactionID *string) error
	FindByProviderOrderID(ctx context.Context, providerOrderID string) (*models.Payment, error)
	FindLatestByAmount(ctx context.Context, amountCents int64, currency string) (*models.Payment, error)
	ListByOrder(ctx context.Context, orderID uint64) ([]models.Payment, error)
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]models.Payment, error)

	CreateRefund(ctx context.Context, refund *models.Refund) error
	FindRefund(ctx context.Context, id uint64) (*models.Refund, error)
	MarkRefund(ctx context.Context, id uint64, status enums.RefundStatus, providerRefundID *string, lastError *string) error
	ListPendingRefunds(ctx context.Context, before time.Time, limit int) ([]models.Refund, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payment ledger bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateAttempt(ctx context.Context, order *models.Order, provider string) (*models.Payment, error) {
	if order == nil || order.ID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order is required")
	}
	payment := &models.Payment{
		OrderID:     order.ID,
		AmountCents: order.TotalCents,
		Currency:    order.Currency,
		Status:      enums.PaymentStatusPending,
		Method:      order.PaymentMethod,
		Provider:    provider,
	}
	if err := r.db.WithContext(ctx).Create(payment).Error; err != nil {
		return nil, err
	}
	return payment, nil
}

func (r *repository) SetCheckout(ctx context.Context, paymentID uint64, providerOrderID, checkoutURL string) error {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if providerOrderID != "" {
		updates["provider_order_id"] = providerOrderID
	}
	if checkoutURL != "" {
		updates["checkout_url"] = checkoutURL
	}
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", paymentID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return nil
}

func (r *repository) FindPayment(ctx context.Context, id uint64) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error
	return paymentOrNotFound(&payment, err)
}

func (r *repository) LatestFor(ctx context.Context, orderID uint64) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Order("id DESC").
		First(&payment).Error
	return paymentOrNotFound(&payment, err)
}

// LatestLocked is LatestFor with a row lock; the order row must already be
// locked by the caller.
func (r *repository) LatestLocked(ctx context.Context, orderID uint64) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Order("id DESC").
		First(&payment).Error
	return paymentOrNotFound(&payment, err)
}

func (r *repository) MarkStatus(ctx context.Context, paymentID uint64, status enums.PaymentStatus, transactionID *string) error {
	if !status.IsValid() {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "invalid payment status %q", status)
	}
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if transactionID != nil {
		updates["transaction_id"] = *transactionID
	}
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", paymentID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return nil
}

func (r *repository) FindByProviderOrderID(ctx context.Context, providerOrderID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("provider_order_id = ?", providerOrderID).
		Order("created_at DESC").
		Order("id DESC").
		First(&payment).Error
	return paymentOrNotFound(&payment, err)
}

// FindLatestByAmount returns the newest pending attempt with this exact amount.
// Only the opt-in webhook fallback uses it.
func (r *repository) FindLatestByAmount(ctx context.Context, amountCents int64, currency string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("amount_cents = ? AND currency = ? AND status = ?", amountCents, currency, enums.PaymentStatusPending).
		Order("created_at DESC").
		Order("id DESC").
		First(&payment).Error
	return paymentOrNotFound(&payment, err)
}

func (r *repository) ListByOrder(ctx context.Context, orderID uint64) ([]models.Payment, error) {
	var rows []models.Payment
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListPendingBefore returns gateway-backed attempts still pending that were
// created before the cutoff.
func (r *repository) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Payment
	if err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ? AND provider_order_id IS NOT NULL", enums.PaymentStatusPending, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) CreateRefund(ctx context.Context, refund *models.Refund) error {
	if refund == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund is required")
	}
	if refund.Status == "" {
		refund.Status = enums.RefundStatusPending
	}
	return r.db.WithContext(ctx).Create(refund).Error
}

func (r *repository) FindRefund(ctx context.Context, id uint64) (*models.Refund, error) {
	var refund models.Refund
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&refund).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "refund not found")
	}
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

// MarkRefund records the outcome of an execution attempt and bumps its counter.
func (r *repository) MarkRefund(ctx context.Context, id uint64, status enums.RefundStatus, providerRefundID *string, lastError *string) error {
	updates := map[string]any{
		"status":     status,
		"attempts":   gorm.Expr("attempts + 1"),
		"updated_at": time.Now().UTC(),
		"last_error": lastError,
	}
	if providerRefundID != nil {
		updates["provider_refund_id"] = *providerRefundID
	}
	res := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "refund not found")
	}
	return nil
}

// ListPendingRefunds returns refunds still waiting on the gateway that were
// last touched before the cutoff.
func (r *repository) ListPendingRefunds(ctx context.Context, before time.Time, limit int) ([]models.Refund, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Refund
	if err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", enums.RefundStatusPending, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func paymentOrNotFound(payment *models.Payment, err error) (*models.Payment, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	if err != nil {
		return nil, err
	}
	return payment, nil
}
