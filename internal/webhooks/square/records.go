package squarewebhook

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

const maxApplyErrorLen = 1024

// RecordRepository is the append-only webhook audit ledger.
type RecordRepository interface {
	WithTx(tx *gorm.DB) RecordRepository
	Insert(ctx context.Context, record *models.PaymentWebhookRecord) error
	FindByKey(ctx context.Context, key string) (*models.PaymentWebhookRecord, error)
	LockByID(ctx context.Context, id uint64) (*models.PaymentWebhookRecord, error)
	MarkApplied(ctx context.Context, id uint64, at time.Time) error
	MarkApplyError(ctx context.Context, id uint64, msg string) error
}

type recordRepository struct {
	db *gorm.DB
}

func NewRecordRepository(db *gorm.DB) RecordRepository {
	return &recordRepository{db: db}
}

func (r *recordRepository) WithTx(tx *gorm.DB) RecordRepository {
	if tx == nil {
		return r
	}
	return &recordRepository{db: tx}
}

// Insert relies on the unique index on webhook_unique_key; callers check
// db.IsUniqueViolation to detect redeliveries.
func (r *recordRepository) Insert(ctx context.Context, record *models.PaymentWebhookRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *recordRepository) FindByKey(ctx context.Context, key string) (*models.PaymentWebhookRecord, error) {
	var record models.PaymentWebhookRecord
	err := r.db.WithContext(ctx).Where("webhook_unique_key = ?", key).First(&record).Error
	return recordOrNotFound(&record, err)
}

func (r *recordRepository) LockByID(ctx context.Context, id uint64) (*models.PaymentWebhookRecord, error) {
	var record models.PaymentWebhookRecord
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&record).Error
	return recordOrNotFound(&record, err)
}

func (r *recordRepository) MarkApplied(ctx context.Context, id uint64, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentWebhookRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{"applied_at": at, "apply_error": nil}).Error
}

func (r *recordRepository) MarkApplyError(ctx context.Context, id uint64, msg string) error {
	msg = truncateUTF8(msg, maxApplyErrorLen)
	return r.db.WithContext(ctx).
		Model(&models.PaymentWebhookRecord{}).
		Where("id = ?", id).
		Update("apply_error", msg).Error
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func recordOrNotFound(record *models.PaymentWebhookRecord, err error) (*models.PaymentWebhookRecord, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "webhook record not found")
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}
