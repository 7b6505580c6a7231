package orders

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/pagination"
)

const notDeleted = "deleted_at IS NULL"

type repository struct {
	db *gorm.DB
}

// NewRepository binds an order store to the provided database handle.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order is required")
	}
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(order).Error
}

func (r *repository) CreateItems(ctx context.Context, items []models.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *repository) FindByID(ctx context.Context, id uint64) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		Where(notDeleted).
		First(&order).Error
	return orderOrNotFound(&order, err)
}

func (r *repository) FindByNumber(ctx context.Context, number string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Where("order_number = ?", number).
		Where(notDeleted).
		First(&order).Error
	return orderOrNotFound(&order, err)
}

func (r *repository) FindItems(ctx context.Context, orderID uint64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) LockForUpdate(ctx context.Context, id uint64) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Where(notDeleted).
		First(&order).Error
	return orderOrNotFound(&order, err)
}

func (r *repository) UpdateStatus(ctx context.Context, id uint64, update StatusUpdate) error {
	if !update.Status.IsValid() {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "invalid order status %q", update.Status)
	}
	at := update.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	values := map[string]any{
		"status":     update.Status,
		"updated_at": at,
	}
	if col, ok := StampColumn(update.Status); ok {
		values[col] = at
	}
	if update.Notes != nil {
		values["notes"] = *update.Notes
	}

	query := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Where(notDeleted)
	if update.Expected != "" {
		query = query.Where("status = ?", update.Expected)
	}

	res := query.Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	current, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently").
		WithDetails(map[string]any{
			"reason":          ReasonInvalidTransition,
			"current_status":  current.Status,
			"expected_status": update.Expected,
			"already_applied": current.Status == update.Status,
		})
}

func (r *repository) ExistsForUser(ctx context.Context, id uint64, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND customer_id = ?", id, userID).
		Where(notDeleted).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) ExistsByNumber(ctx context.Context, number string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("order_number = ?", number).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) CountOrders(ctx context.Context, filter AggregateFilter) (int64, error) {
	var count int64
	err := r.aggregateQuery(ctx, filter, filter.Statuses).Count(&count).Error
	return count, err
}

// SumRevenue adds totals of orders whose status counts as revenue. An explicit
// status filter can only narrow that set.
func (r *repository) SumRevenue(ctx context.Context, filter AggregateFilter) (int64, error) {
	statuses := enums.RevenueOrderStatuses
	if len(filter.Statuses) > 0 {
		statuses = nil
		for _, s := range filter.Statuses {
			if slices.Contains(enums.RevenueOrderStatuses, s) {
				statuses = append(statuses, s)
			}
		}
		if len(statuses) == 0 {
			return 0, nil
		}
	}

	var total struct{ Sum int64 }
	err := r.aggregateQuery(ctx, filter, statuses).
		Select("COALESCE(SUM(total_cents), 0) AS sum").
		Scan(&total).Error
	return total.Sum, err
}

func (r *repository) aggregateQuery(ctx context.Context, filter AggregateFilter, statuses []enums.OrderStatus) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&models.Order{}).Where(notDeleted)
	if filter.CustomerID != nil {
		query = query.Where("customer_id = ?", *filter.CustomerID)
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("created_at < ?", *filter.To)
	}
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	return query
}

func (r *repository) ListForCustomer(ctx context.Context, customerID uuid.UUID, params pagination.Params) (*OrderList, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	query := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("customer_id = ?", customerID).
		Where(notDeleted)
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Order
	if err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	limit := pagination.NormalizeLimit(params.Limit)
	list := &OrderList{Orders: make([]OrderSummary, 0, min(len(rows), limit))}
	for i, row := range rows {
		if i == limit {
			last := rows[limit-1]
			list.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
			break
		}
		list.Orders = append(list.Orders, OrderSummary{
			ID:          row.ID,
			OrderNumber: row.OrderNumber,
			Status:      row.Status,
			TotalCents:  row.TotalCents,
			Currency:    row.Currency,
			CreatedAt:   row.CreatedAt,
		})
	}
	return list, nil
}

func (r *repository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Order
	if err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.OrderStatusPendingPayment, createdBefore).
		Where(notDeleted).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func orderOrNotFound(order *models.Order, err error) (*models.Order, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}
