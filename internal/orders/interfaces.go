package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/pagination"
)

// Repository is the order store. Every read filters soft-deleted rows
// explicitly; there is no ambient scope.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	CreateItems(ctx context.Context, items []models.OrderItem) error
	FindByID(ctx context.Context, id uint64) (*models.Order, error)
	FindByNumber(ctx context.Context, number string) (*models.Order, error)
	FindItems(ctx context.Context, orderID uint64) ([]models.OrderItem, error)
	// LockForUpdate loads the order with a row lock held until the surrounding
	// transaction ends. Call it before reading anything a transition depends on.
	LockForUpdate(ctx context.Context, id uint64) (*models.Order, error)
	UpdateStatus(ctx context.Context, id uint64, update StatusUpdate) error
	ExistsForUser(ctx context.Context, id uint64, userID uuid.UUID) (bool, error)
	ExistsByNumber(ctx context.Context, number string) (bool, error)
	CountOrders(ctx context.Context, filter AggregateFilter) (int64, error)
	SumRevenue(ctx context.Context, filter AggregateFilter) (int64, error)
	ListForCustomer(ctx context.Context, customerID uuid.UUID, params pagination.Params) (*OrderList, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Order, error)
}
