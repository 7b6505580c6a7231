package inventory

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

func TestReserveDecrementsAndRejectsOversell(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	variant := seedVariant(t, db, 10)
	l := NewLedger(db)

	require.NoError(t, l.Reserve(ctx, variant.ID, 2))
	assert.Equal(t, 8, quantityOf(t, db, variant.ID))

	err := l.Reserve(ctx, variant.ID, 9)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	assert.Equal(t, "insufficient_stock", typed.Details().(map[string]any)["reason"])
	assert.Equal(t, 8, quantityOf(t, db, variant.ID))
}

func TestReserveRejectsInactiveDeletedAndMissing(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	l := NewLedger(db)

	inactive := seedVariant(t, db, 5)
	require.NoError(t, db.Model(&models.ProductVariant{}).Where("id = ?", inactive.ID).Update("is_active", false).Error)

	deleted := seedVariant(t, db, 5)
	now := time.Now()
	require.NoError(t, db.Model(&models.ProductVariant{}).Where("id = ?", deleted.ID).Update("deleted_at", &now).Error)

	cases := map[uuid.UUID]string{
		inactive.ID: "inactive",
		deleted.ID:  "not_found",
		uuid.New():  "not_found",
	}
	for id, reason := range cases {
		err := l.Reserve(ctx, id, 1)
		typed := pkgerrors.As(err)
		require.NotNil(t, typed)
		assert.Equal(t, reason, typed.Details().(map[string]any)["reason"])
	}
	assert.Equal(t, 5, quantityOf(t, db, inactive.ID))
}

func TestReserveRejectsNonPositiveQuantity(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	variant := seedVariant(t, db, 5)

	err := NewLedger(db).Reserve(context.Background(), variant.ID, 0)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestReleaseItemsRestoresStock(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	a := seedVariant(t, db, 10)
	b := seedVariant(t, db, 3)
	l := NewLedger(db)

	require.NoError(t, l.Reserve(ctx, a.ID, 2))
	require.NoError(t, l.Reserve(ctx, b.ID, 3))

	items := []models.OrderItem{
		{VariantID: a.ID, Quantity: 2},
		{VariantID: b.ID, Quantity: 3},
	}
	require.NoError(t, l.ReleaseItems(ctx, items))
	assert.Equal(t, 10, quantityOf(t, db, a.ID))
	assert.Equal(t, 3, quantityOf(t, db, b.ID))

	err := l.Release(ctx, uuid.New(), 1)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestReservationRollsBackWithTransaction(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	a := seedVariant(t, db, 4)
	b := seedVariant(t, db, 1)

	err := db.Transaction(func(tx *gorm.DB) error {
		l := NewLedger(db).WithTx(tx)
		if err := l.Reserve(ctx, a.ID, 3); err != nil {
			return err
		}
		return l.Reserve(ctx, b.ID, 2)
	})
	require.Error(t, err)
	assert.Equal(t, 4, quantityOf(t, db, a.ID))
	assert.Equal(t, 1, quantityOf(t, db, b.ID))
}

func TestRandomReserveReleaseSequenceNeverGoesNegative(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	variant := seedVariant(t, db, 7)
	l := NewLedger(db)
	rng := rand.New(rand.NewSource(42))

	held := 0
	for i := 0; i < 300; i++ {
		qty := rng.Intn(4) + 1
		if rng.Intn(2) == 0 {
			if err := l.Reserve(ctx, variant.ID, qty); err == nil {
				held += qty
			}
		} else if held >= qty {
			require.NoError(t, l.Release(ctx, variant.ID, qty))
			held -= qty
		}
		got := quantityOf(t, db, variant.ID)
		require.GreaterOrEqual(t, got, 0)
		require.Equal(t, 7-held, got)
	}
}

func seedVariant(t *testing.T, db *gorm.DB, qty int) models.ProductVariant {
	t.Helper()
	variant := models.ProductVariant{
		ID:         uuid.New(),
		ProductID:  uuid.New(),
		SKU:        "SKU-" + uuid.NewString(),
		PriceCents: 1500,
		Quantity:   qty,
		IsActive:   true,
	}
	require.NoError(t, db.Create(&variant).Error)
	return variant
}

func quantityOf(t *testing.T, db *gorm.DB, id uuid.UUID) int {
	t.Helper()
	var variant models.ProductVariant
	require.NoError(t, db.First(&variant, "id = ?", id).Error)
	return variant.Quantity
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:inventory_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ProductVariant{}))
	return db
}
