package orders

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

const orderNumberLayout = "20060102150405"

// NumberGenerator produces human-facing order numbers of the form
// ORD-YYYYMMDDHHMMSS-NNNNNN. The unique index on order_number is the final
// guard; the existence check only keeps collisions out of the insert path.
type NumberGenerator struct {
	exists   func(ctx context.Context, number string) (bool, error)
	attempts int
	now      func() time.Time
	suffix   func() int
}

// NewNumberGenerator checks candidates against repo and gives up after
// attempts collisions.
func NewNumberGenerator(repo Repository, attempts int) *NumberGenerator {
	if attempts <= 0 {
		attempts = 5
	}
	return &NumberGenerator{
		exists:   repo.ExistsByNumber,
		attempts: attempts,
		now:      time.Now,
		suffix:   func() int { return rand.IntN(1_000_000) },
	}
}

// Next returns an order number not yet present in the store.
func (g *NumberGenerator) Next(ctx context.Context) (string, error) {
	for i := 0; i < g.attempts; i++ {
		candidate := FormatOrderNumber(g.now(), g.suffix())
		taken, err := g.exists(ctx, candidate)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check order number")
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", pkgerrors.New(pkgerrors.CodeConflict, "could not allocate a unique order number")
}

// FormatOrderNumber renders the number for t and a six digit suffix.
func FormatOrderNumber(t time.Time, suffix int) string {
	return fmt.Sprintf("ORD-%s-%06d", t.UTC().Format(orderNumberLayout), suffix%1_000_000)
}
