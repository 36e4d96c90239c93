package integration

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/safar/go-cart-engine/internal/coupon"
	"github.com/safar/go-cart-engine/internal/database"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Concurrent redemptions must never push used_count past the usage limit;
// the guard lives in the UPDATE itself.
func TestIncrementUsageConcurrent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	createTestCoupon(t, db, coupon.CreateCouponRequest{
		Code:       "LIMITED3",
		Type:       "percentage",
		Value:      decimal.NewFromInt(10),
		UsageLimit: sql.NullInt64{Int64: 3, Valid: true},
	})

	c, err := coupon.GetByCode(ctx, db, "LIMITED3")
	if err != nil {
		t.Fatalf("Get coupon: %v", err)
	}

	concurrency := 5
	results := make([]error, concurrency)

	var g errgroup.Group
	for i := 0; i < concurrency; i++ {
		i := i
		g.Go(func() error {
			results[i] = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
				return coupon.IncrementUsage(ctx, tx, c.ID)
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		} else if !errors.Is(err, database.ErrCouponExhausted) {
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if successes != 3 {
		t.Errorf("Expected exactly 3 redemptions, got %d", successes)
	}

	final, err := coupon.GetByCode(ctx, db, "LIMITED3")
	if err != nil {
		t.Fatalf("Get coupon: %v", err)
	}
	if final.UsedCount != 3 {
		t.Errorf("Expected used count 3, got %d", final.UsedCount)
	}
}
