package coupon

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/safar/go-cart-engine/internal/database"
	"github.com/safar/go-cart-engine/internal/models"
	"github.com/shopspring/decimal"
)

type CreateCouponRequest struct {
	Code         string
	Name         string
	Description  string
	Type         string
	Value        decimal.Decimal
	MinimumSpend decimal.NullDecimal
	UsageLimit   sql.NullInt64
	StartsAt     time.Time
	ExpiresAt    time.Time
	IsActive     bool
}

const couponColumns = `id, code, name, description, type, value, minimum_spend,
		usage_limit, used_count, starts_at, expires_at, is_active, created_at, updated_at`

func scanCoupon(row *sql.Row) (*models.Coupon, error) {
	c := &models.Coupon{}
	err := row.Scan(
		&c.ID,
		&c.Code,
		&c.Name,
		&c.Description,
		&c.Type,
		&c.Value,
		&c.MinimumSpend,
		&c.UsageLimit,
		&c.UsedCount,
		&c.StartsAt,
		&c.ExpiresAt,
		&c.IsActive,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func CreateCoupon(ctx context.Context, db *sql.DB, req CreateCouponRequest) (*models.Coupon, error) {
	query := `
		INSERT INTO coupons (code, name, description, type, value, minimum_spend,
			usage_limit, used_count, starts_at, expires_at, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10, NOW(), NOW())
		RETURNING ` + couponColumns

	c, err := scanCoupon(db.QueryRowContext(ctx, query,
		req.Code, req.Name, req.Description, req.Type, req.Value,
		req.MinimumSpend, req.UsageLimit, req.StartsAt, req.ExpiresAt, req.IsActive))
	if err != nil {
		return nil, fmt.Errorf("create coupon: %w", err)
	}

	return c, nil
}

// GetByCode matches codes case-sensitively.
func GetByCode(ctx context.Context, db *sql.DB, code string) (*models.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	c, err := scanCoupon(db.QueryRowContext(ctx, query, code))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCouponNotFound
		}
		return nil, fmt.Errorf("get coupon: %w", err)
	}

	return c, nil
}

// GetByCodeForUpdate locks the coupon row inside the caller's transaction so
// validation and the usage increment see a consistent used count.
func GetByCodeForUpdate(ctx context.Context, tx *sql.Tx, code string) (*models.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1 FOR UPDATE`

	c, err := scanCoupon(tx.QueryRowContext(ctx, query, code))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCouponNotFound
		}
		return nil, fmt.Errorf("lock coupon: %w", err)
	}

	return c, nil
}

// IncrementUsage bumps used_count only while it is below the usage limit.
// The guard rides in the UPDATE itself, so concurrent redemptions cannot
// push a coupon past its limit.
func IncrementUsage(ctx context.Context, tx *sql.Tx, couponID int64) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE coupons
		 SET used_count = used_count + 1, updated_at = NOW()
		 WHERE id = $1
		   AND (usage_limit IS NULL OR used_count < usage_limit)`,
		couponID)
	if err != nil {
		return fmt.Errorf("increment coupon usage: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrCouponExhausted
	}

	return nil
}
