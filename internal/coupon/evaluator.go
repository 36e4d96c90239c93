// Package coupon evaluates coupon codes against a cart subtotal and stores
// coupon records. Evaluation is a pure read: the used count is only ever
// incremented by order placement, so validating a coupon reserves nothing.
package coupon

import (
	"time"

	"github.com/safar/go-cart-engine/internal/models"
	"github.com/shopspring/decimal"
)

// IsValid reports whether the coupon can be applied to the given subtotal
// at the given time. The caller supplies now so window checks stay
// deterministic under test.
func IsValid(c *models.Coupon, subtotal decimal.Decimal, now time.Time) bool {
	if !c.IsActive {
		return false
	}

	if now.Before(c.StartsAt) || now.After(c.ExpiresAt) {
		return false
	}

	if c.UsageLimit.Valid && int64(c.UsedCount) >= c.UsageLimit.Int64 {
		return false
	}

	if c.MinimumSpend.Valid && subtotal.LessThan(c.MinimumSpend.Decimal) {
		return false
	}

	return true
}

// Discount computes the discount amount for the subtotal. An invalid coupon
// yields zero. Percentage coupons take value as 0-100; fixed-amount coupons
// are capped at the subtotal so the remainder can never go negative.
func Discount(c *models.Coupon, subtotal decimal.Decimal, now time.Time) decimal.Decimal {
	if !IsValid(c, subtotal, now) {
		return decimal.Zero
	}

	if c.Type == models.CouponTypePercentage {
		return subtotal.Mul(c.Value).Div(decimal.NewFromInt(100))
	}

	return decimal.Min(c.Value, subtotal)
}
