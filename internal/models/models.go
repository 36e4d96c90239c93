package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

type Product struct {
	ID           int64               `json:"id"`
	SKU          string              `json:"sku"`
	Slug         string              `json:"slug"`
	Name         string              `json:"name"`
	Description  string              `json:"description,omitempty"`
	Price        decimal.Decimal     `json:"price"`
	ComparePrice decimal.NullDecimal `json:"compare_price,omitempty"`
	Stock        int                 `json:"stock"`
	Status       string              `json:"status"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
	Version      int                 `json:"version"`
}

const (
	ProductStatusActive   = "active"
	ProductStatusInactive = "inactive"
	ProductStatusDraft    = "draft"
)

// ProductVariant belongs to exactly one product. An unset PriceOverride
// means the parent product's price applies.
type ProductVariant struct {
	ID            int64               `json:"id"`
	ProductID     int64               `json:"product_id"`
	SKU           string              `json:"sku"`
	Color         sql.NullString      `json:"color,omitempty"`
	Size          sql.NullString      `json:"size,omitempty"`
	PriceOverride decimal.NullDecimal `json:"price_override,omitempty"`
	Stock         int                 `json:"stock"`
	IsActive      bool                `json:"is_active"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	Version       int                 `json:"version"`
}

// CartLine is owned by either a user or a guest session, never both.
// UnitPrice is the price captured when the line was last added to, not a
// live read of the catalog.
type CartLine struct {
	ID        int64           `json:"id"`
	UserID    sql.NullInt64   `json:"user_id,omitempty"`
	SessionID sql.NullString  `json:"session_id,omitempty"`
	ProductID int64           `json:"product_id"`
	VariantID sql.NullInt64   `json:"variant_id,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Total is quantity times the captured unit price.
func (l *CartLine) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Coupon struct {
	ID           int64               `json:"id"`
	Code         string              `json:"code"`
	Name         string              `json:"name"`
	Description  string              `json:"description,omitempty"`
	Type         string              `json:"type"`
	Value        decimal.Decimal     `json:"value"`
	MinimumSpend decimal.NullDecimal `json:"minimum_spend,omitempty"`
	UsageLimit   sql.NullInt64       `json:"usage_limit,omitempty"`
	UsedCount    int                 `json:"used_count"`
	StartsAt     time.Time           `json:"starts_at"`
	ExpiresAt    time.Time           `json:"expires_at"`
	IsActive     bool                `json:"is_active"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

const (
	CouponTypePercentage  = "percentage"
	CouponTypeFixedAmount = "fixed_amount"
)

type Order struct {
	ID             int64           `json:"id"`
	OrderNumber    string          `json:"order_number"`
	UserID         int64           `json:"user_id"`
	Status         string          `json:"status"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Total          decimal.Decimal `json:"total"`
	CouponID       sql.NullInt64   `json:"coupon_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Version        int             `json:"version"`
	Items          []OrderItem     `json:"items,omitempty"`
}

type OrderItem struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	ProductID int64           `json:"product_id"`
	VariantID sql.NullInt64   `json:"variant_id,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	CreatedAt time.Time       `json:"created_at"`
}

const (
	OrderStatusPending   = "pending"
	OrderStatusPaid      = "paid"
	OrderStatusShipped   = "shipped"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)
