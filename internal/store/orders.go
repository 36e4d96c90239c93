package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-cart-engine/internal/coupon"
	"github.com/safar/go-cart-engine/internal/database"
	"github.com/safar/go-cart-engine/internal/models"
	"github.com/shopspring/decimal"
)

type PlaceOrderRequest struct {
	UserID     int64
	CouponCode string
}

func generateOrderNumber() string {
	return fmt.Sprintf("ORD-%s", uuid.NewString())
}

// PlaceOrder turns the account's cart into an order in one serializable
// transaction: stock is re-validated under row locks, the subtotal comes
// from the captured cart prices, the coupon is re-validated fresh and its
// usage incremented atomically, stock is decremented and the cart cleared.
// The advisory coupon preview a storefront may have shown earlier is not
// trusted here.
func PlaceOrder(ctx context.Context, db *sql.DB, req PlaceOrderRequest) (*models.Order, error) {
	var order *models.Order

	err := database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     3,
	}, func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)",
			req.UserID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check user exists: %w", err)
		}
		if !exists {
			return database.ErrUserNotFound
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT id, product_id, variant_id, quantity, unit_price
			 FROM cart_lines
			 WHERE user_id = $1
			 ORDER BY product_id, id
			 FOR UPDATE`,
			req.UserID)
		if err != nil {
			return fmt.Errorf("lock cart lines: %w", err)
		}

		type checkoutLine struct {
			ID        int64
			ProductID int64
			VariantID sql.NullInt64
			Quantity  int
			UnitPrice decimal.Decimal
		}

		var lines []checkoutLine
		for rows.Next() {
			var l checkoutLine
			if err := rows.Scan(&l.ID, &l.ProductID, &l.VariantID, &l.Quantity, &l.UnitPrice); err != nil {
				rows.Close()
				return fmt.Errorf("scan cart line: %w", err)
			}
			lines = append(lines, l)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("rows error: %w", err)
		}
		rows.Close()

		if len(lines) == 0 {
			return database.ErrEmptyCart
		}

		var subtotal decimal.Decimal
		for _, l := range lines {
			product, err := LockProduct(ctx, tx, l.ProductID)
			if err != nil {
				return err
			}

			if l.VariantID.Valid {
				variant, err := LockVariant(ctx, tx, l.VariantID.Int64, l.ProductID)
				if err != nil {
					return err
				}
				if variant.Stock < l.Quantity {
					return database.ErrInsufficientStock
				}
			} else if product.Stock < l.Quantity {
				return database.ErrInsufficientStock
			}

			subtotal = subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
		}

		discount := decimal.Zero
		var couponID sql.NullInt64
		if req.CouponCode != "" {
			c, err := coupon.GetByCodeForUpdate(ctx, tx, req.CouponCode)
			if err != nil {
				return err
			}

			now := time.Now()
			if !coupon.IsValid(c, subtotal, now) {
				return database.ErrCouponNotValid
			}
			discount = coupon.Discount(c, subtotal, now)

			if err := coupon.IncrementUsage(ctx, tx, c.ID); err != nil {
				return err
			}
			couponID = sql.NullInt64{Int64: c.ID, Valid: true}
		}

		total := subtotal.Sub(discount)
		orderNumber := generateOrderNumber()

		var orderID int64
		err = tx.QueryRowContext(ctx,
			`INSERT INTO orders (user_id, order_number, status, subtotal, discount_amount, total, coupon_id, created_at, updated_at, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW(), 1)
			 RETURNING id`,
			req.UserID, orderNumber, models.OrderStatusPending, subtotal, discount, total, couponID).Scan(&orderID)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for _, l := range lines {
			lineSubtotal := l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))

			_, err = tx.ExecContext(ctx,
				`INSERT INTO order_items (order_id, product_id, variant_id, quantity, unit_price, subtotal, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
				orderID, l.ProductID, l.VariantID, l.Quantity, l.UnitPrice, lineSubtotal)
			if err != nil {
				return fmt.Errorf("create order item: %w", err)
			}

			if l.VariantID.Valid {
				if err := DecrementVariantStock(ctx, tx, l.VariantID.Int64, l.Quantity); err != nil {
					return err
				}
			} else {
				if err := DecrementProductStock(ctx, tx, l.ProductID, l.Quantity); err != nil {
					return err
				}
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM cart_lines WHERE user_id = $1`, req.UserID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}

		order = &models.Order{ID: orderID}
		err = tx.QueryRowContext(ctx,
			`SELECT order_number, user_id, status, subtotal, discount_amount, total, coupon_id, created_at, updated_at, version
			 FROM orders WHERE id = $1`,
			orderID).Scan(
			&order.OrderNumber,
			&order.UserID,
			&order.Status,
			&order.Subtotal,
			&order.DiscountAmount,
			&order.Total,
			&order.CouponID,
			&order.CreatedAt,
			&order.UpdatedAt,
			&order.Version,
		)
		if err != nil {
			return fmt.Errorf("fetch created order: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return order, nil
}

func GetOrder(ctx context.Context, db *sql.DB, id int64) (*models.Order, error) {
	order := &models.Order{}

	query := `
		SELECT id, user_id, order_number, status, subtotal, discount_amount, total, coupon_id, created_at, updated_at, version
		FROM orders
		WHERE id = $1`

	err := db.QueryRowContext(ctx, query, id).Scan(
		&order.ID,
		&order.UserID,
		&order.OrderNumber,
		&order.Status,
		&order.Subtotal,
		&order.DiscountAmount,
		&order.Total,
		&order.CouponID,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	itemsQuery := `
		SELECT id, order_id, product_id, variant_id, quantity, unit_price, subtotal, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY id`

	rows, err := db.QueryContext(ctx, itemsQuery, id)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.VariantID,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	order.Items = items

	return order, nil
}
