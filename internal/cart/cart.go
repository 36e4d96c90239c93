// Package cart maintains the set of cart lines for one owner: add, update,
// remove, clear, totals, and the guest-to-account merge on login. Stock
// checks and line writes happen inside one transaction with a row lock on
// the product or variant, so two concurrent adds cannot both claim the last
// unit.
package cart

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/go-cart-engine/internal/database"
	"github.com/safar/go-cart-engine/internal/models"
	"github.com/safar/go-cart-engine/internal/pricing"
	"github.com/safar/go-cart-engine/internal/store"
	"github.com/shopspring/decimal"
)

const lineColumns = `id, user_id, session_id, product_id, variant_id,
		quantity, unit_price, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLine(row rowScanner) (*models.CartLine, error) {
	line := &models.CartLine{}
	err := row.Scan(
		&line.ID,
		&line.UserID,
		&line.SessionID,
		&line.ProductID,
		&line.VariantID,
		&line.Quantity,
		&line.UnitPrice,
		&line.CreatedAt,
		&line.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return line, nil
}

// LineDetail is a cart line joined with catalog names for display.
type LineDetail struct {
	models.CartLine
	ProductName string         `json:"product_name"`
	VariantSKU  sql.NullString `json:"variant_sku,omitempty"`
}

// AddItem puts quantity units of a product (optionally a specific variant)
// into the owner's cart. If a line for the same product and variant already
// exists its quantity grows and its captured unit price is refreshed from
// the catalog; a plain quantity edit never refreshes the price, so catalog
// price changes are picked up on re-add only. The stock check covers the
// combined quantity and runs under a row lock on the catalog row.
func AddItem(ctx context.Context, db *sql.DB, owner Owner, productID int64, variantID sql.NullInt64, quantity int) (*models.CartLine, error) {
	if quantity < 1 {
		return nil, database.ErrInvalidQuantity
	}

	var line *models.CartLine

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		product, err := store.LockProduct(ctx, tx, productID)
		if err != nil {
			return err
		}

		var variant *models.ProductVariant
		if variantID.Valid {
			variant, err = store.LockVariant(ctx, tx, variantID.Int64, productID)
			if err != nil {
				return err
			}
		}

		price := pricing.EffectivePrice(product, variant)
		stock := pricing.AvailableStock(product, variant)

		existing, err := findLineForUpdate(ctx, tx, owner, productID, variantID)
		if err != nil {
			return err
		}

		combined := quantity
		if existing != nil {
			combined += existing.Quantity
		}
		if stock < combined {
			return database.ErrInsufficientStock
		}

		if existing != nil {
			line, err = scanLine(tx.QueryRowContext(ctx,
				`UPDATE cart_lines
				 SET quantity = $1, unit_price = $2, updated_at = NOW()
				 WHERE id = $3
				 RETURNING `+lineColumns,
				combined, price, existing.ID))
			if err != nil {
				return fmt.Errorf("update cart line: %w", err)
			}
			return nil
		}

		line, err = scanLine(tx.QueryRowContext(ctx,
			`INSERT INTO cart_lines (user_id, session_id, product_id, variant_id, quantity, unit_price, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
			 RETURNING `+lineColumns,
			owner.UserID, owner.SessionID, productID, variantID, quantity, price))
		if err != nil {
			return fmt.Errorf("create cart line: %w", err)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return line, nil
}

// UpdateQuantity replaces the quantity of an owned line after re-checking
// stock under lock. The captured unit price is left alone.
func UpdateQuantity(ctx context.Context, db *sql.DB, owner Owner, lineID int64, quantity int) (*models.CartLine, error) {
	if quantity < 1 {
		return nil, database.ErrInvalidQuantity
	}

	var line *models.CartLine

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		existing, err := getLineForUpdate(ctx, tx, lineID)
		if err != nil {
			return err
		}
		if !owner.Owns(existing) {
			return database.ErrForbidden
		}

		product, err := store.LockProduct(ctx, tx, existing.ProductID)
		if err != nil {
			return err
		}

		var variant *models.ProductVariant
		if existing.VariantID.Valid {
			variant, err = store.LockVariant(ctx, tx, existing.VariantID.Int64, existing.ProductID)
			if err != nil {
				return err
			}
		}

		if pricing.AvailableStock(product, variant) < quantity {
			return database.ErrInsufficientStock
		}

		line, err = scanLine(tx.QueryRowContext(ctx,
			`UPDATE cart_lines
			 SET quantity = $1, updated_at = NOW()
			 WHERE id = $2
			 RETURNING `+lineColumns,
			quantity, existing.ID))
		if err != nil {
			return fmt.Errorf("update cart line: %w", err)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return line, nil
}

// RemoveItem deletes an owned line unconditionally.
func RemoveItem(ctx context.Context, db *sql.DB, owner Owner, lineID int64) error {
	return database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		existing, err := getLineForUpdate(ctx, tx, lineID)
		if err != nil {
			return err
		}
		if !owner.Owns(existing) {
			return database.ErrForbidden
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM cart_lines WHERE id = $1`, existing.ID); err != nil {
			return fmt.Errorf("delete cart line: %w", err)
		}
		return nil
	})
}

// Clear deletes every line for the owner.
func Clear(ctx context.Context, db *sql.DB, owner Owner) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM cart_lines
		 WHERE user_id IS NOT DISTINCT FROM $1
		   AND session_id IS NOT DISTINCT FROM $2`,
		owner.UserID, owner.SessionID)
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// Subtotal sums quantity x captured unit price over the owner's lines.
// An empty cart yields exactly zero.
func Subtotal(ctx context.Context, db *sql.DB, owner Owner) (decimal.Decimal, error) {
	var subtotal decimal.Decimal
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity * unit_price), 0)
		 FROM cart_lines
		 WHERE user_id IS NOT DISTINCT FROM $1
		   AND session_id IS NOT DISTINCT FROM $2`,
		owner.UserID, owner.SessionID).Scan(&subtotal)
	if err != nil {
		return decimal.Zero, fmt.Errorf("cart subtotal: %w", err)
	}
	return subtotal, nil
}

// ItemCount sums quantities, not lines.
func ItemCount(ctx context.Context, db *sql.DB, owner Owner) (int, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity), 0)
		 FROM cart_lines
		 WHERE user_id IS NOT DISTINCT FROM $1
		   AND session_id IS NOT DISTINCT FROM $2`,
		owner.UserID, owner.SessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("cart item count: %w", err)
	}
	return count, nil
}

// ListLines returns the owner's lines with product and variant names joined
// in for display, oldest first.
func ListLines(ctx context.Context, db *sql.DB, owner Owner) ([]LineDetail, error) {
	query := `
		SELECT cl.id, cl.user_id, cl.session_id, cl.product_id, cl.variant_id,
		       cl.quantity, cl.unit_price, cl.created_at, cl.updated_at,
		       p.name, pv.sku
		FROM cart_lines cl
		JOIN products p ON p.id = cl.product_id
		LEFT JOIN product_variants pv ON pv.id = cl.variant_id
		WHERE cl.user_id IS NOT DISTINCT FROM $1
		  AND cl.session_id IS NOT DISTINCT FROM $2
		ORDER BY cl.created_at, cl.id`

	rows, err := db.QueryContext(ctx, query, owner.UserID, owner.SessionID)
	if err != nil {
		return nil, fmt.Errorf("list cart lines: %w", err)
	}
	defer rows.Close()

	var lines []LineDetail
	for rows.Next() {
		var d LineDetail
		err := rows.Scan(
			&d.ID,
			&d.UserID,
			&d.SessionID,
			&d.ProductID,
			&d.VariantID,
			&d.Quantity,
			&d.UnitPrice,
			&d.CreatedAt,
			&d.UpdatedAt,
			&d.ProductName,
			&d.VariantSKU,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return lines, nil
}

// MergeGuestCart folds the guest session's cart into the account's cart in
// one transaction: matching (product, variant) lines add their quantities,
// the rest are re-owned. No guest lines survive. Quantities are combined
// without a stock re-check; checkout re-validates stock under row locks
// before any order commits.
func MergeGuestCart(ctx context.Context, db *sql.DB, sessionID string, userID int64) error {
	return database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+lineColumns+`
			 FROM cart_lines
			 WHERE session_id = $1
			 ORDER BY id
			 FOR UPDATE`,
			sessionID)
		if err != nil {
			return fmt.Errorf("lock guest cart: %w", err)
		}

		var guestLines []*models.CartLine
		for rows.Next() {
			line, err := scanLine(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan guest line: %w", err)
			}
			guestLines = append(guestLines, line)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("rows error: %w", err)
		}
		rows.Close()

		for _, guestLine := range guestLines {
			result, err := tx.ExecContext(ctx,
				`UPDATE cart_lines
				 SET quantity = quantity + $1, updated_at = NOW()
				 WHERE user_id = $2
				   AND product_id = $3
				   AND variant_id IS NOT DISTINCT FROM $4`,
				guestLine.Quantity, userID, guestLine.ProductID, guestLine.VariantID)
			if err != nil {
				return fmt.Errorf("merge guest line: %w", err)
			}

			merged, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("get rows affected: %w", err)
			}

			if merged > 0 {
				if _, err := tx.ExecContext(ctx, `DELETE FROM cart_lines WHERE id = $1`, guestLine.ID); err != nil {
					return fmt.Errorf("drop merged guest line: %w", err)
				}
				continue
			}

			_, err = tx.ExecContext(ctx,
				`UPDATE cart_lines
				 SET user_id = $1, session_id = NULL, updated_at = NOW()
				 WHERE id = $2`,
				userID, guestLine.ID)
			if err != nil {
				return fmt.Errorf("reassign guest line: %w", err)
			}
		}

		// Sweep anything left under the session id.
		if _, err := tx.ExecContext(ctx, `DELETE FROM cart_lines WHERE session_id = $1`, sessionID); err != nil {
			return fmt.Errorf("sweep guest cart: %w", err)
		}

		return nil
	})
}

func getLineForUpdate(ctx context.Context, tx *sql.Tx, lineID int64) (*models.CartLine, error) {
	line, err := scanLine(tx.QueryRowContext(ctx,
		`SELECT `+lineColumns+` FROM cart_lines WHERE id = $1 FOR UPDATE`,
		lineID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCartLineNotFound
		}
		return nil, fmt.Errorf("lock cart line: %w", err)
	}
	return line, nil
}

func findLineForUpdate(ctx context.Context, tx *sql.Tx, owner Owner, productID int64, variantID sql.NullInt64) (*models.CartLine, error) {
	line, err := scanLine(tx.QueryRowContext(ctx,
		`SELECT `+lineColumns+`
		 FROM cart_lines
		 WHERE user_id IS NOT DISTINCT FROM $1
		   AND session_id IS NOT DISTINCT FROM $2
		   AND product_id = $3
		   AND variant_id IS NOT DISTINCT FROM $4
		 FOR UPDATE`,
		owner.UserID, owner.SessionID, productID, variantID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find cart line: %w", err)
	}
	return line, nil
}
