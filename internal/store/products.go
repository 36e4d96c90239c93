package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/safar/go-cart-engine/internal/database"
	"github.com/safar/go-cart-engine/internal/models"
	"github.com/shopspring/decimal"
)

type CreateProductRequest struct {
	SKU          string
	Slug         string
	Name         string
	Description  string
	Price        decimal.Decimal
	ComparePrice decimal.NullDecimal
	Stock        int
	Status       string
}

type CreateVariantRequest struct {
	ProductID     int64
	SKU           string
	Color         sql.NullString
	Size          sql.NullString
	PriceOverride decimal.NullDecimal
	Stock         int
	IsActive      bool
}

const productColumns = `id, sku, slug, name, description, price, compare_price,
		stock, status, created_at, updated_at, version`

func scanProduct(row *sql.Row) (*models.Product, error) {
	p := &models.Product{}
	err := row.Scan(
		&p.ID,
		&p.SKU,
		&p.Slug,
		&p.Name,
		&p.Description,
		&p.Price,
		&p.ComparePrice,
		&p.Stock,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.Version,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

const variantColumns = `id, product_id, sku, color, size, price_override,
		stock, is_active, created_at, updated_at, version`

func scanVariant(row *sql.Row) (*models.ProductVariant, error) {
	v := &models.ProductVariant{}
	err := row.Scan(
		&v.ID,
		&v.ProductID,
		&v.SKU,
		&v.Color,
		&v.Size,
		&v.PriceOverride,
		&v.Stock,
		&v.IsActive,
		&v.CreatedAt,
		&v.UpdatedAt,
		&v.Version,
	)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func CreateProduct(ctx context.Context, db *sql.DB, req CreateProductRequest) (*models.Product, error) {
	if req.Status == "" {
		req.Status = models.ProductStatusActive
	}

	query := `
		INSERT INTO products (sku, slug, name, description, price, compare_price, stock, status, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW(), 1)
		RETURNING ` + productColumns

	product, err := scanProduct(db.QueryRowContext(ctx, query,
		req.SKU, req.Slug, req.Name, req.Description, req.Price, req.ComparePrice, req.Stock, req.Status))
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, db *sql.DB, id int64) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	product, err := scanProduct(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

func CreateVariant(ctx context.Context, db *sql.DB, req CreateVariantRequest) (*models.ProductVariant, error) {
	query := `
		INSERT INTO product_variants (product_id, sku, color, size, price_override, stock, is_active, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW(), 1)
		RETURNING ` + variantColumns

	variant, err := scanVariant(db.QueryRowContext(ctx, query,
		req.ProductID, req.SKU, req.Color, req.Size, req.PriceOverride, req.Stock, req.IsActive))
	if err != nil {
		return nil, fmt.Errorf("create variant: %w", err)
	}

	return variant, nil
}

func GetVariant(ctx context.Context, db *sql.DB, id int64) (*models.ProductVariant, error) {
	query := `SELECT ` + variantColumns + ` FROM product_variants WHERE id = $1`

	variant, err := scanVariant(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrVariantNotFound
		}
		return nil, fmt.Errorf("get variant: %w", err)
	}

	return variant, nil
}

// LockProduct takes a row lock on a sellable product. Draft and inactive
// products are reported as not found, matching the storefront's active-only
// catalog scope.
func LockProduct(ctx context.Context, tx *sql.Tx, id int64) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1 FOR UPDATE`

	product, err := scanProduct(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("lock product: %w", err)
	}

	if product.Status != models.ProductStatusActive {
		return nil, database.ErrProductNotFound
	}

	return product, nil
}

// LockVariant takes a row lock on an active variant of the given product.
func LockVariant(ctx context.Context, tx *sql.Tx, id, productID int64) (*models.ProductVariant, error) {
	query := `SELECT ` + variantColumns + ` FROM product_variants WHERE id = $1 AND product_id = $2 FOR UPDATE`

	variant, err := scanVariant(tx.QueryRowContext(ctx, query, id, productID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrVariantNotFound
		}
		return nil, fmt.Errorf("lock variant: %w", err)
	}

	if !variant.IsActive {
		return nil, database.ErrVariantNotFound
	}

	return variant, nil
}

// LockProductNoWait is LockProduct with FOR UPDATE NOWAIT, for callers that
// would rather fail fast than queue behind another checkout.
func LockProductNoWait(ctx context.Context, tx *sql.Tx, id int64) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1 FOR UPDATE NOWAIT`

	product, err := scanProduct(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "55P03" {
			return nil, database.ErrLockTimeout
		}
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("lock product (nowait): %w", err)
	}

	if product.Status != models.ProductStatusActive {
		return nil, database.ErrProductNotFound
	}

	return product, nil
}

// UpdateStockOptimistic is the admin-side stock adjustment: compare-and-set
// on the version column instead of holding a row lock.
func UpdateStockOptimistic(ctx context.Context, db *sql.DB, productID int64, newStock int, version int) error {
	result, err := db.ExecContext(ctx,
		`UPDATE products
		 SET stock = $1, version = version + 1, updated_at = NOW()
		 WHERE id = $2 AND version = $3`,
		newStock, productID, version)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrOptimisticLockFailed
	}

	return nil
}

func DecrementProductStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET stock = stock - $1, updated_at = NOW()
		 WHERE id = $2
		   AND stock >= $1`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("decrement product stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrInsufficientStock
	}

	return nil
}

func DecrementVariantStock(ctx context.Context, tx *sql.Tx, variantID int64, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE product_variants
		 SET stock = stock - $1, updated_at = NOW()
		 WHERE id = $2
		   AND stock >= $1`,
		quantity, variantID)
	if err != nil {
		return fmt.Errorf("decrement variant stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrInsufficientStock
	}

	return nil
}
