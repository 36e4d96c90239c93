// Package pricing resolves the effective unit price and available stock for
// a product/variant combination. Both functions are pure and total: a nil
// variant falls back to the parent product, an unset override falls back to
// the product price.
package pricing

import (
	"github.com/safar/go-cart-engine/internal/models"
	"github.com/shopspring/decimal"
)

// EffectivePrice returns the variant's price override when one is set,
// otherwise the product's price.
func EffectivePrice(product *models.Product, variant *models.ProductVariant) decimal.Decimal {
	if variant != nil && variant.PriceOverride.Valid {
		return variant.PriceOverride.Decimal
	}
	return product.Price
}

// AvailableStock returns the variant's stock when a variant is given,
// otherwise the product's stock.
func AvailableStock(product *models.Product, variant *models.ProductVariant) int {
	if variant != nil {
		return variant.Stock
	}
	return product.Stock
}
