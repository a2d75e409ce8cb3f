// Package catalog holds the read-only view of stores, products and variants
// that the order core consumes.
package catalog

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/sales-core/internal/domain/errcode"
)

// ErrNotFound is returned when a requested product or variant does not exist.
var ErrNotFound = errcode.New(errcode.NotFound, "catalog entry not found")

// Product is a sellable item of a store. A product with HasVariants set is
// variant-based: every order line must name one of its variants. Otherwise it
// is a simple single-SKU product backed by exactly one variant.
type Product struct {
	ID          int64
	StoreID     int64
	Name        string
	HasVariants bool
	Active      bool
}

// Variant is a purchasable SKU with its own price and stock.
type Variant struct {
	ID        int64
	ProductID int64
	StoreID   int64
	SKU       string
	Price     decimal.Decimal
	Stock     int
	Active    bool
	// ProductActive mirrors the owning product's active flag.
	ProductActive bool
}

// Sellable reports whether both the variant and its product are active.
func (v Variant) Sellable() bool {
	return v.Active && v.ProductActive
}

// Repository defines read operations for the catalog.
type Repository interface {
	GetProduct(ctx context.Context, id int64) (*Product, error)
	// GetVariants returns the variants matching ids. Missing ids are omitted.
	GetVariants(ctx context.Context, ids []int64) ([]Variant, error)
	// DefaultVariant returns the single active variant of a simple product.
	DefaultVariant(ctx context.Context, productID int64) (*Variant, error)
}
