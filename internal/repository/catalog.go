package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/sales-core/internal/domain/catalog"
)

const (
	getProductSQL = `SELECT id, store_id, name, has_variants, active
		FROM products WHERE id = $1`

	variantColumns = `v.id, v.product_id, p.store_id, v.sku, v.price, v.stock, v.active, p.active`

	getVariantsByIDsSQL = `SELECT ` + variantColumns + `
		FROM product_variants v JOIN products p ON p.id = v.product_id
		WHERE v.id = ANY($1)`

	getDefaultVariantSQL = `SELECT ` + variantColumns + `
		FROM product_variants v JOIN products p ON p.id = v.product_id
		WHERE v.product_id = $1 AND v.active = TRUE
		ORDER BY v.id LIMIT 1`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	db DBTX
}

// NewCatalogRepository returns a CatalogRepository that uses the given db.
func NewCatalogRepository(db DBTX) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// GetProduct returns a single product by its identifier.
func (r *CatalogRepository) GetProduct(ctx context.Context, id int64) (*catalog.Product, error) {
	var p catalog.Product
	err := r.db.QueryRow(ctx, getProductSQL, id).Scan(&p.ID, &p.StoreID, &p.Name, &p.HasVariants, &p.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}
	return &p, nil
}

// GetVariants returns the variants matching any of the given IDs.
func (r *CatalogRepository) GetVariants(ctx context.Context, ids []int64) ([]catalog.Variant, error) {
	rows, err := r.db.Query(ctx, getVariantsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting variants by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanVariant)
}

// DefaultVariant returns the lowest-ID active variant of the product.
func (r *CatalogRepository) DefaultVariant(ctx context.Context, productID int64) (*catalog.Variant, error) {
	rows, err := r.db.Query(ctx, getDefaultVariantSQL, productID)
	if err != nil {
		return nil, fmt.Errorf("getting default variant of product %d: %w", productID, err)
	}

	v, err := pgx.CollectExactlyOneRow(rows, scanVariant)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting default variant of product %d: %w", productID, err)
	}
	return &v, nil
}

func scanVariant(row pgx.CollectableRow) (catalog.Variant, error) {
	var v catalog.Variant
	err := row.Scan(&v.ID, &v.ProductID, &v.StoreID, &v.SKU, &v.Price, &v.Stock, &v.Active, &v.ProductActive)
	return v, err
}
