package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/sales-core/internal/domain/catalog"
	"github.com/xenking/sales-core/internal/domain/coupon"
)

const (
	upsertStoreSQL = `INSERT INTO stores (name, slug) VALUES ($1, $2)
		ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`

	findProductSQL = `SELECT id FROM products WHERE store_id = $1 AND name = $2`

	insertProductSQL = `INSERT INTO products (store_id, name, has_variants, active)
		VALUES ($1, $2, $3, $4) RETURNING id`

	updateProductSQL = `UPDATE products SET has_variants = $2, active = $3 WHERE id = $1`

	upsertVariantSQL = `INSERT INTO product_variants (product_id, sku, price, stock, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sku) DO UPDATE SET
			product_id = EXCLUDED.product_id,
			price      = EXCLUDED.price,
			stock      = EXCLUDED.stock,
			active     = EXCLUDED.active
		RETURNING id`

	upsertCouponSQL = `INSERT INTO coupons (code, description, discount_type, value, min_purchase,
		max_discount, usage_limit, valid_from, valid_until, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (UPPER(code)) DO UPDATE SET
			description   = EXCLUDED.description,
			discount_type = EXCLUDED.discount_type,
			value         = EXCLUDED.value,
			min_purchase  = EXCLUDED.min_purchase,
			max_discount  = EXCLUDED.max_discount,
			usage_limit   = EXCLUDED.usage_limit,
			valid_from    = EXCLUDED.valid_from,
			valid_until   = EXCLUDED.valid_until,
			active        = EXCLUDED.active
		RETURNING id`

	upsertAPIKeySQL = `INSERT INTO api_keys (store_id, key_hash, name, scopes, active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (key_hash) DO UPDATE SET
			store_id = EXCLUDED.store_id,
			name     = EXCLUDED.name,
			scopes   = EXCLUDED.scopes,
			active   = TRUE
		RETURNING id`
)

// Seeder writes reference data idempotently. Running it twice leaves the
// database in the same state.
type Seeder struct {
	db DBTX
}

// NewSeeder returns a Seeder that uses the given db.
func NewSeeder(db DBTX) *Seeder {
	return &Seeder{db: db}
}

// UpsertStore creates or renames the store with the given slug.
func (s *Seeder) UpsertStore(ctx context.Context, name, slug string) (int64, error) {
	var id int64
	if err := s.db.QueryRow(ctx, upsertStoreSQL, name, slug).Scan(&id); err != nil {
		return 0, fmt.Errorf("upserting store %q: %w", slug, err)
	}
	return id, nil
}

// UpsertProduct creates the product or updates the one with the same name
// in the same store.
func (s *Seeder) UpsertProduct(ctx context.Context, p catalog.Product) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, findProductSQL, p.StoreID, p.Name).Scan(&id)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if err := s.db.QueryRow(ctx, insertProductSQL, p.StoreID, p.Name, p.HasVariants, p.Active).Scan(&id); err != nil {
			return 0, fmt.Errorf("inserting product %q: %w", p.Name, err)
		}
		return id, nil
	case err != nil:
		return 0, fmt.Errorf("finding product %q: %w", p.Name, err)
	}

	if _, err := s.db.Exec(ctx, updateProductSQL, id, p.HasVariants, p.Active); err != nil {
		return 0, fmt.Errorf("updating product %q: %w", p.Name, err)
	}
	return id, nil
}

// UpsertVariant creates or updates the variant with the same SKU. Stock is
// reset to the given value.
func (s *Seeder) UpsertVariant(ctx context.Context, v catalog.Variant) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, upsertVariantSQL, v.ProductID, v.SKU, v.Price, v.Stock, v.Active).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting variant %q: %w", v.SKU, err)
	}
	return id, nil
}

// UpsertCoupon creates or updates the coupon with the same code. The usage
// counter of an existing coupon is kept.
func (s *Seeder) UpsertCoupon(ctx context.Context, c coupon.Coupon) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, upsertCouponSQL, couponArgs(c)...).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return id, nil
}

// UpsertAPIKey stores an API key hash for a store.
func (s *Seeder) UpsertAPIKey(ctx context.Context, storeID int64, name, keyHash string, scopes []string) (int64, error) {
	var id int64
	if err := s.db.QueryRow(ctx, upsertAPIKeySQL, storeID, keyHash, name, scopes).Scan(&id); err != nil {
		return 0, fmt.Errorf("upserting api key %q: %w", name, err)
	}
	return id, nil
}

// couponArgs returns the insert arguments in couponInsertColumns order.
func couponArgs(c coupon.Coupon) []any {
	var usageLimit *int32
	if c.HasUsageLimit() {
		v := int32(c.UsageLimit)
		usageLimit = &v
	}
	return []any{
		c.Code, c.Description, string(c.Kind), c.Value, c.MinPurchase,
		c.MaxDiscount, usageLimit, c.ValidFrom, c.ValidUntil, c.Active,
	}
}
