package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/sales-core/internal/domain/coupon"
)

var couponInsertColumns = []string{
	"code", "description", "discount_type", "value", "min_purchase",
	"max_discount", "usage_limit", "valid_from", "valid_until", "active",
}

var (
	listCouponCodesSQL = `SELECT UPPER(code) FROM coupons`

	insertCouponIfAbsentSQL = `INSERT INTO coupons (` + strings.Join(couponInsertColumns, ", ") + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING`
)

// CouponImporter bulk-loads coupons.
type CouponImporter struct {
	pool *pgxpool.Pool
}

// NewCouponImporter returns a CouponImporter that uses the given pool.
func NewCouponImporter(pool *pgxpool.Pool) *CouponImporter {
	return &CouponImporter{pool: pool}
}

// ExistingCodes calls fn with the upper-cased code of every stored coupon.
func (i *CouponImporter) ExistingCodes(ctx context.Context, fn func(code string)) error {
	rows, err := i.pool.Query(ctx, listCouponCodesSQL)
	if err != nil {
		return fmt.Errorf("listing coupon codes: %w", err)
	}
	var code string
	_, err = pgx.ForEachRow(rows, []any{&code}, func() error {
		fn(code)
		return nil
	})
	if err != nil {
		return fmt.Errorf("listing coupon codes: %w", err)
	}
	return nil
}

// CopyCoupons inserts batch with the COPY protocol. The whole batch fails
// with coupon.ErrDuplicateCode if any code already exists.
func (i *CouponImporter) CopyCoupons(ctx context.Context, batch []coupon.Coupon) (int64, error) {
	n, err := i.pool.CopyFrom(ctx,
		pgx.Identifier{"coupons"},
		couponInsertColumns,
		pgx.CopyFromSlice(len(batch), func(idx int) ([]any, error) {
			return couponArgs(batch[idx]), nil
		}),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, coupon.ErrDuplicateCode
		}
		return 0, fmt.Errorf("copying %d coupons: %w", len(batch), err)
	}
	return n, nil
}

// InsertIfAbsent inserts c unless a coupon with the same code exists.
func (i *CouponImporter) InsertIfAbsent(ctx context.Context, c coupon.Coupon) (bool, error) {
	tag, err := i.pool.Exec(ctx, insertCouponIfAbsentSQL, couponArgs(c)...)
	if err != nil {
		return false, fmt.Errorf("inserting coupon %q: %w", c.Code, err)
	}
	return tag.RowsAffected() == 1, nil
}
