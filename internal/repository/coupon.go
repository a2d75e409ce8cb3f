package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/sales-core/internal/domain/coupon"
)

const (
	couponColumns = `id, code, description, discount_type, value, min_purchase, max_discount,
		usage_limit, usage_count, valid_from, valid_until, active`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE UPPER(code) = UPPER($1)`

	getCouponByIDSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	// Conditional increment: the limit check and the write are one statement.
	incrementCouponUsageSQL = `UPDATE coupons SET usage_count = usage_count + 1
		WHERE id = $1 AND (usage_limit IS NULL OR usage_count < usage_limit)
		RETURNING usage_count`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	db DBTX
}

// NewCouponRepository returns a CouponRepository that uses the given db.
func NewCouponRepository(db DBTX) *CouponRepository {
	return &CouponRepository{db: db}
}

// FindByCode looks up a coupon by its code (case-insensitive).
// Returns coupon.ErrNotFound when no coupon matches.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.findOne(ctx, getCouponByCodeSQL, code)
}

// FindByID looks up a coupon by its identifier.
func (r *CouponRepository) FindByID(ctx context.Context, id int64) (*coupon.Coupon, error) {
	return r.findOne(ctx, getCouponByIDSQL, id)
}

func (r *CouponRepository) findOne(ctx context.Context, sql string, arg any) (*coupon.Coupon, error) {
	rows, err := r.db.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("finding coupon %v: %w", arg, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon %v: %w", arg, err)
	}
	return &c, nil
}

// IncrementUsage implements coupon.Repository.
func (r *CouponRepository) IncrementUsage(ctx context.Context, id int64) (bool, error) {
	var count int
	err := r.db.QueryRow(ctx, incrementCouponUsageSQL, id).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("incrementing usage of coupon %d: %w", id, err)
	}
	return true, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c          coupon.Coupon
		kind       string
		usageLimit *int32
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Description, &kind, &c.Value, &c.MinPurchase, &c.MaxDiscount,
		&usageLimit, &c.UsageCount, &c.ValidFrom, &c.ValidUntil, &c.Active,
	)
	c.Kind = coupon.Kind(kind)
	if usageLimit != nil {
		c.UsageLimit = int(*usageLimit)
	}
	return c, err
}
