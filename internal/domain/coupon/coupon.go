package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/sales-core/internal/domain/errcode"
)

// Kind enumerates the supported coupon discount strategies.
type Kind string

const (
	// KindPercentage discounts a percentage of the subtotal, optionally capped.
	KindPercentage Kind = "percentage"
	// KindFixed discounts a fixed monetary amount.
	KindFixed Kind = "fixed"
)

// Valid reports whether k is a known discount kind.
func (k Kind) Valid() bool {
	return k == KindPercentage || k == KindFixed
}

// Reason explains why a coupon cannot be applied.
type Reason string

const (
	ReasonNotFound          Reason = "not_found"
	ReasonInactive          Reason = "inactive"
	ReasonNotYetValid       Reason = "not_yet_valid"
	ReasonExpired           Reason = "expired"
	ReasonUsageLimitReached Reason = "usage_limit_reached"
	ReasonBelowMinimum      Reason = "below_minimum"
)

// InvalidError is returned when a coupon cannot be used.
type InvalidError struct {
	Code   string
	Reason Reason
	// MinPurchase is set for ReasonBelowMinimum.
	MinPurchase decimal.Decimal
}

func (e *InvalidError) Error() string {
	switch e.Reason {
	case ReasonNotFound:
		return fmt.Sprintf("coupon %q not found", e.Code)
	case ReasonInactive:
		return fmt.Sprintf("coupon %q is inactive", e.Code)
	case ReasonNotYetValid:
		return fmt.Sprintf("coupon %q is not valid yet", e.Code)
	case ReasonExpired:
		return fmt.Sprintf("coupon %q has expired", e.Code)
	case ReasonUsageLimitReached:
		return fmt.Sprintf("coupon %q usage limit reached", e.Code)
	case ReasonBelowMinimum:
		return fmt.Sprintf("coupon %q requires a minimum purchase of %s", e.Code, e.MinPurchase.StringFixed(2))
	default:
		return fmt.Sprintf("coupon %q is invalid", e.Code)
	}
}

// ErrorCode implements errcode.Coder.
func (e *InvalidError) ErrorCode() string { return errcode.CouponInvalid }

// Repository errors.
var (
	ErrNotFound      = errcode.New(errcode.NotFound, "coupon not found")
	ErrDuplicateCode = errcode.New(errcode.InvalidRequest, "coupon code already exists")
)

// Coupon is a discount code with its eligibility rules and usage counter.
type Coupon struct {
	ID          int64
	Code        string
	Description string
	Kind        Kind
	Value       decimal.Decimal
	MinPurchase decimal.Decimal
	// MaxDiscount caps percentage discounts when set.
	MaxDiscount decimal.NullDecimal
	// UsageLimit is zero when the coupon may be redeemed without limit.
	UsageLimit int
	UsageCount int
	ValidFrom  time.Time
	ValidUntil time.Time
	Active     bool
}

// HasUsageLimit reports whether the coupon has a redemption limit.
func (c *Coupon) HasUsageLimit() bool {
	return c.UsageLimit > 0
}

// IsValid checks the active flag, the validity window and the usage limit.
// It returns the reason the coupon is unusable, or ok=true.
func (c *Coupon) IsValid(now time.Time) (ok bool, reason Reason) {
	switch {
	case !c.Active:
		return false, ReasonInactive
	case now.Before(c.ValidFrom):
		return false, ReasonNotYetValid
	case now.After(c.ValidUntil):
		return false, ReasonExpired
	case c.HasUsageLimit() && c.UsageCount >= c.UsageLimit:
		return false, ReasonUsageLimitReached
	}
	return true, ""
}

// Check is IsValid in error form.
func (c *Coupon) Check(now time.Time) error {
	if ok, reason := c.IsValid(now); !ok {
		return &InvalidError{Code: c.Code, Reason: reason}
	}
	return nil
}

// CheckMinimum verifies that subtotal reaches the minimum purchase amount.
func (c *Coupon) CheckMinimum(subtotal decimal.Decimal) error {
	if subtotal.LessThan(c.MinPurchase) {
		return &InvalidError{Code: c.Code, Reason: ReasonBelowMinimum, MinPurchase: c.MinPurchase}
	}
	return nil
}

// Applies reports whether an already redeemed coupon still discounts an
// order with the given subtotal: it must be active, inside its validity
// window and the subtotal must reach the minimum purchase. The usage limit is
// not consulted because the order itself holds one of the counted uses.
func (c *Coupon) Applies(now time.Time, subtotal decimal.Decimal) bool {
	if !c.Active || now.Before(c.ValidFrom) || now.After(c.ValidUntil) {
		return false
	}
	return !subtotal.LessThan(c.MinPurchase)
}

// Repository provides lookup and the atomic usage counter of coupons.
type Repository interface {
	// FindByCode looks up a coupon by code, case-insensitively.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	FindByID(ctx context.Context, id int64) (*Coupon, error)
	// IncrementUsage adds one use in a single conditional update that only
	// succeeds while the usage limit, if any, has not been reached.
	// It reports ok=false without writing when the limit is exhausted.
	IncrementUsage(ctx context.Context, id int64) (ok bool, err error)
}
