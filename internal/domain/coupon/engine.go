package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Quote is the result of validating a coupon against a subtotal.
type Quote struct {
	Coupon     *Coupon
	Subtotal   decimal.Decimal
	Discount   decimal.Decimal
	FinalTotal decimal.Decimal
}

// Engine looks coupons up in a Repository and applies the eligibility and
// discount rules to them.
type Engine struct {
	repo Repository
	now  func() time.Time
}

// NewEngine creates an Engine backed by the given Repository.
func NewEngine(repo Repository) *Engine {
	return &Engine{repo: repo, now: time.Now}
}

// WithClock returns a copy of the engine that reads time from now.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	return &Engine{repo: e.repo, now: now}
}

// Lookup finds an eligible coupon by code. It checks the active flag, the
// validity window and the usage limit but not the minimum purchase.
func (e *Engine) Lookup(ctx context.Context, code string) (*Coupon, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, &InvalidError{Code: code, Reason: ReasonNotFound}
	}

	c, err := e.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &InvalidError{Code: code, Reason: ReasonNotFound}
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if err := c.Check(e.now()); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks code against subtotal without redeeming it.
func (e *Engine) Validate(ctx context.Context, code string, subtotal decimal.Decimal) (*Quote, error) {
	c, err := e.Lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := c.CheckMinimum(subtotal); err != nil {
		return nil, err
	}

	d := CalculateDiscount(c, subtotal)
	return &Quote{
		Coupon:     c,
		Subtotal:   subtotal,
		Discount:   d,
		FinalTotal: subtotal.Sub(d),
	}, nil
}

// Redeem consumes one use of c. It fails with ReasonUsageLimitReached when a
// concurrent redemption took the last use first.
func (e *Engine) Redeem(ctx context.Context, c *Coupon) error {
	ok, err := e.repo.IncrementUsage(ctx, c.ID)
	if err != nil {
		return errors.Wrap(err, "increment coupon usage")
	}
	if !ok {
		return &InvalidError{Code: c.Code, Reason: ReasonUsageLimitReached}
	}
	c.UsageCount++
	return nil
}
