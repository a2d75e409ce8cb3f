package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/sales-core/internal/domain/coupon"
)

// Breakdown is the result of pricing a set of items.
type Breakdown struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// Totals prices items using their snapshot prices. The coupon, when not nil,
// only discounts while it still applies at now. Total is never negative.
func Totals(items []Item, c *coupon.Coupon, now time.Time) Breakdown {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.Subtotal())
	}

	discount := decimal.Zero
	if c != nil && c.Applies(now, subtotal) {
		discount = coupon.CalculateDiscount(c, subtotal)
	}

	total := subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return Breakdown{
		Subtotal: subtotal,
		Discount: discount,
		Total:    total.Round(2),
	}
}

// recompute reloads the items of o, prices them and persists total and
// discount. It must run in the same transaction as the item change that
// triggered it.
func (s *Service) recompute(ctx context.Context, uow UnitOfWork, o *Order) error {
	items, err := uow.Orders().Items(ctx, o.ID)
	if err != nil {
		return errors.Wrap(err, "load items")
	}

	var c *coupon.Coupon
	if o.CouponID != nil {
		c, err = uow.Coupons().FindByID(ctx, *o.CouponID)
		switch {
		case errors.Is(err, coupon.ErrNotFound):
			c = nil
		case err != nil:
			return errors.Wrap(err, "load coupon")
		}
	}

	b := Totals(items, c, s.now())
	if err := uow.Orders().UpdateTotals(ctx, o.ID, b.Total, b.Discount); err != nil {
		return errors.Wrap(err, "update totals")
	}

	o.Items = items
	o.Total = b.Total
	o.Discount = b.Discount
	return nil
}
