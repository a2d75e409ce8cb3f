package coupon

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// CalculateDiscount returns the discount c grants on subtotal.
//
// Percentage coupons take value% of the subtotal, capped at MaxDiscount when
// set. Fixed coupons take the value as is. The result is rounded to cents and
// never exceeds the subtotal nor drops below zero.
func CalculateDiscount(c *Coupon, subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.Sign() <= 0 {
		return decimal.Zero
	}

	var d decimal.Decimal
	switch c.Kind {
	case KindPercentage:
		d = subtotal.Mul(c.Value).Div(hundred)
		if c.MaxDiscount.Valid && d.GreaterThan(c.MaxDiscount.Decimal) {
			d = c.MaxDiscount.Decimal
		}
	case KindFixed:
		d = c.Value
	default:
		return decimal.Zero
	}

	d = d.Round(2)
	if d.Sign() < 0 {
		return decimal.Zero
	}
	return decimal.Min(d, subtotal)
}
