package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ComputeDiscount returns the discount c grants on subtotal, rounded to cents.
// The result is never negative and never exceeds the subtotal. Free delivery
// coupons yield zero here; the pricing engine waives the fee instead.
func ComputeDiscount(c *Coupon, subtotal decimal.Decimal) (decimal.Decimal, error) {
	if subtotal.IsNegative() {
		subtotal = decimal.Zero
	}

	var amount decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		amount = subtotal.Mul(c.DiscountValue).Div(hundred)
		if c.MaxDiscountAmount.Valid {
			amount = decimal.Min(amount, c.MaxDiscountAmount.Decimal)
		}
	case DiscountFixedAmount:
		amount = decimal.Min(c.DiscountValue, subtotal)
	case DiscountFreeDelivery:
		return decimal.Zero, nil
	default:
		return decimal.Zero, errors.Errorf("unsupported discount type: %q", c.DiscountType)
	}

	return floorAtZero(amount).Round(2), nil
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
