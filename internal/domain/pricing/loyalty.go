package pricing

import "github.com/shopspring/decimal"

// Tier is a loyalty level unlocked at MinPoints accumulated points.
type Tier struct {
	Name      string
	MinPoints int
	Percent   decimal.Decimal
}

// Tiers are ordered from the highest threshold down.
var Tiers = []Tier{
	{Name: "platinum", MinPoints: 5000, Percent: decimal.NewFromInt(15)},
	{Name: "gold", MinPoints: 2000, Percent: decimal.NewFromInt(10)},
	{Name: "silver", MinPoints: 500, Percent: decimal.NewFromInt(5)},
	{Name: "bronze", MinPoints: 0, Percent: decimal.Zero},
}

// TierFor returns the tier for the given points balance.
func TierFor(points int) Tier {
	for _, t := range Tiers {
		if points >= t.MinPoints {
			return t
		}
	}
	return Tiers[len(Tiers)-1]
}

// LoyaltyDiscount returns the tier discount on subtotal for a customer with
// the given points. Loyalty is applied before any coupon: the coupon is then
// evaluated against subtotal minus this amount.
func LoyaltyDiscount(subtotal decimal.Decimal, points int) decimal.Decimal {
	t := TierFor(points)
	if t.Percent.IsZero() || !subtotal.IsPositive() {
		return decimal.Zero
	}
	return Round(subtotal.Mul(t.Percent).Div(decimal.NewFromInt(100)))
}
