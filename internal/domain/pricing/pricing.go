// Package pricing turns priced order lines plus an optional discount into the
// full monetary breakdown of an order, including the split of the total
// between the merchant and the platform.
//
// All amounts are rounded to two decimal places with round-half-up
// (decimal.Round rounds half away from zero, which is half-up for the
// non-negative amounts handled here).
package pricing

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// OrderType determines which fees apply to an order.
type OrderType string

const (
	// DineIn orders are eaten on the premises and carry no service fee.
	DineIn OrderType = "dine_in"
	// Takeaway orders are collected by the customer.
	Takeaway OrderType = "takeaway"
	// Delivery orders are brought to the customer and carry a delivery fee.
	Delivery OrderType = "delivery"
)

// Valid reports whether t is one of the known order types.
func (t OrderType) Valid() bool {
	switch t {
	case DineIn, Takeaway, Delivery:
		return true
	default:
		return false
	}
}

var (
	// ErrNoLines is returned when there is nothing to price.
	ErrNoLines = errors.New("no order lines")
	// ErrUnknownOrderType is returned for an order type outside dine_in, takeaway, delivery.
	ErrUnknownOrderType = errors.New("unknown order type")
	// ErrInvalidCommissionRate is returned when the commission rate is outside [0, 1].
	ErrInvalidCommissionRate = errors.New("commission rate must be between 0 and 1")
	// ErrNegativeAmount is returned when a discount, tip or unit price is negative.
	ErrNegativeAmount = errors.New("amount must not be negative")
	// ErrInvalidQuantity is returned when a line has a quantity below 1.
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
)

// ProductUnavailableError reports the product that prevented pricing.
type ProductUnavailableError struct {
	ProductID string
	Name      string
}

func (e *ProductUnavailableError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("product %s (%s) is unavailable", e.ProductID, e.Name)
	}
	return fmt.Sprintf("product %s is unavailable", e.ProductID)
}

// Line is an order line with the product already resolved.
type Line struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
	Available bool
}

// Discount is the resolved coupon line. FreeDelivery waives the delivery fee
// instead of reducing the discount line.
type Discount struct {
	Amount       decimal.Decimal
	FreeDelivery bool
}

// Request holds every input of a price computation.
type Request struct {
	Lines          []Line
	OrderType      OrderType
	CommissionRate decimal.Decimal
	// Loyalty is an already computed loyalty discount, see LoyaltyDiscount.
	Loyalty decimal.Decimal
	// Discount is nil when no coupon is applied.
	Discount *Discount
	Tip      decimal.Decimal
}

// Breakdown is every monetary field of an order.
type Breakdown struct {
	Subtotal         decimal.Decimal
	LoyaltyDiscount  decimal.Decimal
	DiscountAmount   decimal.Decimal
	TaxAmount        decimal.Decimal
	ServiceFee       decimal.Decimal
	DeliveryFee      decimal.Decimal
	TipAmount        decimal.Decimal
	Total            decimal.Decimal
	CommissionRate   decimal.Decimal
	CommissionAmount decimal.Decimal
	MerchantPayout   decimal.Decimal
}

// Config holds the platform-wide flat rates.
type Config struct {
	TaxRate     decimal.Decimal
	ServiceFee  decimal.Decimal
	DeliveryFee decimal.Decimal
}

// DefaultConfig returns a flat 10% VAT, a 2.00 service fee and a 3.50 delivery fee.
func DefaultConfig() Config {
	return Config{
		TaxRate:     decimal.RequireFromString("0.10"),
		ServiceFee:  decimal.RequireFromString("2.00"),
		DeliveryFee: decimal.RequireFromString("3.50"),
	}
}

// Engine computes price breakdowns. It is stateless and safe for concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine creates an Engine with the given rates.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the rates the engine was built with.
func (e *Engine) Config() Config {
	return e.cfg
}

// Subtotal returns the rounded sum of unit price times quantity. It fails
// with *ProductUnavailableError if any line is unavailable, before summing
// anything.
func (e *Engine) Subtotal(lines []Line) (decimal.Decimal, error) {
	if len(lines) == 0 {
		return decimal.Zero, ErrNoLines
	}
	for _, l := range lines {
		if !l.Available {
			return decimal.Zero, &ProductUnavailableError{ProductID: l.ProductID, Name: l.Name}
		}
		if l.Quantity < 1 {
			return decimal.Zero, errors.Wrapf(ErrInvalidQuantity, "product %s", l.ProductID)
		}
		if l.UnitPrice.IsNegative() {
			return decimal.Zero, errors.Wrapf(ErrNegativeAmount, "unit price of product %s", l.ProductID)
		}
	}

	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return Round(sum), nil
}

// Price computes the breakdown for req. Either every field is computed or an
// error is returned.
func (e *Engine) Price(req Request) (Breakdown, error) {
	if !req.OrderType.Valid() {
		return Breakdown{}, errors.Wrapf(ErrUnknownOrderType, "%q", req.OrderType)
	}
	if req.CommissionRate.IsNegative() || req.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
		return Breakdown{}, errors.Wrapf(ErrInvalidCommissionRate, "got %s", req.CommissionRate)
	}
	if req.Loyalty.IsNegative() || req.Tip.IsNegative() {
		return Breakdown{}, errors.Wrap(ErrNegativeAmount, "loyalty or tip")
	}
	if req.Discount != nil && req.Discount.Amount.IsNegative() {
		return Breakdown{}, errors.Wrap(ErrNegativeAmount, "discount")
	}

	subtotal, err := e.Subtotal(req.Lines)
	if err != nil {
		return Breakdown{}, err
	}

	b := Breakdown{
		Subtotal:        subtotal,
		LoyaltyDiscount: Round(req.Loyalty),
		DiscountAmount:  decimal.Zero,
		TaxAmount:       Round(subtotal.Mul(e.cfg.TaxRate)),
		ServiceFee:      decimal.Zero,
		DeliveryFee:     decimal.Zero,
		TipAmount:       Round(req.Tip),
		CommissionRate:  req.CommissionRate,
	}
	if req.OrderType != DineIn {
		b.ServiceFee = Round(e.cfg.ServiceFee)
	}
	if req.OrderType == Delivery {
		b.DeliveryFee = Round(e.cfg.DeliveryFee)
	}
	if req.Discount != nil {
		b.DiscountAmount = Round(req.Discount.Amount)
		if req.Discount.FreeDelivery {
			b.DeliveryFee = decimal.Zero
		}
	}

	gross := b.Subtotal.Add(b.TaxAmount).Add(b.ServiceFee).Add(b.DeliveryFee)
	net := gross.Sub(b.LoyaltyDiscount).Sub(b.DiscountAmount)
	if net.IsNegative() {
		net = decimal.Zero
	}
	b.Total = Round(net.Add(b.TipAmount))
	b.CommissionAmount, b.MerchantPayout = SplitCommission(b.Total, req.CommissionRate)

	return b, nil
}

// SplitCommission divides total into the platform commission and the
// merchant payout. Both are rounded to cents and always sum to total; when
// independent rounding would break that, the smaller share absorbs the
// remainder.
func SplitCommission(total, rate decimal.Decimal) (commission, payout decimal.Decimal) {
	raw := total.Mul(rate)
	commission = Round(raw)
	payout = Round(total.Sub(raw))

	diff := total.Sub(commission.Add(payout))
	if diff.IsZero() {
		return commission, payout
	}
	if commission.LessThanOrEqual(payout) {
		commission = commission.Add(diff)
	} else {
		payout = payout.Add(diff)
	}
	return commission, payout
}

// Round rounds d to cents, half-up.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
