package order

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/pricing"
)

// Item is the immutable snapshot of a line item taken at creation time.
// Prices are copied so later catalogue changes never affect the order.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Notes     string          `json:"notes,omitempty"`
}

// LineTotal returns UnitPrice * Quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order is a priced customer order and its lifecycle state.
type Order struct {
	ID          string
	OrderNumber string
	MerchantID  string
	CustomerID  string
	OrderType   pricing.OrderType
	Items       []Item

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

	CouponID   string
	CouponCode string

	Status           Status
	PaymentStatus    PaymentStatus
	PaymentReference string
	CancelReason     string

	ConfirmedAt      *time.Time
	PreparingAt      *time.Time
	ReadyAt          *time.Time
	OutForDeliveryAt *time.Time
	DeliveredAt      *time.Time
	CompletedAt      *time.Time
	CancelledAt      *time.Time

	// Version increases by one on every update and guards concurrent writers.
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StatusTime returns when the order reached s, or nil.
func (o *Order) StatusTime(s Status) *time.Time {
	switch s {
	case StatusPending:
		return &o.CreatedAt
	case StatusConfirmed:
		return o.ConfirmedAt
	case StatusPreparing:
		return o.PreparingAt
	case StatusReady:
		return o.ReadyAt
	case StatusOutForDelivery:
		return o.OutForDeliveryAt
	case StatusDelivered:
		return o.DeliveredAt
	case StatusCompleted:
		return o.CompletedAt
	case StatusCancelled:
		return o.CancelledAt
	default:
		return nil
	}
}

func (o *Order) setStatus(s Status, at time.Time) {
	o.Status = s
	o.UpdatedAt = at
	ts := at
	switch s {
	case StatusConfirmed:
		o.ConfirmedAt = &ts
	case StatusPreparing:
		o.PreparingAt = &ts
	case StatusReady:
		o.ReadyAt = &ts
	case StatusOutForDelivery:
		o.OutForDeliveryAt = &ts
	case StatusDelivered:
		o.DeliveredAt = &ts
	case StatusCompleted:
		o.CompletedAt = &ts
	case StatusCancelled:
		o.CancelledAt = &ts
	}
}

// applyBreakdown copies every monetary field from b.
func (o *Order) applyBreakdown(b pricing.Breakdown) {
	o.Subtotal = b.Subtotal
	o.LoyaltyDiscount = b.LoyaltyDiscount
	o.DiscountAmount = b.DiscountAmount
	o.TaxAmount = b.TaxAmount
	o.ServiceFee = b.ServiceFee
	o.DeliveryFee = b.DeliveryFee
	o.TipAmount = b.TipAmount
	o.Total = b.Total
	o.CommissionRate = b.CommissionRate
	o.CommissionAmount = b.CommissionAmount
	o.MerchantPayout = b.MerchantPayout
}

// FormatNumber renders the public order number for the seq-th order of day.
func FormatNumber(day time.Time, seq int64) string {
	return fmt.Sprintf("ORD-%s-%04d", day.UTC().Format("20060102"), seq)
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	// GetByID returns ErrNotFound when the order does not exist.
	GetByID(ctx context.Context, id string) (*Order, error)
	// Update persists the mutable fields of o only if the stored version
	// still equals expectedVersion, and returns ErrConflict otherwise.
	Update(ctx context.Context, o *Order, expectedVersion int) error
	// NextNumber returns the next per-day order sequence value, starting at 1.
	NextNumber(ctx context.Context, day time.Time) (int64, error)
}
