package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage off the subtotal, optionally capped.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixedAmount takes a fixed amount off, never more than the subtotal.
	DiscountFixedAmount DiscountType = "fixed_amount"
	// DiscountFreeDelivery waives the delivery fee and leaves the discount line at zero.
	DiscountFreeDelivery DiscountType = "free_delivery"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	switch t {
	case DiscountPercentage, DiscountFixedAmount, DiscountFreeDelivery:
		return true
	default:
		return false
	}
}

var (
	// ErrNotFound is returned by repositories when no coupon matches.
	ErrNotFound = errors.New("coupon not found")
	// ErrDuplicateCode is returned when creating a coupon whose code is taken.
	ErrDuplicateCode = errors.New("coupon code already exists")
)

// Coupon is a named, time-bounded discount rule. An empty MerchantID makes
// the coupon usable at every merchant.
type Coupon struct {
	ID            string
	Code          string
	MerchantID    string
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	// MaxDiscountAmount caps percentage discounts when Valid.
	MaxDiscountAmount decimal.NullDecimal
	MinOrderAmount    decimal.Decimal
	// MaxUses of 0 means unlimited.
	MaxUses int
	// MaxUsesPerUser of 0 means unlimited.
	MaxUsesPerUser     int
	ValidFrom          time.Time
	ValidUntil         time.Time
	IsActive           bool
	TimesUsed          int
	TotalDiscountGiven decimal.Decimal
	CreatedAt          time.Time
}

// Global reports whether the coupon is not scoped to a merchant.
func (c *Coupon) Global() bool {
	return c.MerchantID == ""
}

// Usage records one application of a coupon to an order. Rows are never
// updated; counting them enforces the per-user cap.
type Usage struct {
	ID             string
	CouponID       string
	OrderID        string
	UserID         string
	DiscountAmount decimal.Decimal
	CreatedAt      time.Time
}

// NormalizeCode returns the canonical (upper-case, trimmed) form of a code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository provides lookup and mutation of coupons and their usage.
type Repository interface {
	// FindByCode looks a coupon up case-insensitively. Inactive coupons are
	// returned too. Returns ErrNotFound when nothing matches.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// CountUserUsage counts usage rows for (couponID, userID).
	CountUserUsage(ctx context.Context, couponID, userID string) (int, error)
	// RecordUsage inserts u and increments the coupon counters as one
	// atomic step serialized per coupon. It returns false without changing
	// anything when a usage for (u.CouponID, u.OrderID) already exists.
	// Returns ErrFullyUsed or ErrUserLimitReached when a cap would be exceeded.
	RecordUsage(ctx context.Context, u Usage) (bool, error)
	// Create inserts a new coupon. Returns ErrDuplicateCode on a code clash.
	Create(ctx context.Context, c *Coupon) error
	// DeleteUnused deletes the coupon only if it has no recorded usage and
	// reports whether it did.
	DeleteUnused(ctx context.Context, id string) (bool, error)
	// Deactivate sets IsActive to false.
	Deactivate(ctx context.Context, id string) error
}
