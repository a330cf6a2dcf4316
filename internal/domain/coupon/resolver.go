package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/uow"
)

// ValidateRequest describes the order a coupon is being checked against.
type ValidateRequest struct {
	Code       string
	Subtotal   decimal.Decimal
	MerchantID string
	// UserID is optional; the per-user cap is skipped when empty.
	UserID string
}

// Validation is the outcome of a successful Validate call.
type Validation struct {
	Coupon         *Coupon
	DiscountAmount decimal.Decimal
}

// FreeDelivery reports whether the coupon waives the delivery fee.
func (v *Validation) FreeDelivery() bool {
	return v.Coupon.DiscountType == DiscountFreeDelivery
}

// Resolver decides whether a coupon applies to an order and records
// redemptions.
type Resolver struct {
	repo Repository
	tx   uow.UnitOfWork
	now  func() time.Time

	rejections metric.Int64Counter
	redeemed   metric.Int64Counter
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithClock overrides the time source.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// WithMeter registers resolver counters on m.
func WithMeter(m metric.Meter) ResolverOption {
	return func(r *Resolver) {
		if c, err := m.Int64Counter("coupon.rejections",
			metric.WithDescription("Coupon validations that were rejected, by reason"),
		); err == nil {
			r.rejections = c
		}
		if c, err := m.Int64Counter("coupon.redemptions",
			metric.WithDescription("Coupon usages recorded"),
		); err == nil {
			r.redeemed = c
		}
	}
}

// NewResolver creates a Resolver backed by repo. Usage is recorded inside tx.
func NewResolver(repo Repository, tx uow.UnitOfWork, opts ...ResolverOption) *Resolver {
	if tx == nil {
		tx = uow.Direct
	}
	meter := noop.NewMeterProvider().Meter("")
	r := &Resolver{repo: repo, tx: tx, now: time.Now}
	WithMeter(meter)(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Validate checks the coupon against the order and computes the discount.
// Checks run in a fixed order and the first failure wins.
func (r *Resolver) Validate(ctx context.Context, req ValidateRequest) (*Validation, error) {
	v, err := r.validate(ctx, req)
	if err != nil {
		if reason, ok := ReasonOf(err); ok {
			r.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
			zctx.From(ctx).Debug("Coupon rejected",
				zap.String("code", req.Code),
				zap.String("reason", string(reason)),
			)
		}
		return nil, err
	}
	return v, nil
}

func (r *Resolver) validate(ctx context.Context, req ValidateRequest) (*Validation, error) {
	code := NormalizeCode(req.Code)
	if code == "" {
		return nil, reject(ReasonInvalidCode)
	}

	c, err := r.repo.FindByCode(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return nil, reject(ReasonInvalidCode)
	}
	if err != nil {
		return nil, errors.Wrap(err, "find coupon")
	}

	if !c.IsActive {
		return nil, reject(ReasonInactive)
	}
	now := r.now()
	if now.Before(c.ValidFrom) {
		return nil, reject(ReasonNotYetValid)
	}
	if now.After(c.ValidUntil) {
		return nil, reject(ReasonExpired)
	}
	if c.MaxUses > 0 && c.TimesUsed >= c.MaxUses {
		return nil, reject(ReasonFullyUsed)
	}
	if req.Subtotal.LessThan(c.MinOrderAmount) {
		return nil, rejectMinimum(c.MinOrderAmount)
	}
	if !c.Global() && c.MerchantID != req.MerchantID {
		return nil, reject(ReasonWrongMerchant)
	}
	if req.UserID != "" && c.MaxUsesPerUser > 0 {
		used, err := r.repo.CountUserUsage(ctx, c.ID, req.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "count user usage")
		}
		if used >= c.MaxUsesPerUser {
			return nil, reject(ReasonUserLimitReached)
		}
	}

	amount, err := ComputeDiscount(c, req.Subtotal)
	if err != nil {
		return nil, err
	}
	return &Validation{Coupon: c, DiscountAmount: amount}, nil
}

// RecordUsage records that the coupon was applied to an order. Recording the
// same (couponID, orderID) pair twice is a no-op and reports false. Caps are
// re-checked atomically, so a concurrent redemption that exhausted the coupon
// after Validate surfaces as a *RejectionError.
func (r *Resolver) RecordUsage(ctx context.Context, couponID, orderID, userID string, amount decimal.Decimal) (bool, error) {
	u := Usage{
		ID:             uuid.NewString(),
		CouponID:       couponID,
		OrderID:        orderID,
		UserID:         userID,
		DiscountAmount: amount,
		CreatedAt:      r.now(),
	}

	var recorded bool
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		recorded, err = r.repo.RecordUsage(ctx, u)
		return err
	})
	switch {
	case errors.Is(err, ErrFullyUsed):
		return false, reject(ReasonFullyUsed)
	case errors.Is(err, ErrUserLimitReached):
		return false, reject(ReasonUserLimitReached)
	case err != nil:
		return false, errors.Wrap(err, "record usage")
	}

	if recorded {
		r.redeemed.Add(ctx, 1)
		zctx.From(ctx).Info("Coupon redeemed",
			zap.String("coupon_id", couponID),
			zap.String("order_id", orderID),
			zap.String("amount", amount.StringFixed(2)),
		)
	}
	return recorded, nil
}
