package coupon

import (
	"context"
	"regexp"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/uow"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9_-]+$`)

// CreateParams describes a new coupon.
type CreateParams struct {
	Code              string
	MerchantID        string
	DiscountType      DiscountType
	DiscountValue     decimal.Decimal
	MaxDiscountAmount decimal.NullDecimal
	MinOrderAmount    decimal.Decimal
	MaxUses           int
	// MaxUsesPerUser defaults to 1 when nil. Zero disables the cap.
	MaxUsesPerUser *int
	ValidFrom      time.Time
	ValidUntil     time.Time
}

// Manager handles coupon administration.
type Manager struct {
	repo Repository
	tx   uow.UnitOfWork
	now  func() time.Time
}

// NewManager creates a Manager.
func NewManager(repo Repository, tx uow.UnitOfWork) *Manager {
	if tx == nil {
		tx = uow.Direct
	}
	return &Manager{repo: repo, tx: tx, now: time.Now}
}

// Get returns the coupon with the given code.
func (m *Manager) Get(ctx context.Context, code string) (*Coupon, error) {
	c, err := m.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, errors.Wrap(err, "find coupon")
	}
	return c, nil
}

// Create validates p and stores a new active coupon.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*Coupon, error) {
	perUser := 1
	if p.MaxUsesPerUser != nil {
		perUser = *p.MaxUsesPerUser
	}
	validFrom := p.ValidFrom
	if validFrom.IsZero() {
		validFrom = m.now()
	}

	c := &Coupon{
		ID:                 uuid.NewString(),
		Code:               NormalizeCode(p.Code),
		MerchantID:         p.MerchantID,
		DiscountType:       p.DiscountType,
		DiscountValue:      p.DiscountValue,
		MaxDiscountAmount:  p.MaxDiscountAmount,
		MinOrderAmount:     p.MinOrderAmount,
		MaxUses:            p.MaxUses,
		MaxUsesPerUser:     perUser,
		ValidFrom:          validFrom,
		ValidUntil:         p.ValidUntil,
		IsActive:           true,
		TotalDiscountGiven: decimal.Zero,
		CreatedAt:          m.now(),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	if err := m.repo.Create(ctx, c); err != nil {
		return nil, errors.Wrap(err, "create coupon")
	}
	zctx.From(ctx).Info("Coupon created",
		zap.String("code", c.Code),
		zap.String("type", string(c.DiscountType)),
	)
	return c, nil
}

// Retire removes a coupon that was never used, or deactivates it otherwise
// so the usage history stays intact. It reports whether the coupon was deleted.
func (m *Manager) Retire(ctx context.Context, code string) (deleted bool, err error) {
	err = m.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := m.repo.FindByCode(ctx, NormalizeCode(code))
		if err != nil {
			return errors.Wrap(err, "find coupon")
		}
		deleted, err = m.repo.DeleteUnused(ctx, c.ID)
		if err != nil {
			return errors.Wrap(err, "delete coupon")
		}
		if deleted {
			return nil
		}
		if err := m.repo.Deactivate(ctx, c.ID); err != nil {
			return errors.Wrap(err, "deactivate coupon")
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	zctx.From(ctx).Info("Coupon retired",
		zap.String("code", NormalizeCode(code)),
		zap.Bool("deleted", deleted),
	)
	return deleted, nil
}

// Validate checks the coupon definition and returns a *ValidationError naming
// the first offending field.
func (c *Coupon) Validate() error {
	switch {
	case len(c.Code) < 3 || len(c.Code) > 50:
		return &ValidationError{Field: "code", Reason: "must be 3 to 50 characters"}
	case !codePattern.MatchString(c.Code):
		return &ValidationError{Field: "code", Reason: "may contain only letters, digits, '_' and '-'"}
	case !c.DiscountType.Valid():
		return &ValidationError{Field: "discountType", Reason: "unknown discount type"}
	case c.DiscountValue.IsNegative():
		return &ValidationError{Field: "discountValue", Reason: "must not be negative"}
	case c.DiscountType == DiscountPercentage && c.DiscountValue.GreaterThan(hundred):
		return &ValidationError{Field: "discountValue", Reason: "percentage must not exceed 100"}
	case c.MaxDiscountAmount.Valid && c.MaxDiscountAmount.Decimal.IsNegative():
		return &ValidationError{Field: "maxDiscountAmount", Reason: "must not be negative"}
	case c.MinOrderAmount.IsNegative():
		return &ValidationError{Field: "minOrderAmount", Reason: "must not be negative"}
	case c.MaxUses < 0:
		return &ValidationError{Field: "maxUses", Reason: "must not be negative"}
	case c.MaxUsesPerUser < 0:
		return &ValidationError{Field: "maxUsesPerUser", Reason: "must not be negative"}
	case c.ValidUntil.IsZero():
		return &ValidationError{Field: "validUntil", Reason: "is required"}
	case !c.ValidFrom.Before(c.ValidUntil):
		return &ValidationError{Field: "validUntil", Reason: "must be after validFrom"}
	}
	return nil
}
