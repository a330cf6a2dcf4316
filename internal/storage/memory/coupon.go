package memory

import (
	"context"

	"github.com/xenking/marketplace/internal/domain/coupon"
)

type couponRepo struct{ s *Store }

func (r couponRepo) findLocked(code string) *coupon.Coupon {
	code = coupon.NormalizeCode(code)
	for _, c := range r.s.coupons {
		if coupon.NormalizeCode(c.Code) == code {
			return c
		}
	}
	return nil
}

func (r couponRepo) countLocked(couponID, userID string) int {
	n := 0
	for _, u := range r.s.usages {
		if u.CouponID == couponID && u.UserID == userID {
			n++
		}
	}
	return n
}

func (r couponRepo) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	defer r.s.lock(ctx)()
	c := r.findLocked(code)
	if c == nil {
		return nil, coupon.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r couponRepo) CountUserUsage(ctx context.Context, couponID, userID string) (int, error) {
	defer r.s.lock(ctx)()
	return r.countLocked(couponID, userID), nil
}

func (r couponRepo) RecordUsage(ctx context.Context, u coupon.Usage) (bool, error) {
	defer r.s.lock(ctx)()
	c, ok := r.s.coupons[u.CouponID]
	if !ok {
		return false, coupon.ErrNotFound
	}
	for _, existing := range r.s.usages {
		if existing.CouponID == u.CouponID && existing.OrderID == u.OrderID {
			return false, nil
		}
	}
	if c.MaxUses > 0 && c.TimesUsed >= c.MaxUses {
		return false, coupon.ErrFullyUsed
	}
	if u.UserID != "" && c.MaxUsesPerUser > 0 && r.countLocked(c.ID, u.UserID) >= c.MaxUsesPerUser {
		return false, coupon.ErrUserLimitReached
	}

	r.s.usages = append(r.s.usages, u)
	c.TimesUsed++
	c.TotalDiscountGiven = c.TotalDiscountGiven.Add(u.DiscountAmount)
	return true, nil
}

func (r couponRepo) Create(ctx context.Context, c *coupon.Coupon) error {
	defer r.s.lock(ctx)()
	if r.findLocked(c.Code) != nil {
		return coupon.ErrDuplicateCode
	}
	cp := *c
	r.s.coupons[c.ID] = &cp
	return nil
}

func (r couponRepo) DeleteUnused(ctx context.Context, id string) (bool, error) {
	defer r.s.lock(ctx)()
	c, ok := r.s.coupons[id]
	if !ok {
		return false, coupon.ErrNotFound
	}
	if c.TimesUsed > 0 {
		return false, nil
	}
	delete(r.s.coupons, id)
	return true, nil
}

func (r couponRepo) Deactivate(ctx context.Context, id string) error {
	defer r.s.lock(ctx)()
	c, ok := r.s.coupons[id]
	if !ok {
		return coupon.ErrNotFound
	}
	c.IsActive = false
	return nil
}
