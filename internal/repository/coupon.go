package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/coupon"
)

const (
	couponColumns = `id, code, merchant_id, discount_type, discount_value, max_discount_amount,
		min_order_amount, max_uses, max_uses_per_user, valid_from, valid_until,
		is_active, times_used, total_discount_given, created_at`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE UPPER(code) = UPPER($1)`

	lockCouponSQL = `SELECT max_uses, max_uses_per_user, times_used FROM coupons WHERE id = $1 FOR UPDATE`

	countUserUsageSQL = `SELECT count(*) FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2`

	insertUsageSQL = `INSERT INTO coupon_usages (id, coupon_id, order_id, user_id, discount_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (coupon_id, order_id) DO NOTHING`

	incrementCouponSQL = `UPDATE coupons
		SET times_used = times_used + 1, total_discount_given = total_discount_given + $2
		WHERE id = $1 AND (max_uses IS NULL OR times_used < max_uses)`

	createCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	upsertCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT ((UPPER(code))) DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			discount_value = EXCLUDED.discount_value,
			max_discount_amount = EXCLUDED.max_discount_amount,
			min_order_amount = EXCLUDED.min_order_amount,
			max_uses = EXCLUDED.max_uses,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			merchant_id = EXCLUDED.merchant_id`

	deleteUnusedCouponSQL = `DELETE FROM coupons WHERE id = $1 AND times_used = 0
		AND NOT EXISTS (SELECT 1 FROM coupon_usages WHERE coupon_id = $1)`

	deactivateCouponSQL = `UPDATE coupons SET is_active = FALSE WHERE id = $1`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	db *DB
}

// NewCouponRepository returns a CouponRepository.
func NewCouponRepository(db *DB) *CouponRepository {
	return &CouponRepository{db: db}
}

// FindByCode looks up a coupon by its code (case-insensitive).
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.db.conn(ctx).Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// CountUserUsage counts how many times userID redeemed the coupon.
func (r *CouponRepository) CountUserUsage(ctx context.Context, couponID, userID string) (int, error) {
	var n int
	if err := r.db.conn(ctx).QueryRow(ctx, countUserUsageSQL, couponID, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting usage of coupon %q: %w", couponID, err)
	}
	return n, nil
}

// RecordUsage locks the coupon row, inserts the usage and bumps the counters.
// The row lock serializes concurrent redemptions of one coupon, and the
// conditional UPDATE refuses to go past max_uses even without it.
func (r *CouponRepository) RecordUsage(ctx context.Context, u coupon.Usage) (recorded bool, err error) {
	err = r.db.WithinTx(ctx, func(ctx context.Context) error {
		q := r.db.conn(ctx)

		var (
			maxUses, maxPerUser *int32
			timesUsed           int32
		)
		if err := q.QueryRow(ctx, lockCouponSQL, u.CouponID).Scan(&maxUses, &maxPerUser, &timesUsed); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return coupon.ErrNotFound
			}
			return fmt.Errorf("locking coupon %q: %w", u.CouponID, err)
		}

		tag, err := q.Exec(ctx, insertUsageSQL,
			u.ID, u.CouponID, u.OrderID, nullString(u.UserID), u.DiscountAmount, u.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting usage of coupon %q: %w", u.CouponID, err)
		}
		if tag.RowsAffected() == 0 {
			// Already recorded for this order.
			return nil
		}

		if maxUses != nil && timesUsed >= *maxUses {
			return coupon.ErrFullyUsed
		}
		if u.UserID != "" && maxPerUser != nil && *maxPerUser > 0 {
			var n int32
			if err := q.QueryRow(ctx, countUserUsageSQL, u.CouponID, u.UserID).Scan(&n); err != nil {
				return fmt.Errorf("counting usage of coupon %q: %w", u.CouponID, err)
			}
			// n includes the row inserted above.
			if n > *maxPerUser {
				return coupon.ErrUserLimitReached
			}
		}

		tag, err = q.Exec(ctx, incrementCouponSQL, u.CouponID, u.DiscountAmount)
		if err != nil {
			return fmt.Errorf("incrementing coupon %q: %w", u.CouponID, err)
		}
		if tag.RowsAffected() == 0 {
			return coupon.ErrFullyUsed
		}
		recorded = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return recorded, nil
}

// Create inserts a new coupon.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.db.conn(ctx).Exec(ctx, createCouponSQL, couponArgs(c)...)
	if err != nil {
		if isUniqueViolation(err) {
			return coupon.ErrDuplicateCode
		}
		return fmt.Errorf("creating coupon %q: %w", c.Code, err)
	}
	return nil
}

// UpsertBatch inserts coupons or updates the definition of existing codes in
// a single round trip. Usage counters of existing coupons are left intact.
func (r *CouponRepository) UpsertBatch(ctx context.Context, coupons []coupon.Coupon) error {
	batch := &pgx.Batch{}
	for i := range coupons {
		batch.Queue(upsertCouponSQL, couponArgs(&coupons[i])...)
	}

	br := r.db.conn(ctx).SendBatch(ctx, batch)
	for i := range coupons {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("upserting coupon %q: %w", coupons[i].Code, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("closing batch: %w", err)
	}
	return nil
}

// DeleteUnused deletes a coupon that was never redeemed.
func (r *CouponRepository) DeleteUnused(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.conn(ctx).Exec(ctx, deleteUnusedCouponSQL, id)
	if err != nil {
		return false, fmt.Errorf("deleting coupon %q: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Deactivate soft-disables a coupon.
func (r *CouponRepository) Deactivate(ctx context.Context, id string) error {
	tag, err := r.db.conn(ctx).Exec(ctx, deactivateCouponSQL, id)
	if err != nil {
		return fmt.Errorf("deactivating coupon %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

func couponArgs(c *coupon.Coupon) []any {
	var maxDiscount *decimal.Decimal
	if c.MaxDiscountAmount.Valid {
		maxDiscount = &c.MaxDiscountAmount.Decimal
	}
	return []any{
		c.ID, c.Code, nullString(c.MerchantID), string(c.DiscountType), c.DiscountValue, maxDiscount,
		c.MinOrderAmount, nullInt(c.MaxUses), nullInt(c.MaxUsesPerUser), c.ValidFrom, c.ValidUntil,
		c.IsActive, c.TimesUsed, c.TotalDiscountGiven, c.CreatedAt,
	}
}

func nullInt(v int) *int32 {
	if v == 0 {
		return nil
	}
	n := int32(v)
	return &n
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c                   coupon.Coupon
		merchantID          *string
		discountType        string
		maxDiscount         *decimal.Decimal
		maxUses, maxPerUser *int32
		timesUsed           int32
	)
	err := row.Scan(
		&c.ID, &c.Code, &merchantID, &discountType, &c.DiscountValue, &maxDiscount,
		&c.MinOrderAmount, &maxUses, &maxPerUser, &c.ValidFrom, &c.ValidUntil,
		&c.IsActive, &timesUsed, &c.TotalDiscountGiven, &c.CreatedAt,
	)
	c.MerchantID = deref(merchantID)
	c.DiscountType = coupon.DiscountType(discountType)
	if maxDiscount != nil {
		c.MaxDiscountAmount = decimal.NewNullDecimal(*maxDiscount)
	}
	if maxUses != nil {
		c.MaxUses = int(*maxUses)
	}
	if maxPerUser != nil {
		c.MaxUsesPerUser = int(*maxPerUser)
	}
	c.TimesUsed = int(timesUsed)
	return c, err
}
