package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/marketplace/internal/domain/order"
	"github.com/xenking/marketplace/internal/domain/pricing"
)

const (
	orderColumns = `id, order_number, merchant_id, customer_id, order_type, items,
		subtotal, loyalty_discount, discount_amount, tax_amount, service_fee, delivery_fee,
		tip_amount, total, commission_rate, commission_amount, merchant_payout,
		coupon_id, coupon_code, status, payment_status, payment_reference, cancel_reason,
		confirmed_at, preparing_at, ready_at, out_for_delivery_at, delivered_at, completed_at, cancelled_at,
		version, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	updateOrderSQL = `UPDATE orders SET
		status = $3, payment_status = $4, payment_reference = $5, cancel_reason = $6,
		confirmed_at = $7, preparing_at = $8, ready_at = $9, out_for_delivery_at = $10,
		delivered_at = $11, completed_at = $12, cancelled_at = $13,
		version = $14, updated_at = $15
		WHERE id = $1 AND version = $2`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	nextOrderNumberSQL = `INSERT INTO order_number_seq (day, last_value) VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET last_value = order_number_seq.last_value + 1
		RETURNING last_value`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	db *DB
}

// NewOrderRepository returns an OrderRepository.
func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create persists a new order. The item snapshot is stored as JSONB.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	_, err = r.db.conn(ctx).Exec(ctx, createOrderSQL,
		o.ID, o.OrderNumber, o.MerchantID, nullString(o.CustomerID), string(o.OrderType), itemsJSON,
		o.Subtotal, o.LoyaltyDiscount, o.DiscountAmount, o.TaxAmount, o.ServiceFee, o.DeliveryFee,
		o.TipAmount, o.Total, o.CommissionRate, o.CommissionAmount, o.MerchantPayout,
		nullString(o.CouponID), nullString(o.CouponCode), string(o.Status), string(o.PaymentStatus),
		o.PaymentReference, o.CancelReason,
		o.ConfirmedAt, o.PreparingAt, o.ReadyAt, o.OutForDeliveryAt, o.DeliveredAt, o.CompletedAt, o.CancelledAt,
		o.Version, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID returns the order or order.ErrNotFound.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.db.conn(ctx).Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// Update writes the lifecycle fields of o if the stored version matches.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order, expectedVersion int) error {
	q := r.db.conn(ctx)
	tag, err := q.Exec(ctx, updateOrderSQL,
		o.ID, expectedVersion,
		string(o.Status), string(o.PaymentStatus), o.PaymentReference, o.CancelReason,
		o.ConfirmedAt, o.PreparingAt, o.ReadyAt, o.OutForDeliveryAt,
		o.DeliveredAt, o.CompletedAt, o.CancelledAt,
		o.Version, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", o.ID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := q.QueryRow(ctx, orderExistsSQL, o.ID).Scan(&exists); err != nil {
		return fmt.Errorf("checking order %q: %w", o.ID, err)
	}
	if !exists {
		return order.ErrNotFound
	}
	return order.ErrConflict
}

// NextNumber increments and returns the order counter for day.
func (r *OrderRepository) NextNumber(ctx context.Context, day time.Time) (int64, error) {
	var n int64
	d := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	if err := r.db.conn(ctx).QueryRow(ctx, nextOrderNumberSQL, d).Scan(&n); err != nil {
		return 0, fmt.Errorf("next order number: %w", err)
	}
	return n, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                                order.Order
		customerID, couponID, couponCode *string
		orderType, status, paymentStatus string
		itemsJSON                        []byte
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.MerchantID, &customerID, &orderType, &itemsJSON,
		&o.Subtotal, &o.LoyaltyDiscount, &o.DiscountAmount, &o.TaxAmount, &o.ServiceFee, &o.DeliveryFee,
		&o.TipAmount, &o.Total, &o.CommissionRate, &o.CommissionAmount, &o.MerchantPayout,
		&couponID, &couponCode, &status, &paymentStatus, &o.PaymentReference, &o.CancelReason,
		&o.ConfirmedAt, &o.PreparingAt, &o.ReadyAt, &o.OutForDeliveryAt, &o.DeliveredAt, &o.CompletedAt, &o.CancelledAt,
		&o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling order items: %w", err)
	}
	o.CustomerID = deref(customerID)
	o.CouponID = deref(couponID)
	o.CouponCode = deref(couponCode)
	o.OrderType = pricing.OrderType(orderType)
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	return o, nil
}
