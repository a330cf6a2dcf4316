package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/domain/merchant"
	"github.com/xenking/marketplace/internal/domain/pricing"
	"github.com/xenking/marketplace/internal/domain/product"
	"github.com/xenking/marketplace/internal/domain/uow"
)

// ReasonRefunded is stored as the cancel reason when a refund cancels an order.
const ReasonRefunded = "refunded"

// CouponResolver validates coupons and records their redemption.
type CouponResolver interface {
	Validate(ctx context.Context, req coupon.ValidateRequest) (*coupon.Validation, error)
	RecordUsage(ctx context.Context, couponID, orderID, userID string, amount decimal.Decimal) (bool, error)
}

// ItemRequest is one requested line of a new order.
type ItemRequest struct {
	ProductID string
	Quantity  int
	Notes     string
}

// CreateRequest holds the input for creating an order.
type CreateRequest struct {
	MerchantID string
	CustomerID string
	OrderType  pricing.OrderType
	Items      []ItemRequest
	CouponCode string
	// LoyaltyPoints selects the customer's loyalty tier.
	LoyaltyPoints int
	Tip           decimal.Decimal
}

// Deps are the collaborators of Service.
type Deps struct {
	Orders    Repository
	Products  product.Repository
	Merchants merchant.Repository
	Coupons   CouponResolver
	Pricing   *pricing.Engine
	Tx        uow.UnitOfWork
	Events    Publisher
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTracerProvider sets the tracer provider used for operation spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer("marketplace/order") }
}

// WithMeterProvider sets the meter provider used for order counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp.Meter("marketplace/order") }
}

// Service creates orders and drives them through their lifecycle.
type Service struct {
	deps   Deps
	now    func() time.Time
	tracer trace.Tracer
	meter  metric.Meter

	created     metric.Int64Counter
	transitions metric.Int64Counter
}

// NewService creates an order Service.
func NewService(deps Deps, opts ...Option) (*Service, error) {
	if deps.Tx == nil {
		deps.Tx = uow.Direct
	}
	if deps.Pricing == nil {
		deps.Pricing = pricing.NewEngine(pricing.DefaultConfig())
	}
	if deps.Events == nil {
		deps.Events = PublisherFunc(func(context.Context, Event) error { return nil })
	}
	s := &Service{
		deps:   deps,
		now:    time.Now,
		tracer: tracenoop.NewTracerProvider().Tracer(""),
		meter:  metricnoop.NewMeterProvider().Meter(""),
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	if s.created, err = s.meter.Int64Counter("order.created",
		metric.WithDescription("Orders created"),
	); err != nil {
		return nil, errors.Wrap(err, "order.created counter")
	}
	if s.transitions, err = s.meter.Int64Counter("order.transitions",
		metric.WithDescription("Order status transitions, by target status"),
	); err != nil {
		return nil, errors.Wrap(err, "order.transitions counter")
	}
	return s, nil
}

func (s *Service) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func validateCreate(req CreateRequest) error {
	if req.MerchantID == "" {
		return &ValidationError{Field: "merchantId", Reason: "is required"}
	}
	if !req.OrderType.Valid() {
		return &ValidationError{Field: "orderType", Reason: "must be one of dine_in, takeaway, delivery"}
	}
	if len(req.Items) == 0 {
		return &ValidationError{Field: "items", Reason: "at least one item is required"}
	}
	for _, item := range req.Items {
		if item.ProductID == "" {
			return &ValidationError{Field: "items.productId", Reason: "is required"}
		}
		if item.Quantity < 1 {
			return &ValidationError{Field: "items.quantity", Reason: "must be at least 1 for product " + item.ProductID}
		}
	}
	if req.Tip.IsNegative() {
		return &ValidationError{Field: "tip", Reason: "must not be negative"}
	}
	if req.LoyaltyPoints < 0 {
		return &ValidationError{Field: "loyaltyPoints", Reason: "must not be negative"}
	}
	return nil
}

// Create prices and persists a new pending order. Discount resolution,
// pricing, persistence and coupon usage recording happen in one transaction.
func (s *Service) Create(ctx context.Context, req CreateRequest) (_ *Order, rerr error) {
	ctx, span := s.start(ctx, "order.Create",
		attribute.String("merchant.id", req.MerchantID),
		attribute.String("order.type", string(req.OrderType)),
	)
	defer func() { endSpan(span, rerr) }()

	if err := validateCreate(req); err != nil {
		return nil, err
	}

	var (
		o          *Order
		validation *coupon.Validation
	)
	if err := s.deps.Tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		o, validation, err = s.create(ctx, req)
		return err
	}); err != nil {
		return nil, err
	}

	s.created.Add(ctx, 1, metric.WithAttributes(attribute.String("order.type", string(o.OrderType))))
	span.SetAttributes(attribute.String("order.id", o.ID))
	zctx.From(ctx).Info("Order created",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.OrderNumber),
		zap.String("merchant_id", o.MerchantID),
		zap.String("total", o.Total.StringFixed(2)),
	)

	events := []Event{newEvent(EventCreated, o, o.CreatedAt, map[string]any{
		"orderNumber": o.OrderNumber,
		"orderType":   string(o.OrderType),
		"status":      string(o.Status),
		"total":       o.Total,
		"itemCount":   len(o.Items),
	})}
	if validation != nil {
		events = append(events, newEvent(EventCouponRedeemed, o, o.CreatedAt, map[string]any{
			"couponId":       o.CouponID,
			"couponCode":     o.CouponCode,
			"discountAmount": o.DiscountAmount,
		}))
	}
	s.publish(ctx, events...)

	return o, nil
}

func (s *Service) create(ctx context.Context, req CreateRequest) (*Order, *coupon.Validation, error) {
	m, err := s.deps.Merchants.GetByID(ctx, req.MerchantID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "get merchant")
	}
	if !m.Active {
		return nil, nil, merchant.ErrInactive
	}

	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		ids[i] = item.ProductID
	}
	fetched, err := s.deps.Products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	lines := make([]pricing.Line, len(req.Items))
	items := make([]Item, len(req.Items))
	for i, item := range req.Items {
		p, ok := byID[item.ProductID]
		if !ok || p.MerchantID != m.ID {
			return nil, nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		lines[i] = pricing.Line{
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.Price,
			Quantity:  item.Quantity,
			Available: p.Available,
		}
		items[i] = Item{
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.Price,
			Quantity:  item.Quantity,
			Notes:     item.Notes,
		}
	}

	subtotal, err := s.deps.Pricing.Subtotal(lines)
	if err != nil {
		return nil, nil, err
	}
	loyalty := pricing.LoyaltyDiscount(subtotal, req.LoyaltyPoints)

	var (
		validation *coupon.Validation
		discount   *pricing.Discount
	)
	if req.CouponCode != "" {
		// Coupons apply to the loyalty-reduced subtotal.
		validation, err = s.deps.Coupons.Validate(ctx, coupon.ValidateRequest{
			Code:       req.CouponCode,
			Subtotal:   subtotal.Sub(loyalty),
			MerchantID: m.ID,
			UserID:     req.CustomerID,
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "validate coupon")
		}
		discount = &pricing.Discount{
			Amount:       validation.DiscountAmount,
			FreeDelivery: validation.FreeDelivery(),
		}
	}

	breakdown, err := s.deps.Pricing.Price(pricing.Request{
		Lines:          lines,
		OrderType:      req.OrderType,
		CommissionRate: m.CommissionRate,
		Loyalty:        loyalty,
		Discount:       discount,
		Tip:            req.Tip,
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "price order")
	}

	now := s.now().UTC()
	seq, err := s.deps.Orders.NextNumber(ctx, now)
	if err != nil {
		return nil, nil, errors.Wrap(err, "next order number")
	}

	o := &Order{
		ID:            uuid.NewString(),
		OrderNumber:   FormatNumber(now, seq),
		MerchantID:    m.ID,
		CustomerID:    req.CustomerID,
		OrderType:     req.OrderType,
		Items:         items,
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	o.applyBreakdown(breakdown)
	if validation != nil {
		o.CouponID = validation.Coupon.ID
		o.CouponCode = validation.Coupon.Code
	}

	if err := s.deps.Orders.Create(ctx, o); err != nil {
		return nil, nil, errors.Wrap(err, "create order")
	}

	if validation != nil {
		if _, err := s.deps.Coupons.RecordUsage(ctx, o.CouponID, o.ID, o.CustomerID, o.DiscountAmount); err != nil {
			return nil, nil, errors.Wrap(err, "record coupon usage")
		}
	}

	return o, validation, nil
}

// Get returns the order with the given id.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.deps.Orders.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

// mutation changes o in place and returns the events describing the change.
// Returning no events means nothing changed and nothing is written.
type mutation func(o *Order, now time.Time) ([]Event, error)

// update applies fn to the current state of the order and stores the result
// with a version check, so concurrent writers cannot interleave.
func (s *Service) update(ctx context.Context, id string, fn mutation) (*Order, error) {
	o, err := s.deps.Orders.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}

	now := s.now().UTC()
	events, err := fn(o, now)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return o, nil
	}

	expected := o.Version
	o.Version++
	o.UpdatedAt = now
	if err := s.deps.Orders.Update(ctx, o, expected); err != nil {
		return nil, errors.Wrap(err, "update order")
	}

	s.committed(ctx, events)
	s.publish(ctx, events...)
	return o, nil
}

// committed logs and counts the changes described by events once they are
// stored.
func (s *Service) committed(ctx context.Context, events []Event) {
	lg := zctx.From(ctx)
	for _, e := range events {
		str := func(key string) string {
			v, _ := e.Payload[key].(string)
			return v
		}
		switch e.Type {
		case EventStatusChanged:
			s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", str("to"))))
			lg.Info("Order status changed",
				zap.String("order_id", e.OrderID),
				zap.String("from", str("from")),
				zap.String("to", str("to")),
			)
		case EventCancelled:
			s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(StatusCancelled))))
			lg.Info("Order cancelled",
				zap.String("order_id", e.OrderID),
				zap.String("from", str("from")),
				zap.String("reason", str("reason")),
			)
		case EventPaymentUpdated:
			lg.Info("Order payment updated",
				zap.String("order_id", e.OrderID),
				zap.String("from", str("from")),
				zap.String("to", str("to")),
			)
		}
	}
}

// SetStatus moves the order to status. Setting the current status again is
// a no-op. Moving to cancelled follows the same rules as Cancel.
func (s *Service) SetStatus(ctx context.Context, id string, status Status) (_ *Order, rerr error) {
	ctx, span := s.start(ctx, "order.SetStatus",
		attribute.String("order.id", id),
		attribute.String("order.status", string(status)),
	)
	defer func() { endSpan(span, rerr) }()

	if !status.Valid() {
		return nil, errors.Wrapf(ErrInvalidStatus, "%q", status)
	}
	if status == StatusCancelled {
		return s.cancel(ctx, id, "")
	}

	return s.update(ctx, id, func(o *Order, now time.Time) ([]Event, error) {
		from := o.Status
		if from == status {
			return nil, nil
		}
		if !CanTransition(from, status, o.OrderType) {
			return nil, errors.Wrapf(ErrInvalidTransition, "%s -> %s", from, status)
		}
		o.setStatus(status, now)
		return []Event{newEvent(EventStatusChanged, o, now, map[string]any{
			"from": string(from),
			"to":   string(status),
		})}, nil
	})
}

// Cancel cancels a pending or confirmed order. It does not refund; the
// cancelled event reports whether a refund is required.
func (s *Service) Cancel(ctx context.Context, id, reason string) (_ *Order, rerr error) {
	ctx, span := s.start(ctx, "order.Cancel", attribute.String("order.id", id))
	defer func() { endSpan(span, rerr) }()

	return s.cancel(ctx, id, reason)
}

func (s *Service) cancel(ctx context.Context, id, reason string) (*Order, error) {
	return s.update(ctx, id, func(o *Order, now time.Time) ([]Event, error) {
		if !o.Status.Cancellable() {
			return nil, errors.Wrapf(ErrNotCancellable, "order is %s", o.Status)
		}
		return cancelLocked(o, reason, now), nil
	})
}

func cancelLocked(o *Order, reason string, now time.Time) []Event {
	from := o.Status
	o.setStatus(StatusCancelled, now)
	o.CancelReason = reason
	return []Event{newEvent(EventCancelled, o, now, map[string]any{
		"from":           string(from),
		"reason":         reason,
		"paymentStatus":  string(o.PaymentStatus),
		"refundRequired": o.PaymentStatus == PaymentPaid,
	})}
}

// ApplyPayment applies a payment status reported by the payment processor.
// A payment marks a pending order confirmed, a full refund cancels any order
// that has not finished yet. Re-applying the current status is a no-op.
func (s *Service) ApplyPayment(ctx context.Context, id string, status PaymentStatus, reference string) (_ *Order, rerr error) {
	ctx, span := s.start(ctx, "order.ApplyPayment",
		attribute.String("order.id", id),
		attribute.String("payment.status", string(status)),
	)
	defer func() { endSpan(span, rerr) }()

	if !status.Valid() {
		return nil, errors.Wrapf(ErrInvalidPaymentStatus, "%q", status)
	}

	return s.update(ctx, id, func(o *Order, now time.Time) ([]Event, error) {
		from := o.PaymentStatus
		if from == status {
			return nil, nil
		}
		if !CanTransitionPayment(from, status) {
			return nil, errors.Wrapf(ErrInvalidPaymentTransition, "%s -> %s", from, status)
		}
		o.PaymentStatus = status
		if reference != "" {
			o.PaymentReference = reference
		}
		// Money taken for an order that is already cancelled has to go back.
		events := []Event{newEvent(EventPaymentUpdated, o, now, map[string]any{
			"from":           string(from),
			"to":             string(status),
			"reference":      reference,
			"refundRequired": status == PaymentPaid && o.Status == StatusCancelled,
		})}

		switch {
		case status == PaymentPaid && o.Status == StatusPending:
			o.setStatus(StatusConfirmed, now)
			events = append(events, newEvent(EventStatusChanged, o, now, map[string]any{
				"from": string(StatusPending),
				"to":   string(StatusConfirmed),
			}))
		case status == PaymentRefunded && !o.Status.Terminal():
			events = append(events, cancelLocked(o, ReasonRefunded, now)...)
		}
		return events, nil
	})
}

func (s *Service) publish(ctx context.Context, events ...Event) {
	for _, e := range events {
		if err := s.deps.Events.Publish(ctx, e); err != nil {
			zctx.From(ctx).Warn("Publish event",
				zap.String("event_type", string(e.Type)),
				zap.String("order_id", e.OrderID),
				zap.Error(err),
			)
		}
	}
}
