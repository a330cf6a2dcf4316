// Package handler exposes the ordering core over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/domain/order"
	"github.com/xenking/marketplace/internal/redisx"
)

// OrderService is the part of order.Service the HTTP layer drives.
type OrderService interface {
	Create(ctx context.Context, req order.CreateRequest) (*order.Order, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	SetStatus(ctx context.Context, id string, status order.Status) (*order.Order, error)
	Cancel(ctx context.Context, id, reason string) (*order.Order, error)
	ApplyPayment(ctx context.Context, id string, status order.PaymentStatus, reference string) (*order.Order, error)
}

// CouponAdmin is the part of coupon.Manager the HTTP layer drives.
type CouponAdmin interface {
	Create(ctx context.Context, p coupon.CreateParams) (*coupon.Coupon, error)
	Get(ctx context.Context, code string) (*coupon.Coupon, error)
	Retire(ctx context.Context, code string) (bool, error)
}

// CouponValidator dry-runs a coupon against a cart.
type CouponValidator interface {
	Validate(ctx context.Context, req coupon.ValidateRequest) (*coupon.Validation, error)
}

var (
	_ OrderService    = (*order.Service)(nil)
	_ CouponAdmin     = (*coupon.Manager)(nil)
	_ CouponValidator = (*coupon.Resolver)(nil)
)

// Handler serves the marketplace API.
type Handler struct {
	orders   OrderService
	coupons  CouponAdmin
	resolver CouponValidator
	webhooks redisx.Deduper
}

// New creates a Handler.
func New(orders OrderService, coupons CouponAdmin, resolver CouponValidator, webhooks redisx.Deduper) *Handler {
	return &Handler{
		orders:   orders,
		coupons:  coupons,
		resolver: resolver,
		webhooks: webhooks,
	}
}

// Mount registers the API routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/coupons", func(r chi.Router) {
			r.Post("/", h.CreateCoupon)
			r.Post("/validate", h.ValidateCoupon)
			r.Get("/{code}", h.GetCoupon)
			r.Delete("/{code}", h.RetireCoupon)
		})
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Get("/{id}", h.GetOrder)
			r.Post("/{id}/status", h.SetOrderStatus)
			r.Post("/{id}/cancel", h.CancelOrder)
		})
		r.Post("/payments/webhook", h.PaymentWebhook)
	})
}

// Router returns a chi router with the API routes and JSON 404/405 bodies.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", "")
	})
	h.Mount(r)
	return r
}

