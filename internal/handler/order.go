package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/marketplace/internal/domain/order"
	"github.com/xenking/marketplace/internal/domain/pricing"
)

// CreateOrder handles POST /api/orders.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req order.CreateRequest
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "merchantId":
			return str(d, key, &req.MerchantID)
		case "customerId":
			return str(d, key, &req.CustomerID)
		case "orderType":
			var s string
			err := str(d, key, &s)
			req.OrderType = pricing.OrderType(s)
			return err
		case "couponCode":
			return str(d, key, &req.CouponCode)
		case "loyaltyPoints":
			return integer(d, key, &req.LoyaltyPoints)
		case "tip":
			return money(d, key, &req.Tip)
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				var item order.ItemRequest
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					switch key {
					case "productId":
						return str(d, "items.productId", &item.ProductID)
					case "quantity":
						return integer(d, "items.quantity", &item.Quantity)
					case "notes":
						return str(d, "items.notes", &item.Notes)
					default:
						return d.Skip()
					}
				}); err != nil {
					return err
				}
				req.Items = append(req.Items, item)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		fail(w, r, err)
		return
	}

	o, err := h.orders.Create(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/orders/"+o.ID)
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// GetOrder handles GET /api/orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// SetOrderStatus handles POST /api/orders/{id}/status with {"status": "..."}.
func (h *Handler) SetOrderStatus(w http.ResponseWriter, r *http.Request) {
	var status string
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key == "status" {
			return str(d, key, &status)
		}
		return d.Skip()
	})
	if err == nil && status == "" {
		err = badField("status", errors.New("is required"))
	}
	if err != nil {
		fail(w, r, err)
		return
	}

	o, err := h.orders.SetStatus(r.Context(), chi.URLParam(r, "id"), order.Status(status))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// CancelOrder handles POST /api/orders/{id}/cancel. The body is optional.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var reason string
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
			if key == "reason" {
				return str(d, key, &reason)
			}
			return d.Skip()
		}); err != nil {
			fail(w, r, err)
			return
		}
	}

	o, err := h.orders.Cancel(r.Context(), chi.URLParam(r, "id"), reason)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		fStr(e, "id", o.ID)
		fStr(e, "orderNumber", o.OrderNumber)
		fStr(e, "merchantId", o.MerchantID)
		fOptStr(e, "customerId", o.CustomerID)
		fStr(e, "orderType", string(o.OrderType))
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						fStr(e, "productId", it.ProductID)
						fStr(e, "name", it.Name)
						fMoney(e, "unitPrice", it.UnitPrice)
						fInt(e, "quantity", it.Quantity)
						fMoney(e, "lineTotal", it.LineTotal())
						fOptStr(e, "notes", it.Notes)
					})
				}
			})
		})
		fMoney(e, "subtotal", o.Subtotal)
		fMoney(e, "loyaltyDiscount", o.LoyaltyDiscount)
		fMoney(e, "discountAmount", o.DiscountAmount)
		fMoney(e, "taxAmount", o.TaxAmount)
		fMoney(e, "serviceFee", o.ServiceFee)
		fMoney(e, "deliveryFee", o.DeliveryFee)
		fMoney(e, "tipAmount", o.TipAmount)
		fMoney(e, "total", o.Total)
		e.Field("commissionRate", func(e *jx.Encoder) { e.Raw([]byte(o.CommissionRate.String())) })
		fMoney(e, "commissionAmount", o.CommissionAmount)
		fMoney(e, "merchantPayout", o.MerchantPayout)
		fOptStr(e, "couponCode", o.CouponCode)
		fStr(e, "status", string(o.Status))
		fStr(e, "paymentStatus", string(o.PaymentStatus))
		fOptStr(e, "paymentReference", o.PaymentReference)
		fOptStr(e, "cancelReason", o.CancelReason)
		fTime(e, "confirmedAt", o.ConfirmedAt)
		fTime(e, "preparingAt", o.PreparingAt)
		fTime(e, "readyAt", o.ReadyAt)
		fTime(e, "outForDeliveryAt", o.OutForDeliveryAt)
		fTime(e, "deliveredAt", o.DeliveredAt)
		fTime(e, "completedAt", o.CompletedAt)
		fTime(e, "cancelledAt", o.CancelledAt)
		fInt(e, "version", o.Version)
		fTime(e, "createdAt", &o.CreatedAt)
		fTime(e, "updatedAt", &o.UpdatedAt)
	})
}
