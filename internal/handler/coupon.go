package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/marketplace/internal/domain/coupon"
)

// CreateCoupon handles POST /api/coupons.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var p coupon.CreateParams
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "code":
			return str(d, key, &p.Code)
		case "merchantId":
			return str(d, key, &p.MerchantID)
		case "discountType":
			var s string
			err := str(d, key, &s)
			p.DiscountType = coupon.DiscountType(s)
			return err
		case "discountValue":
			return money(d, key, &p.DiscountValue)
		case "maxDiscountAmount":
			return nullMoney(d, key, &p.MaxDiscountAmount)
		case "minOrderAmount":
			return money(d, key, &p.MinOrderAmount)
		case "maxUses":
			return integer(d, key, &p.MaxUses)
		case "maxUsesPerUser":
			if d.Next() == jx.Null {
				return d.Null()
			}
			var n int
			if err := integer(d, key, &n); err != nil {
				return err
			}
			p.MaxUsesPerUser = &n
			return nil
		case "validFrom":
			return timestamp(d, key, &p.ValidFrom)
		case "validUntil":
			return timestamp(d, key, &p.ValidUntil)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		fail(w, r, err)
		return
	}

	c, err := h.coupons.Create(r.Context(), p)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

// GetCoupon handles GET /api/coupons/{code}.
func (h *Handler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.coupons.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

// RetireCoupon handles DELETE /api/coupons/{code}. Used coupons are only
// deactivated; the response tells which happened.
func (h *Handler) RetireCoupon(w http.ResponseWriter, r *http.Request) {
	code := coupon.NormalizeCode(chi.URLParam(r, "code"))
	deleted, err := h.coupons.Retire(r.Context(), code)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			fStr(e, "code", code)
			fBool(e, "deleted", deleted)
			fBool(e, "deactivated", !deleted)
		})
	})
}

// ValidateCoupon handles POST /api/coupons/validate, a dry run that records
// nothing.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req coupon.ValidateRequest
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "code":
			return str(d, key, &req.Code)
		case "subtotal":
			return money(d, key, &req.Subtotal)
		case "merchantId":
			return str(d, key, &req.MerchantID)
		case "userId":
			return str(d, key, &req.UserID)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		fail(w, r, err)
		return
	}

	v, err := h.resolver.Validate(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			fBool(e, "valid", true)
			fStr(e, "couponId", v.Coupon.ID)
			fStr(e, "code", v.Coupon.Code)
			fStr(e, "discountType", string(v.Coupon.DiscountType))
			fMoney(e, "discountAmount", v.DiscountAmount)
			fBool(e, "freeDelivery", v.FreeDelivery())
		})
	})
}

func encodeCoupon(e *jx.Encoder, c *coupon.Coupon) {
	e.Obj(func(e *jx.Encoder) {
		fStr(e, "id", c.ID)
		fStr(e, "code", c.Code)
		fOptStr(e, "merchantId", c.MerchantID)
		fStr(e, "discountType", string(c.DiscountType))
		fMoney(e, "discountValue", c.DiscountValue)
		if c.MaxDiscountAmount.Valid {
			fMoney(e, "maxDiscountAmount", c.MaxDiscountAmount.Decimal)
		}
		fMoney(e, "minOrderAmount", c.MinOrderAmount)
		fInt(e, "maxUses", c.MaxUses)
		fInt(e, "maxUsesPerUser", c.MaxUsesPerUser)
		fTime(e, "validFrom", &c.ValidFrom)
		fTime(e, "validUntil", &c.ValidUntil)
		fBool(e, "isActive", c.IsActive)
		fInt(e, "timesUsed", c.TimesUsed)
		fMoney(e, "totalDiscountGiven", c.TotalDiscountGiven)
		fTime(e, "createdAt", &c.CreatedAt)
	})
}
