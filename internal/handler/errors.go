package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/domain/merchant"
	"github.com/xenking/marketplace/internal/domain/order"
	"github.com/xenking/marketplace/internal/domain/pricing"
)

// apiError is the JSON error body: {"error":{"code","message","field"}}.
type apiError struct {
	status  int
	code    string
	message string
	field   string
}

var sentinelErrors = []struct {
	err    error
	status int
	code   string
}{
	{order.ErrNotFound, http.StatusNotFound, "order_not_found"},
	{coupon.ErrNotFound, http.StatusNotFound, "coupon_not_found"},
	{merchant.ErrNotFound, http.StatusNotFound, "merchant_not_found"},
	{order.ErrConflict, http.StatusConflict, "conflict"},
	{coupon.ErrDuplicateCode, http.StatusConflict, "duplicate_code"},
	{order.ErrInvalidStatus, http.StatusBadRequest, "invalid_status"},
	{order.ErrInvalidPaymentStatus, http.StatusBadRequest, "invalid_payment_status"},
	{pricing.ErrNegativeAmount, http.StatusBadRequest, "validation_error"},
	{pricing.ErrInvalidQuantity, http.StatusBadRequest, "validation_error"},
	{pricing.ErrUnknownOrderType, http.StatusBadRequest, "validation_error"},
	{order.ErrInvalidTransition, http.StatusUnprocessableEntity, "invalid_transition"},
	{order.ErrNotCancellable, http.StatusUnprocessableEntity, "not_cancellable"},
	{order.ErrInvalidPaymentTransition, http.StatusUnprocessableEntity, "invalid_payment_transition"},
	{merchant.ErrInactive, http.StatusUnprocessableEntity, "merchant_inactive"},
}

func classify(err error) apiError {
	var (
		reqErr     *requestError
		orderVal   *order.ValidationError
		couponVal  *coupon.ValidationError
		rejection  *coupon.RejectionError
		notOnMenu  *order.ProductNotFoundError
		unavailErr *pricing.ProductUnavailableError
	)
	switch {
	case errors.As(err, &reqErr):
		return apiError{http.StatusBadRequest, "invalid_request", reqErr.Error(), reqErr.field}
	case errors.As(err, &orderVal):
		return apiError{http.StatusBadRequest, "validation_error", orderVal.Error(), orderVal.Field}
	case errors.As(err, &couponVal):
		return apiError{http.StatusBadRequest, "validation_error", couponVal.Error(), couponVal.Field}
	case errors.As(err, &rejection):
		return apiError{http.StatusUnprocessableEntity, string(rejection.Reason), rejection.Message, ""}
	case errors.As(err, &notOnMenu):
		return apiError{http.StatusUnprocessableEntity, "product_not_found", notOnMenu.Error(), ""}
	case errors.As(err, &unavailErr):
		return apiError{http.StatusUnprocessableEntity, "product_unavailable", unavailErr.Error(), ""}
	}
	for _, s := range sentinelErrors {
		if errors.Is(err, s.err) {
			return apiError{s.status, s.code, s.err.Error(), ""}
		}
	}
	return apiError{http.StatusInternalServerError, "internal", "internal server error", ""}
}

// fail writes err as an API error. Unclassified errors are logged since the
// client only sees a generic message.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	ae := classify(err)
	if ae.status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, ae.status, ae.code, ae.message, ae.field)
}

func writeError(w http.ResponseWriter, status int, code, message, field string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("error", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					fStr(e, "code", code)
					fStr(e, "message", message)
					fOptStr(e, "field", field)
				})
			})
		})
	})
}
