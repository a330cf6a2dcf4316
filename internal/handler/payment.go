package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/order"
)

// paymentEvent is the provider-agnostic webhook body.
type paymentEvent struct {
	EventID   string
	OrderID   string
	Status    string
	Reference string
}

// PaymentWebhook handles POST /api/payments/webhook. Each provider event ID
// is applied at most once; redeliveries get 200 with "duplicate": true.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var ev paymentEvent
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "eventId":
			return str(d, key, &ev.EventID)
		case "orderId":
			return str(d, key, &ev.OrderID)
		case "status":
			return str(d, key, &ev.Status)
		case "reference":
			return str(d, key, &ev.Reference)
		default:
			return d.Skip()
		}
	})
	if err == nil {
		switch {
		case ev.EventID == "":
			err = badField("eventId", errors.New("is required"))
		case ev.OrderID == "":
			err = badField("orderId", errors.New("is required"))
		case ev.Status == "":
			err = badField("status", errors.New("is required"))
		}
	}
	if err != nil {
		fail(w, r, err)
		return
	}

	ctx := r.Context()
	lg := zctx.From(ctx).With(zap.String("event_id", ev.EventID), zap.String("order_id", ev.OrderID))

	first, err := h.webhooks.Claim(ctx, ev.EventID)
	if err != nil {
		fail(w, r, errors.Wrap(err, "claim webhook"))
		return
	}
	if !first {
		lg.Info("Duplicate payment event ignored")
		writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				fStr(e, "eventId", ev.EventID)
				fBool(e, "duplicate", true)
			})
		})
		return
	}

	o, err := h.orders.ApplyPayment(ctx, ev.OrderID, order.PaymentStatus(ev.Status), ev.Reference)
	if err != nil {
		// Retriable failures release the claim so the provider's retry is
		// processed. Rejected events stay claimed.
		if classify(err).status >= http.StatusInternalServerError || errors.Is(err, order.ErrConflict) {
			if rerr := h.webhooks.Release(ctx, ev.EventID); rerr != nil {
				lg.Warn("Release payment event", zap.Error(rerr))
			}
		}
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			fStr(e, "eventId", ev.EventID)
			fBool(e, "duplicate", false)
			e.Field("order", func(e *jx.Encoder) { encodeOrder(e, o) })
		})
	})
}
