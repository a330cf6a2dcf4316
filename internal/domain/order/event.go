package order

import (
	"context"
	"time"
)

// EventType names a domain event.
type EventType string

const (
	EventCreated        EventType = "order.created"
	EventStatusChanged  EventType = "order.status_changed"
	EventCancelled      EventType = "order.cancelled"
	EventPaymentUpdated EventType = "order.payment_updated"
	EventCouponRedeemed EventType = "coupon.redeemed"
)

// Event is emitted after an order change has been committed. Payload values
// are strings, bools, ints or decimals.
type Event struct {
	Type       EventType
	OrderID    string
	MerchantID string
	CustomerID string
	OccurredAt time.Time
	Payload    map[string]any
}

// Publisher delivers events to external collaborators.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, e Event) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, e Event) error {
	return f(ctx, e)
}

func newEvent(t EventType, o *Order, at time.Time, payload map[string]any) Event {
	return Event{
		Type:       t,
		OrderID:    o.ID,
		MerchantID: o.MerchantID,
		CustomerID: o.CustomerID,
		OccurredAt: at,
		Payload:    payload,
	}
}
