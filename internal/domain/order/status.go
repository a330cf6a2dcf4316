package order

import "github.com/xenking/marketplace/internal/domain/pricing"

// Status is the operational state of an order.
type Status string

const (
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusPreparing      Status = "preparing"
	StatusReady          Status = "ready"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
)

var validNext = map[Status][]Status{
	StatusPending:        {StatusConfirmed, StatusCancelled},
	StatusConfirmed:      {StatusPreparing, StatusCancelled},
	StatusPreparing:      {StatusReady},
	StatusReady:          {StatusOutForDelivery, StatusCompleted},
	StatusOutForDelivery: {StatusDelivered},
	StatusDelivered:      {},
	StatusCompleted:      {},
	StatusCancelled:      {},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCompleted || s == StatusCancelled
}

// Cancellable reports whether an order in s may be cancelled by a caller.
func (s Status) Cancellable() bool {
	return s == StatusPending || s == StatusConfirmed
}

// CanTransition reports whether an order of type t may move from one status
// to another. Delivery orders go through out_for_delivery to delivered, all
// others finish at completed.
func CanTransition(from, to Status, t pricing.OrderType) bool {
	switch {
	case from == StatusReady && to == StatusOutForDelivery:
		return t == pricing.Delivery
	case from == StatusReady && to == StatusCompleted:
		return t != pricing.Delivery
	}
	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentStatus is the state of the order's payment as reported by the
// payment processor.
type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentPaid              PaymentStatus = "paid"
	PaymentFailed            PaymentStatus = "failed"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

var validPaymentNext = map[PaymentStatus][]PaymentStatus{
	PaymentPending:           {PaymentPaid, PaymentFailed},
	PaymentFailed:            {PaymentPaid},
	PaymentPaid:              {PaymentRefunded, PaymentPartiallyRefunded},
	PaymentPartiallyRefunded: {PaymentRefunded},
	PaymentRefunded:          {},
}

// Valid reports whether p is a known payment status.
func (p PaymentStatus) Valid() bool {
	_, ok := validPaymentNext[p]
	return ok
}

// CanTransitionPayment reports whether payment may move from one status to another.
func CanTransitionPayment(from, to PaymentStatus) bool {
	for _, next := range validPaymentNext[from] {
		if next == to {
			return true
		}
	}
	return false
}
