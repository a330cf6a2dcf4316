package merchant

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a merchant does not exist.
	ErrNotFound = errors.New("merchant not found")
	// ErrInactive is returned when a merchant is not accepting orders.
	ErrInactive = errors.New("merchant is not accepting orders")
)

// Merchant is a seller on the platform. CommissionRate is the platform's
// share of each order total, a fraction in [0, 1].
type Merchant struct {
	ID             string
	Name           string
	CommissionRate decimal.Decimal
	Active         bool
}

// Repository provides merchant lookups.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Merchant, error)
}
