package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	ErrNotFound                 = errors.New("order not found")
	ErrConflict                 = errors.New("order was modified concurrently")
	ErrInvalidStatus            = errors.New("invalid status")
	ErrInvalidTransition        = errors.New("invalid status transition")
	ErrNotCancellable           = errors.New("order cannot be cancelled")
	ErrInvalidPaymentStatus     = errors.New("invalid payment status")
	ErrInvalidPaymentTransition = errors.New("invalid payment status transition")
)

// ValidationError reports malformed input to an order operation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ProductNotFoundError indicates a requested product does not exist on the
// merchant's menu.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}
