package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a merchant's menu entry. Price and Available are read once at
// order creation and copied into the order.
type Product struct {
	ID         string
	MerchantID string
	Name       string
	Price      decimal.Decimal
	Available  bool
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
