package memory

import (
	"context"
	"slices"
	"time"

	"github.com/xenking/marketplace/internal/domain/order"
)

type orderRepo struct{ s *Store }

func cloneOrder(o *order.Order) *order.Order {
	cp := *o
	cp.Items = slices.Clone(o.Items)
	return &cp
}

func (r orderRepo) Create(ctx context.Context, o *order.Order) error {
	defer r.s.lock(ctx)()
	r.s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (r orderRepo) GetByID(ctx context.Context, id string) (*order.Order, error) {
	defer r.s.lock(ctx)()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (r orderRepo) Update(ctx context.Context, o *order.Order, expectedVersion int) error {
	defer r.s.lock(ctx)()
	stored, ok := r.s.orders[o.ID]
	if !ok {
		return order.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return order.ErrConflict
	}
	r.s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (r orderRepo) NextNumber(ctx context.Context, day time.Time) (int64, error) {
	defer r.s.lock(ctx)()
	key := day.UTC().Format(time.DateOnly)
	r.s.seq[key]++
	return r.s.seq[key], nil
}
