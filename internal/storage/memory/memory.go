// Package memory is an in-process implementation of the repositories. Every
// transaction holds an exclusive lock for its duration and restores a
// snapshot of the data if it fails, so it offers serializable isolation.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/domain/merchant"
	"github.com/xenking/marketplace/internal/domain/order"
	"github.com/xenking/marketplace/internal/domain/product"
	"github.com/xenking/marketplace/internal/domain/uow"
)

type txKey struct{}

// Store holds all entities in memory.
type Store struct {
	// txMu serializes transactions against each other and against writes
	// made outside a transaction.
	txMu sync.Mutex
	mu   sync.Mutex

	merchants map[string]merchant.Merchant
	products  map[string]product.Product
	coupons   map[string]*coupon.Coupon
	usages    []coupon.Usage
	orders    map[string]*order.Order
	seq       map[string]int64
}

var _ uow.UnitOfWork = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		merchants: make(map[string]merchant.Merchant),
		products:  make(map[string]product.Product),
		coupons:   make(map[string]*coupon.Coupon),
		orders:    make(map[string]*order.Order),
		seq:       make(map[string]int64),
	}
}

type snapshot struct {
	coupons map[string]*coupon.Coupon
	usages  []coupon.Usage
	orders  map[string]*order.Order
	seq     map[string]int64
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		coupons: make(map[string]*coupon.Coupon, len(s.coupons)),
		usages:  slices.Clone(s.usages),
		orders:  make(map[string]*order.Order, len(s.orders)),
		seq:     maps.Clone(s.seq),
	}
	for id, c := range s.coupons {
		cp := *c
		snap.coupons[id] = &cp
	}
	for id, o := range s.orders {
		snap.orders[id] = cloneOrder(o)
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupons = snap.coupons
	s.usages = snap.usages
	s.orders = snap.orders
	s.seq = snap.seq
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, ok := ctx.Value(txKey{}).(*Store)
	return ok && owner == s
}

// WithinTx runs fn exclusively and rolls back every change it made through
// this store if it returns an error.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// lock acquires the data lock, and the transaction lock as well when ctx is
// not already inside a transaction of this store.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		s.mu.Lock()
		return s.mu.Unlock
	}
	s.txMu.Lock()
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		s.txMu.Unlock()
	}
}

// AddMerchant inserts or replaces a merchant.
func (s *Store) AddMerchant(m merchant.Merchant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merchants[m.ID] = m
}

// AddProduct inserts or replaces a product.
func (s *Store) AddProduct(p product.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// Merchants returns the merchant repository.
func (s *Store) Merchants() merchant.Repository { return merchantRepo{s} }

// Products returns the product repository.
func (s *Store) Products() product.Repository { return productRepo{s} }

// Coupons returns the coupon repository.
func (s *Store) Coupons() coupon.Repository { return couponRepo{s} }

// Orders returns the order repository.
func (s *Store) Orders() order.Repository { return orderRepo{s} }

type merchantRepo struct{ s *Store }

func (r merchantRepo) GetByID(ctx context.Context, id string) (*merchant.Merchant, error) {
	defer r.s.lock(ctx)()
	m, ok := r.s.merchants[id]
	if !ok {
		return nil, merchant.ErrNotFound
	}
	return &m, nil
}

type productRepo struct{ s *Store }

func (r productRepo) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	defer r.s.lock(ctx)()
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.s.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}
