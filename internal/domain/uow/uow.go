// Package uow defines the transaction boundary shared by the domain services.
package uow

import "context"

// UnitOfWork runs fn inside a single transaction. Repositories called with the
// context passed to fn take part in that transaction; if fn returns an error
// none of their writes become visible. A nested call joins the outer
// transaction.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Func adapts a plain function to UnitOfWork.
type Func func(ctx context.Context, fn func(ctx context.Context) error) error

// WithinTx implements UnitOfWork.
func (f Func) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}

// Direct runs fn without any transaction. Useful in tests where the
// repositories are fakes.
var Direct UnitOfWork = Func(func(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
})
