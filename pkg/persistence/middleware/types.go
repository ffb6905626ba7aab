package middleware

import (
	"context"

	"github.com/aretw0/stageflow/pkg/ports"
)

// Middleware allows wrapping a Repository to add behavior.
//
// A decorator that wraps a ports.Transactor must itself implement Atomic,
// usually by calling ForwardAtomic. Otherwise every middleware outside it
// sees a plain Repository and units of work lose their rollback.
type Middleware func(ports.Repository) ports.Repository

// Chain applies middlewares so that the first one is outermost.
func Chain(repo ports.Repository, mws ...Middleware) ports.Repository {
	for i := len(mws) - 1; i >= 0; i-- {
		repo = mws[i](repo)
	}
	return repo
}

// ForwardAtomic forwards a unit of work to next, re-wrapping the
// transactional view with wrap so the middleware still applies inside it.
// When next cannot run units of work, fn runs directly against wrap(next).
func ForwardAtomic(ctx context.Context, next ports.Repository, wrap Middleware, fn func(context.Context, ports.Repository) error) error {
	if tx, ok := next.(ports.Transactor); ok {
		return tx.Atomic(ctx, func(ctx context.Context, repo ports.Repository) error {
			return fn(ctx, wrap(repo))
		})
	}
	return fn(ctx, wrap(next))
}
