package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/circuitbreaker"
	"github.com/sirupsen/logrus"
)

// Guarded wraps a Store so that every call runs under a per-call deadline and
// through a circuit breaker. Infrastructure failures come back as
// ErrUnavailable; not-found, conflict and unsupported-transaction results pass
// through untouched and do not count against the breaker.
type Guarded struct {
	next    Store
	breaker *circuitbreaker.CircuitBreaker
	timeout time.Duration
	logger  *logrus.Logger
}

func NewGuarded(next Store, breaker *circuitbreaker.CircuitBreaker, timeout time.Duration, logger *logrus.Logger) *Guarded {
	return &Guarded{
		next:    next,
		breaker: breaker,
		timeout: timeout,
		logger:  logger,
	}
}

func isOutcome(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrTransactionsUnsupported) ||
		errors.Is(err, ErrInvalidPath)
}

func (g *Guarded) call(ctx context.Context, op, path string, fn func(ctx context.Context) error) error {
	var outcome error
	err := g.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		err := fn(callCtx)
		if err != nil && isOutcome(err) {
			outcome = err
			return nil
		}
		return err
	})
	if outcome != nil {
		return outcome
	}
	if err == nil {
		return nil
	}

	g.logger.WithError(err).WithFields(logrus.Fields{
		"operation": op,
		"path":      path,
	}).Error("Store call failed")

	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, op, path, err)
}

func (g *Guarded) Get(ctx context.Context, path string) (Document, error) {
	var doc Document
	err := g.call(ctx, "get", path, func(ctx context.Context) error {
		var err error
		doc, err = g.next.Get(ctx, path)
		return err
	})
	return doc, err
}

func (g *Guarded) Query(ctx context.Context, q Query) ([]Document, error) {
	var docs []Document
	err := g.call(ctx, "query", q.Collection, func(ctx context.Context) error {
		var err error
		docs, err = g.next.Query(ctx, q)
		return err
	})
	return docs, err
}

func (g *Guarded) Set(ctx context.Context, path string, fields map[string]interface{}) error {
	return g.call(ctx, "set", path, func(ctx context.Context) error {
		return g.next.Set(ctx, path, fields)
	})
}

func (g *Guarded) Update(ctx context.Context, path string, fields map[string]interface{}, conds ...Precondition) error {
	return g.call(ctx, "update", path, func(ctx context.Context) error {
		return g.next.Update(ctx, path, fields, conds...)
	})
}

func (g *Guarded) Add(ctx context.Context, collection string, fields map[string]interface{}) (string, error) {
	var id string
	err := g.call(ctx, "add", collection, func(ctx context.Context) error {
		var err error
		id, err = g.next.Add(ctx, collection, fields)
		return err
	})
	return id, err
}

// RunInTransaction applies one deadline to the whole transaction.
func (g *Guarded) RunInTransaction(ctx context.Context, fn func(ctx context.Context, w Writer) error) error {
	return g.call(ctx, "transaction", "", func(ctx context.Context) error {
		return g.next.RunInTransaction(ctx, fn)
	})
}
