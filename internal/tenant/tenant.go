// Package tenant maps an authenticated actor to the business they own and
// carries both ids through request contexts.
package tenant

import (
	"context"
	"errors"
	"time"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/cache"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/store"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	BusinessesCollection = "businesses"
	cacheTTL             = 10 * time.Minute
)

// ErrNoBusiness means the actor owns no business yet.
var ErrNoBusiness = errors.New("actor owns no business")

type Resolver struct {
	store  store.Reader
	cache  cache.Cache
	logger *logrus.Logger
}

func NewResolver(s store.Reader, c cache.Cache, logger *logrus.Logger) *Resolver {
	if c == nil {
		c = cache.Nop{}
	}
	return &Resolver{store: s, cache: c, logger: logger}
}

func cacheKey(actorID string) string {
	return "tenant:" + actorID
}

// Resolve returns the business owned by actorID. One owner is expected to
// have one business; if several match, the first by id wins and the anomaly
// is logged.
func (r *Resolver) Resolve(ctx context.Context, actorID string) (*models.Business, error) {
	if actorID == "" {
		return nil, ErrNoBusiness
	}

	var cached models.Business
	if found, err := r.cache.Get(ctx, cacheKey(actorID), &cached); err == nil && found {
		return &cached, nil
	} else if err != nil {
		r.logger.WithError(err).Warn("Tenant cache read failed")
	}

	docs, err := r.store.Query(ctx, store.Query{
		Collection: BusinessesCollection,
		Filters:    []store.Filter{store.Where("owner_id", store.OpEqual, actorID)},
		Limit:      2,
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNoBusiness
	}
	if len(docs) > 1 {
		r.logger.WithFields(logrus.Fields{
			"actor_id":    actorID,
			"business_id": docs[0].ID,
		}).Warn("Actor owns more than one business, using the first")
	}

	var b models.Business
	if err := store.NormalizeDocument(docs[0]).Decode(&b); err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, cacheKey(actorID), b, cacheTTL); err != nil {
		r.logger.WithError(err).Warn("Tenant cache write failed")
	}
	return &b, nil
}

type contextKey int

const (
	actorKey contextKey = iota
	tenantKey
)

func WithIdentity(ctx context.Context, actorID, tenantID string) context.Context {
	ctx = context.WithValue(ctx, actorKey, actorID)
	return context.WithValue(ctx, tenantKey, tenantID)
}

func ActorID(ctx context.Context) string {
	s, _ := ctx.Value(actorKey).(string)
	return s
}

// TenantID is empty when the actor owns no business.
func TenantID(ctx context.Context) string {
	s, _ := ctx.Value(tenantKey).(string)
	return s
}
