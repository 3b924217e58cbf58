// Package catalog reads the product and transaction records that the
// analytics views aggregate. Both collections are owned by other services.
package catalog

import (
	"context"
	"time"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/store"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	ProductsCollection     = "products"
	TransactionsCollection = "transactions"
)

type Reader struct {
	store  store.Reader
	logger *logrus.Logger
}

func NewReader(s store.Reader, logger *logrus.Logger) *Reader {
	return &Reader{store: s, logger: logger}
}

// ListProducts returns every product of the tenant, including unsold ones.
func (r *Reader) ListProducts(ctx context.Context, tenantID string) ([]models.Product, error) {
	if tenantID == "" {
		return []models.Product{}, nil
	}
	docs, err := r.store.Query(ctx, store.Query{
		Collection: ProductsCollection,
		Filters:    []store.Filter{store.Where("business_id", store.OpEqual, tenantID)},
	})
	if err != nil {
		return nil, err
	}

	products := make([]models.Product, 0, len(docs))
	for _, doc := range docs {
		var p models.Product
		if err := store.NormalizeDocument(doc).Decode(&p); err != nil {
			r.logger.WithError(err).WithField("product_id", doc.ID).Warn("Skipping malformed product record")
			continue
		}
		products = append(products, p)
	}
	return products, nil
}

// ListTransactions returns the tenant's transactions created in [start, end],
// oldest first. A zero bound is open.
func (r *Reader) ListTransactions(ctx context.Context, tenantID string, start, end time.Time) ([]models.Transaction, error) {
	if tenantID == "" {
		return []models.Transaction{}, nil
	}
	filters := []store.Filter{store.Where("business_id", store.OpEqual, tenantID)}
	if !start.IsZero() {
		filters = append(filters, store.Where("created_at", store.OpGreaterOrEqual, start))
	}
	if !end.IsZero() {
		filters = append(filters, store.Where("created_at", store.OpLessOrEqual, end))
	}

	docs, err := r.store.Query(ctx, store.Query{
		Collection: TransactionsCollection,
		Filters:    filters,
		OrderBy:    &store.OrderBy{Field: "created_at"},
	})
	if err != nil {
		return nil, err
	}

	txns := make([]models.Transaction, 0, len(docs))
	for _, doc := range docs {
		var t models.Transaction
		if err := store.NormalizeDocument(doc).Decode(&t); err != nil {
			r.logger.WithError(err).WithField("transaction_id", doc.ID).Warn("Skipping malformed transaction record")
			continue
		}
		txns = append(txns, t)
	}
	return txns, nil
}
