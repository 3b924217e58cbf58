package catalog

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/store"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/store/memstore"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReader(t *testing.T) (*Reader, *memstore.Store) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	s := memstore.New()
	return NewReader(s, logger), s
}

func TestListProductsIsTenantScoped(t *testing.T) {
	r, s := newReader(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, store.Doc(ProductsCollection, "p1"), map[string]interface{}{
		"business_id": "biz-1", "name": "Shea butter", "price": 12.5, "sold": 4,
	}))
	require.NoError(t, s.Set(ctx, store.Doc(ProductsCollection, "p2"), map[string]interface{}{
		"business_id": "biz-2", "name": "Kente", "sold": 9,
	}))

	products, err := r.ListProducts(ctx, "biz-1")
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, models.Product{ID: "p1", BusinessID: "biz-1", Name: "Shea butter", Price: 12.5, Sold: 4}, products[0])

	products, err = r.ListProducts(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestListTransactionsWindow(t *testing.T) {
	r, s := newReader(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"t0", "t1", "t2", "t3"} {
		require.NoError(t, s.Set(ctx, store.Doc(TransactionsCollection, id), map[string]interface{}{
			"business_id": "biz-1",
			"type":        "sale",
			"amount":      10.0,
			"created_at":  base.Add(time.Duration(i) * 24 * time.Hour),
		}))
	}

	txns, err := r.ListTransactions(ctx, "biz-1", base.Add(24*time.Hour), base.Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, "t1", txns[0].ID)
	assert.Equal(t, "t2", txns[1].ID)
	assert.Equal(t, models.TransactionSale, txns[0].Type)

	txns, err = r.ListTransactions(ctx, "biz-1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, txns, 4)
}
