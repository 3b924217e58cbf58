package memstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s *Store, n int) time.Time {
	t.Helper()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		err := s.Set(context.Background(), store.Doc("orders", fmt.Sprintf("o%02d", i)), map[string]interface{}{
			"business_id": "biz-1",
			"created_at":  base.Add(time.Duration(i) * time.Hour),
			"total":       float64(i),
		})
		require.NoError(t, err)
	}
	return base
}

func TestGetAndNotFound(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "orders/a", map[string]interface{}{"status": "pending"}))

	doc, err := s.Get(ctx, "orders/a")
	require.NoError(t, err)
	assert.Equal(t, "a", doc.ID)
	assert.Equal(t, "pending", doc.Data["status"])

	_, err = s.Get(ctx, "orders/missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	_, err = s.Get(ctx, "orders")
	assert.True(t, errors.Is(err, store.ErrInvalidPath))
}

func TestGetReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "orders/a", map[string]interface{}{"status": "pending"}))

	doc, err := s.Get(ctx, "orders/a")
	require.NoError(t, err)
	doc.Data["status"] = "mutated"

	again, err := s.Get(ctx, "orders/a")
	require.NoError(t, err)
	assert.Equal(t, "pending", again.Data["status"])
}

func TestQueryOrderingAndCursor(t *testing.T) {
	s := New()
	seed(t, s, 5)
	ctx := context.Background()

	q := store.Query{
		Collection: "orders",
		Filters:    []store.Filter{store.Where("business_id", store.OpEqual, "biz-1")},
		OrderBy:    &store.OrderBy{Field: "created_at", Desc: true},
		Limit:      2,
	}
	first, err := s.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "o04", first[0].ID)
	assert.Equal(t, "o03", first[1].ID)

	last := first[len(first)-1]
	q.After = &store.Cursor{Value: last.Data["created_at"], ID: last.ID}
	second, err := s.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, "o02", second[0].ID)
	assert.Equal(t, "o01", second[1].ID)
}

func TestQueryTiesBrokenByID(t *testing.T) {
	s := New()
	ctx := context.Background()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range []string{"b", "c", "a"} {
		require.NoError(t, s.Set(ctx, store.Doc("orders", id), map[string]interface{}{"created_at": at}))
	}

	docs, err := s.Query(ctx, store.Query{
		Collection: "orders",
		OrderBy:    &store.OrderBy{Field: "created_at", Desc: true},
		Limit:      1,
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "c", docs[0].ID)

	rest, err := s.Query(ctx, store.Query{
		Collection: "orders",
		OrderBy:    &store.OrderBy{Field: "created_at", Desc: true},
		After:      &store.Cursor{Value: at, ID: "c"},
	})
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "b", rest[0].ID)
	assert.Equal(t, "a", rest[1].ID)
}

func TestQueryRangeFilter(t *testing.T) {
	s := New()
	base := seed(t, s, 5)

	docs, err := s.Query(context.Background(), store.Query{
		Collection: "orders",
		Filters: []store.Filter{
			store.Where("created_at", store.OpGreaterOrEqual, base.Add(time.Hour)),
			store.Where("created_at", store.OpLessThan, base.Add(3*time.Hour)),
		},
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "o01", docs[0].ID)
	assert.Equal(t, "o02", docs[1].ID)
}

func TestUpdatePreconditions(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "orders/a", map[string]interface{}{"status": "pending"}))

	// absent field matches a nil expectation
	err := s.Update(ctx, "orders/a", map[string]interface{}{"version": int64(1)}, store.Precondition{Field: "version", Equals: nil})
	require.NoError(t, err)

	err = s.Update(ctx, "orders/a", map[string]interface{}{"version": int64(2)}, store.Precondition{Field: "version", Equals: int64(0)})
	assert.True(t, errors.Is(err, store.ErrConflict))

	err = s.Update(ctx, "orders/a", map[string]interface{}{"version": int64(2), "notes": store.Missing}, store.Precondition{Field: "version", Equals: int64(1)})
	require.NoError(t, err)

	doc, err := s.Get(ctx, "orders/a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Data["version"])
	assert.NotContains(t, doc.Data, "notes")

	err = s.Update(ctx, "orders/b", map[string]interface{}{"status": "x"})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestTransactionCommitsAtomically(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "orders/a", map[string]interface{}{"status": "pending"}))

	err := s.RunInTransaction(ctx, func(ctx context.Context, w store.Writer) error {
		if err := w.Update(ctx, "orders/a", map[string]interface{}{"status": "processing"}); err != nil {
			return err
		}
		_, err := w.Add(ctx, "orders/a/history", map[string]interface{}{"status": "processing"})
		return err
	})
	require.NoError(t, err)

	doc, err := s.Get(ctx, "orders/a")
	require.NoError(t, err)
	assert.Equal(t, "processing", doc.Data["status"])
	assert.Equal(t, 1, s.Count("orders/a/history"))
}

func TestTransactionRollsBackOnFault(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "orders/a", map[string]interface{}{"status": "pending"}))

	s.SetFault(func(op Op, path string) error {
		if op == OpAdd {
			return ErrInjected
		}
		return nil
	})

	err := s.RunInTransaction(ctx, func(ctx context.Context, w store.Writer) error {
		if err := w.Update(ctx, "orders/a", map[string]interface{}{"status": "processing"}); err != nil {
			return err
		}
		_, err := w.Add(ctx, "orders/a/history", map[string]interface{}{"status": "processing"})
		return err
	})
	assert.True(t, errors.Is(err, ErrInjected))

	doc, err := s.Get(ctx, "orders/a")
	require.NoError(t, err)
	assert.Equal(t, "pending", doc.Data["status"])
	assert.Equal(t, 0, s.Count("orders/a/history"))
}

func TestTransactionConflictAtCommit(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "orders/a", map[string]interface{}{"version": int64(1)}))

	err := s.RunInTransaction(ctx, func(ctx context.Context, w store.Writer) error {
		// a concurrent writer lands before commit
		require.NoError(t, s.Update(ctx, "orders/a", map[string]interface{}{"version": int64(2)}))
		return w.Update(ctx, "orders/a", map[string]interface{}{"version": int64(2)}, store.Precondition{Field: "version", Equals: int64(1)})
	})
	assert.True(t, errors.Is(err, store.ErrConflict))
}

func TestWithoutTransactions(t *testing.T) {
	s := New(WithoutTransactions())
	err := s.RunInTransaction(context.Background(), func(ctx context.Context, w store.Writer) error {
		t.Fatal("fn must not run")
		return nil
	})
	assert.True(t, errors.Is(err, store.ErrTransactionsUnsupported))
}
