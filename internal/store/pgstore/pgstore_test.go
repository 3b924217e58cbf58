package pgstore

import (
	"testing"
	"time"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildQueryPaged(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	query, args, err := buildQuery(store.Query{
		Collection: "orders",
		Filters:    []store.Filter{store.Where("business_id", store.OpEqual, "biz")},
		OrderBy:    &store.OrderBy{Field: "created_at", Desc: true},
		Limit:      11,
		After:      &store.Cursor{Value: at, ID: "o9"},
	})
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT id, data FROM documents WHERE collection = $1"+
			" AND data->$2::text = $3::jsonb"+
			" AND (data->$4::text < $5::jsonb OR (data->$4::text = $5::jsonb AND id < $6))"+
			" ORDER BY data->$4::text DESC, id DESC"+
			" LIMIT $7",
		query)
	assert.Equal(t, []interface{}{
		"orders",
		"business_id", `"biz"`,
		"created_at", `"2024-05-01T12:00:00.000000000Z"`, "o9",
		11,
	}, args)
}

func TestBuildQueryNilAndAscending(t *testing.T) {
	query, args, err := buildQuery(store.Query{
		Collection: "orders/o1/history",
		Filters:    []store.Filter{store.Where("deleted_at", store.OpEqual, nil)},
		After:      &store.Cursor{ID: "h1"},
	})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT id, data FROM documents WHERE collection = $1"+
			" AND (data->>$2::text) IS NULL"+
			" AND id > $3"+
			" ORDER BY id ASC",
		query)
	assert.Equal(t, []interface{}{"orders/o1/history", "deleted_at", "h1"}, args)
}

func TestBuildQueryRejectsBadInput(t *testing.T) {
	_, _, err := buildQuery(store.Query{Collection: "orders/o1"})
	assert.ErrorIs(t, err, store.ErrInvalidPath)

	_, _, err = buildQuery(store.Query{
		Collection: "orders",
		Filters:    []store.Filter{{Field: "total", Op: "!=", Value: 1}},
	})
	assert.Error(t, err)
}

func TestEncodeDecodeTimes(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 30, 0, 5, time.FixedZone("GMT+1", 3600))
	raw, err := encodeData(map[string]interface{}{
		"id":         "dropped",
		"created_at": at,
		"status":     "pending",
		"gone":       store.Missing,
		"customer":   map[string]interface{}{"seen_at": at},
		"total":      12.5,
	})
	require.NoError(t, err)

	data, err := decodeData(raw)
	require.NoError(t, err)
	assert.NotContains(t, data, "id")
	assert.NotContains(t, data, "gone")
	assert.Equal(t, "pending", data["status"])
	assert.Equal(t, 12.5, data["total"])
	assert.True(t, at.Equal(data["created_at"].(time.Time)))
	assert.True(t, at.Equal(data["customer"].(map[string]interface{})["seen_at"].(time.Time)))
}

func TestSatisfied(t *testing.T) {
	current := map[string]interface{}{"version": float64(3)}
	assert.True(t, satisfied(current, store.Precondition{Field: "version", Equals: int64(3)}))
	assert.False(t, satisfied(current, store.Precondition{Field: "version", Equals: int64(2)}))
	assert.False(t, satisfied(current, store.Precondition{Field: "version", Equals: nil}))
	assert.True(t, satisfied(current, store.Precondition{Field: "missing", Equals: nil}))
}
