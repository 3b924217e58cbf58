package mongostore

import (
	"testing"
	"time"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestLocate(t *testing.T) {
	loc, err := locate("orders")
	require.NoError(t, err)
	assert.Equal(t, "orders", loc.collection)
	assert.Equal(t, "o1", loc.key("o1"))
	assert.Equal(t, bson.M{}, loc.scope())

	loc, err = locate("orders/o1/items")
	require.NoError(t, err)
	assert.Equal(t, "items", loc.collection)
	assert.Equal(t, "orders/o1", loc.parent)
	assert.Equal(t, "orders/o1/items/i1", loc.key("i1"))
	assert.Equal(t, "i1", loc.idFromKey("orders/o1/items/i1"))
	assert.Equal(t, bson.M{parentField: "orders/o1"}, loc.scope())

	_, err = locate("orders/o1")
	assert.ErrorIs(t, err, store.ErrInvalidPath)
}

func TestBuildFilter(t *testing.T) {
	loc, _ := locate("orders")
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, bson.M{}, buildFilter(loc, store.Query{Collection: "orders"}))

	single := buildFilter(loc, store.Query{
		Filters: []store.Filter{store.Where("business_id", store.OpEqual, "biz")},
	})
	assert.Equal(t, bson.M{"business_id": bson.M{"$eq": "biz"}}, single)

	paged := buildFilter(loc, store.Query{
		Filters: []store.Filter{store.Where("business_id", store.OpEqual, "biz")},
		OrderBy: &store.OrderBy{Field: "created_at", Desc: true},
		After:   &store.Cursor{Value: at, ID: "o9"},
	})
	assert.Equal(t, bson.M{"$and": []bson.M{
		{"business_id": bson.M{"$eq": "biz"}},
		{"$or": []bson.M{
			{"created_at": bson.M{"$lt": at}},
			{"created_at": at, "_id": bson.M{"$lt": "o9"}},
		}},
	}}, paged)
}

func TestBuildFilterSubcollection(t *testing.T) {
	loc, _ := locate("orders/o1/items")
	filter := buildFilter(loc, store.Query{
		After: &store.Cursor{ID: "i1"},
	})
	assert.Equal(t, bson.M{"$and": []bson.M{
		{parentField: "orders/o1"},
		{"_id": bson.M{"$gt": "orders/o1/items/i1"}},
	}}, filter)
}

func TestBuildSort(t *testing.T) {
	assert.Equal(t, bson.D{{Key: "_id", Value: 1}}, buildSort(nil))
	assert.Equal(t,
		bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}},
		buildSort(&store.OrderBy{Field: "created_at", Desc: true}))
}

func TestBuildUpdate(t *testing.T) {
	update := buildUpdate(map[string]interface{}{
		"status": "processing",
		"notes":  store.Missing,
	})
	assert.Equal(t, bson.M{
		"$set":   bson.M{"status": "processing"},
		"$unset": bson.M{"notes": ""},
	}, update)

	filter := buildUpdateFilter("o1", []store.Precondition{{Field: "version", Equals: int64(3)}})
	assert.Equal(t, bson.M{"_id": "o1", "version": int64(3)}, filter)
}

func TestDocumentRoundTrip(t *testing.T) {
	loc, _ := locate("orders/o1/history")
	doc := buildDocument(loc, "h1", map[string]interface{}{
		"id":     "ignored",
		"status": "pending",
		"gone":   store.Missing,
	})
	assert.Equal(t, bson.M{
		"_id":       "orders/o1/history/h1",
		parentField: "orders/o1",
		"status":    "pending",
	}, doc)

	back := toDocument(loc, doc)
	assert.Equal(t, "h1", back.ID)
	assert.Equal(t, map[string]interface{}{"status": "pending"}, back.Data)
}
