package store

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/circuitbreaker"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type lazyDate struct{ t time.Time }

func (l lazyDate) ToDate() time.Time { return l.t }

func TestNormalize(t *testing.T) {
	at := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)

	raw := map[string]interface{}{
		"created_at": Timestamp{Seconds: at.Unix()},
		"updated_at": lazyDate{t: at},
		"mongo_at":   primitive.NewDateTimeFromTime(at),
		"export_at":  map[string]interface{}{"_seconds": float64(at.Unix()), "_nanoseconds": float64(0)},
		"dropped":    Missing,
		"undefined":  primitive.Undefined{},
		"customer": primitive.D{
			{Key: "name", Value: "Kofi"},
			{Key: "seen_at", Value: Timestamp{Seconds: at.Unix()}},
		},
		"tags":   primitive.A{"a", Missing, lazyDate{t: at}},
		"status": "pending",
		"total":  12.5,
	}

	rec := Normalize(raw)
	assert.Equal(t, at, rec["created_at"])
	assert.Equal(t, at, rec["updated_at"])
	assert.Equal(t, at, rec["mongo_at"])
	assert.Equal(t, at, rec["export_at"])
	assert.NotContains(t, rec, "dropped")
	assert.NotContains(t, rec, "undefined")
	assert.Equal(t, map[string]interface{}{"name": "Kofi", "seen_at": at}, rec["customer"])
	assert.Equal(t, []interface{}{"a", at}, rec["tags"])
	assert.Equal(t, "pending", rec["status"])
	assert.Equal(t, 12.5, rec["total"])
}

func TestNormalizeIsIdempotent(t *testing.T) {
	raw := map[string]interface{}{
		"created_at": Timestamp{Seconds: 1700000000, Nanoseconds: 42},
		"nested":     map[string]interface{}{"x": []interface{}{1, "two"}},
	}
	once := Normalize(raw)
	twice := Normalize(once)
	assert.Equal(t, once, twice)
}

func TestNormalizeDocument(t *testing.T) {
	rec := NormalizeDocument(Document{ID: "o1", Data: map[string]interface{}{"_id": "x", "status": "pending"}})
	assert.Equal(t, Record{"id": "o1", "status": "pending"}, rec)
}

func TestRecordAccessors(t *testing.T) {
	rec := Record{
		"name":  "Kofi",
		"total": int64(4),
		"at":    "2024-01-01T00:00:00Z",
		"none":  nil,
	}
	s, ok := rec.String("name")
	assert.True(t, ok)
	assert.Equal(t, "Kofi", s)

	f, ok := rec.Float("total")
	assert.True(t, ok)
	assert.Equal(t, 4.0, f)

	at, ok := rec.Time("at")
	assert.True(t, ok)
	assert.Equal(t, 2024, at.Year())

	assert.False(t, rec.Has("none"))
	assert.False(t, rec.Has("absent"))
}

func TestCompare(t *testing.T) {
	a := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		a, b    interface{}
		want    int
		wantErr bool
	}{
		{"mixed numbers", int64(2), 2.0, 0, false},
		{"numbers", 1, 2, -1, false},
		{"strings", "b", "a", 1, false},
		{"times", a, a.Add(time.Second), -1, false},
		{"bools", true, false, 1, false},
		{"nils", nil, nil, 0, false},
		{"mismatch", "a", 1, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compare(tt.a, tt.b)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.True(t, Matches(5, OpGreaterOrEqual, 5))
	assert.False(t, Matches("a", OpEqual, 1))
}

func TestSplitPath(t *testing.T) {
	collection, id, err := SplitPath("orders/o1/items/i1")
	require.NoError(t, err)
	assert.Equal(t, "orders/o1/items", collection)
	assert.Equal(t, "i1", id)

	for _, bad := range []string{"", "orders", "orders//x", "orders/o1/items"} {
		_, _, err := SplitPath(bad)
		assert.ErrorIs(t, err, ErrInvalidPath, bad)
	}

	name, parent, err := SplitCollection("orders/o1/history")
	require.NoError(t, err)
	assert.Equal(t, "history", name)
	assert.Equal(t, "orders/o1", parent)
}

// scriptedStore fails every call with err.
type scriptedStore struct {
	Store
	err   error
	delay time.Duration
}

func (s *scriptedStore) Get(ctx context.Context, path string) (Document, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Document{}, ctx.Err()
		}
	}
	return Document{ID: "x"}, s.err
}

func newGuarded(next Store, timeout time.Duration) *Guarded {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cb := circuitbreaker.New(circuitbreaker.Config{Name: "store", MaxFailures: 2, OpenTimeout: time.Minute}, logger)
	return NewGuarded(next, cb, timeout, logger)
}

func TestGuardedPassesOutcomes(t *testing.T) {
	g := newGuarded(&scriptedStore{err: ErrNotFound}, time.Second)
	for i := 0; i < 5; i++ {
		_, err := g.Get(context.Background(), "orders/x")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NotErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, circuitbreaker.StateClosed, g.breaker.State())
}

func TestGuardedWrapsFailuresAndTrips(t *testing.T) {
	g := newGuarded(&scriptedStore{err: errors.New("connection reset")}, time.Second)

	_, err := g.Get(context.Background(), "orders/x")
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = g.Get(context.Background(), "orders/x")
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.Equal(t, circuitbreaker.StateOpen, g.breaker.State())
	_, err = g.Get(context.Background(), "orders/x")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitBreakerOpen)
}

func TestGuardedAppliesDeadline(t *testing.T) {
	g := newGuarded(&scriptedStore{delay: time.Second}, 20*time.Millisecond)
	start := time.Now()
	_, err := g.Get(context.Background(), "orders/x")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
