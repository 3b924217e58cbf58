package tenant

import (
	"context"
	"io"
	"testing"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/cache"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/store"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/store/memstore"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolver(t *testing.T, businesses map[string]string) (*Resolver, *memstore.Store) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s := memstore.New()
	for id, owner := range businesses {
		require.NoError(t, s.Set(context.Background(), store.Doc(BusinessesCollection, id), map[string]interface{}{
			"owner_id": owner,
			"name":     "Shop " + id,
		}))
	}
	return NewResolver(s, cache.NewMemory(), logger), s
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		actorID string
		wantID  string
		wantErr error
	}{
		{"owner", "owner-1", "biz-1", nil},
		{"owner without business", "owner-9", "", ErrNoBusiness},
		{"empty actor", "", "", ErrNoBusiness},
		{"several businesses picks lowest id", "owner-2", "biz-2a", nil},
	}

	r, _ := newResolver(t, map[string]string{
		"biz-1":  "owner-1",
		"biz-2b": "owner-2",
		"biz-2a": "owner-2",
	})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := r.Resolve(context.Background(), tt.actorID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, b.ID)
			assert.Equal(t, tt.actorID, b.OwnerID)
		})
	}
}

func TestResolveUsesCache(t *testing.T) {
	r, s := newResolver(t, map[string]string{"biz-1": "owner-1"})

	_, err := r.Resolve(context.Background(), "owner-1")
	require.NoError(t, err)

	s.SetFault(func(memstore.Op, string) error { return memstore.ErrInjected })
	b, err := r.Resolve(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "biz-1", b.ID)

	_, err = r.Resolve(context.Background(), "owner-2")
	assert.ErrorIs(t, err, memstore.ErrInjected)
}

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ActorID(ctx))
	assert.Empty(t, TenantID(ctx))

	ctx = WithIdentity(ctx, "owner-1", "biz-1")
	assert.Equal(t, "owner-1", ActorID(ctx))
	assert.Equal(t, "biz-1", TenantID(ctx))
}
