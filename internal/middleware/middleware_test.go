package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/tenant"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/pkg/models"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	business *models.Business
	err      error
}

func (f fakeResolver) Resolve(context.Context, string) (*models.Business, error) {
	return f.business, f.err
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func captureIdentity(actor, tenantID *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*actor = tenant.ActorID(r.Context())
		*tenantID = tenant.TenantID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestIdentity(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		resolver   fakeResolver
		wantCode   int
		wantTenant string
	}{
		{"resolved", "u1", fakeResolver{business: &models.Business{ID: "b1"}}, http.StatusNoContent, "b1"},
		{"no business", "u1", fakeResolver{err: tenant.ErrNoBusiness}, http.StatusNoContent, ""},
		{"missing header", "", fakeResolver{}, http.StatusUnauthorized, ""},
		{"resolver down", "u1", fakeResolver{err: errors.New("boom")}, http.StatusServiceUnavailable, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var actor, tenantID string
			h := Identity(tt.resolver, quietLogger())(captureIdentity(&actor, &tenantID))

			req := httptest.NewRequest(http.MethodGet, "/orders", nil)
			if tt.header != "" {
				req.Header.Set(ActorHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantTenant, tenantID)
			if tt.wantCode == http.StatusNoContent {
				assert.Equal(t, tt.header, actor)
			} else {
				assert.JSONEq(t, `{"success":false,"message":"`+messageFor(tt.wantCode)+`"}`, rec.Body.String())
			}
		})
	}
}

func messageFor(code int) string {
	if code == http.StatusUnauthorized {
		return "Missing actor identity"
	}
	return "Failed to resolve business"
}

func TestCORSPreflight(t *testing.T) {
	called := false
	h := CORS()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/orders/1/status", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), ActorHeader)
}

func TestRecover(t *testing.T) {
	h := Recover(quietLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("nil map")
	}))

	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() { h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil)) })
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLoggingKeepsStatus(t *testing.T) {
	h := Logging(quietLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestLoggingAllowsWebSocketUpgrade(t *testing.T) {
	logger, hook := test.NewNullLogger()
	upgrader := websocket.Upgrader{}

	router := mux.NewRouter()
	router.Use(Logging(logger))
	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte("hello"))
	})
	server := httptest.NewServer(router)
	defer server.Close()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.Eventually(t, func() bool {
		for _, entry := range hook.AllEntries() {
			if entry.Message == "Connection upgraded" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestLoggingPassesFlushThrough(t *testing.T) {
	h := Logging(quietLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("chunk"))
		require.NoError(t, http.NewResponseController(w).Flush())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, rec.Flushed)
}
