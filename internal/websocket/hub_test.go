package websocket

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/events"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/middleware"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/tenant"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/pkg/models"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ownerResolver map[string]string

func (o ownerResolver) Resolve(_ context.Context, actorID string) (*models.Business, error) {
	id, ok := o[actorID]
	if !ok {
		return nil, tenant.ErrNoBusiness
	}
	return &models.Business{ID: id, OwnerID: actorID}, nil
}

// startHub serves the hub behind the same middleware chain as the admin API.
func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	hub := NewHub(nil, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	router := mux.NewRouter()
	router.Use(middleware.Recover(logger))
	router.Use(middleware.Logging(logger))
	api := router.NewRoute().Subrouter()
	api.Use(middleware.Identity(ownerResolver{"owner-1": "biz-1", "owner-2": "biz-2"}, logger))
	api.HandleFunc("/ws", hub.HandleWebSocket)

	server := httptest.NewServer(middleware.CORS()(router))
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return hub, server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func dial(t *testing.T, server *httptest.Server, actorID string) *websocket.Conn {
	t.Helper()
	header := http.Header{middleware.ActorHeader: []string{actorID}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(server), header)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBroadcastReachesOnlyTheTenant(t *testing.T) {
	hub, server := startHub(t)
	mine := dial(t, server, "owner-1")
	theirs := dial(t, server, "owner-2")
	require.Eventually(t, func() bool { return hub.GetClientCount() == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.HandleStatusChanged(context.Background(), events.OrderStatusChangedEvent{
		OrderID: "o1", BusinessID: "biz-1", Status: "completed",
	}))

	var got Message
	mine.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, mine.ReadJSON(&got))
	assert.Equal(t, MessageStatusChanged, got.Type)
	assert.Equal(t, "kafka", got.Source)
	assert.Equal(t, "o1", got.Data.(map[string]interface{})["order_id"])

	theirs.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := theirs.ReadMessage()
	assert.Error(t, err)
}

func TestPublishStatusChangedReachesDashboards(t *testing.T) {
	hub, server := startHub(t)
	conn := dial(t, server, "owner-2")
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.PublishStatusChanged(context.Background(), events.OrderStatusChangedEvent{
		OrderID: "o9", BusinessID: "biz-2", Status: "processing",
	}))

	var got Message
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "local", got.Source)
	assert.Equal(t, "o9", got.Data.(map[string]interface{})["order_id"])
}

func TestHandleWebSocketRequiresTenant(t *testing.T) {
	_, server := startHub(t)

	tests := []struct {
		name   string
		header http.Header
		want   int
	}{
		{"actor without business", http.Header{middleware.ActorHeader: []string{"owner-9"}}, http.StatusForbidden},
		{"no actor", nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(wsURL(server), tt.header)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://admin.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))

	assert.True(t, originChecker(nil)(req))
}
