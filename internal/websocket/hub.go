// Package websocket pushes live order events to connected dashboards, scoped
// to the tenant each connection belongs to.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/events"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/tenant"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	MessageStatusChanged = "order_status_changed"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
	sendBuffer     = 256
)

// Message is what dashboards receive.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
	Source    string      `json:"source"`
}

type envelope struct {
	tenantID string
	message  Message
}

type Client struct {
	conn     *websocket.Conn
	send     chan Message
	hub      *Hub
	tenantID string
	logger   *logrus.Logger
}

type Hub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mutex      sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *logrus.Logger
}

// NewHub accepts connections from allowedOrigins, or from any origin when
// the list is empty.
func NewHub(allowedOrigins []string, logger *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.WithFields(logrus.Fields{
				"business_id":  client.tenantID,
				"client_count": count,
			}).Info("Client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.WithField("client_count", count).Info("Client disconnected")

		case env := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				if client.tenantID != env.tenantID {
					continue
				}
				select {
				case client.send <- env.message:
				default:
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mutex.Unlock()

		case <-ctx.Done():
			close(h.done)
			h.mutex.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
			return
		}
	}
}

// Broadcast queues a message for the tenant's connections. It never blocks;
// when the queue is full the message is dropped.
func (h *Hub) Broadcast(tenantID, messageType string, data interface{}, source string) {
	if tenantID == "" {
		return
	}
	message := Message{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Source:    source,
	}

	select {
	case h.broadcast <- envelope{tenantID: tenantID, message: message}:
	default:
		h.logger.Warn("Broadcast channel full, dropping message")
	}
}

// HandleStatusChanged relays a status change consumed from Kafka.
func (h *Hub) HandleStatusChanged(_ context.Context, event events.OrderStatusChangedEvent) error {
	h.Broadcast(event.BusinessID, MessageStatusChanged, event, "kafka")
	return nil
}

// PublishStatusChanged lets the hub stand in for the event bus when a single
// process serves every dashboard.
func (h *Hub) PublishStatusChanged(_ context.Context, event events.OrderStatusChangedEvent) error {
	if event.EventTime.IsZero() {
		event.EventTime = time.Now().UTC()
	}
	h.Broadcast(event.BusinessID, MessageStatusChanged, event, "local")
	return nil
}

// HandleWebSocket upgrades the request. The tenant comes from the identity
// middleware; actors without a business are refused.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	tenantID := tenant.TenantID(r.Context())
	if tenantID == "" {
		http.Error(w, "no business for this account", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	client := &Client{
		conn:     conn,
		send:     make(chan Message, sendBuffer),
		hub:      h,
		tenantID: tenantID,
		logger:   h.logger,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("WebSocket error")
			}
			break
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				c.logger.WithError(err).Error("Failed to marshal WebSocket message")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
