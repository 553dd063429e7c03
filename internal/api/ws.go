package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/krishx06/SKAG-MedTech/internal/shared/events"
	"github.com/krishx06/SKAG-MedTech/internal/shared/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	clientBuffer   = 32
	hubSubscriber  = "websocket-hub"
	maxMessageSize = 512
)

// FeedMessage is what feed clients receive for every broadcast event
type FeedMessage struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Hub fans bus events out to connected WebSocket clients. Slow clients are
// disconnected rather than allowed to stall the broadcast.
type Hub struct {
	bus      *events.Bus
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan FeedMessage
}

// NewHub creates a hub. Call Subscribe to attach it to the bus.
func NewHub(bus *events.Bus, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Subscribe registers the hub for the event kinds the dashboard cares about
func (h *Hub) Subscribe() {
	h.bus.Subscribe(events.KindDecisionMade, hubSubscriber, 3, h.handleEvent)
	h.bus.Subscribe(events.KindDecisionExecuted, hubSubscriber, 3, h.handleEvent)
	h.bus.Subscribe(events.KindCapacityUpdate, hubSubscriber, 2, h.handleEvent)
	h.bus.Subscribe(events.KindSystemAlert, hubSubscriber, 3, h.handleEvent)
}

func (h *Hub) handleEvent(ctx context.Context, event events.Event) error {
	msg := FeedMessage{
		Kind:      string(event.Kind),
		Timestamp: event.Timestamp,
		Payload:   event.Payload,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// client cannot keep up, drop it
			h.removeLocked(c)
		}
	}
	return nil
}

// ServeWS upgrades the connection and streams feed messages until the
// client disconnects
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan FeedMessage, clientBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	metrics.RecordWebsocketClients(count)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		// clients only listen, reads exist to process control frames
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Warn("failed to marshal feed message", zap.Error(err))
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

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.RecordWebsocketClients(len(h.clients))
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all clients and detaches the hub from the bus
func (h *Hub) Close() {
	for _, kind := range []events.Kind{
		events.KindDecisionMade, events.KindDecisionExecuted,
		events.KindCapacityUpdate, events.KindSystemAlert,
	} {
		h.bus.Unsubscribe(kind, hubSubscriber)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
		h.removeLocked(c)
	}
}
