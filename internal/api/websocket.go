package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/ksedatech/perp-sentinel/internal/events"
	"github.com/ksedatech/perp-sentinel/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// topicFor maps an internal bus event to the push-channel topic names the
// dashboard speaks, per the event push channel's enumerated topic list.
func topicFor(t events.Type) string {
	switch t {
	case events.BalanceUpdate, events.TickCompleted:
		return "stats:update"
	case events.PositionUpdate:
		return "positions:update"
	case events.TradeOpened:
		return "trade:new"
	case events.TradeClosed:
		return "trade:closed"
	case events.SignalGenerated, events.FilterVetoed:
		return "decision:new"
	case events.RegimeChanged:
		return "market:update"
	case events.BacktestProgress:
		return "backtest:progress"
	case events.BacktestStatus:
		return "backtest:status"
	case events.BacktestComplete:
		return "backtest:complete"
	default:
		return "system:update"
	}
}

// wsClient holds one connected dashboard socket. Outbound delivery
// coalesces per topic: if the writer hasn't drained a topic's previous
// message yet, a newer one on the same topic overwrites it instead of
// queuing, so a slow client only ever misses intermediate updates, never
// falls behind forever.
type wsClient struct {
	conn *websocket.Conn
	hub  *Hub

	mu      sync.Mutex
	pending map[string][]byte
	notify  chan struct{}
	done    chan struct{}
}

func (c *wsClient) enqueue(topic string, payload []byte) {
	c.mu.Lock()
	c.pending[topic] = payload
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *wsClient) writePump() {
	defer func() {
		c.conn.Close()
		c.hub.unregister(c)
	}()
	for {
		select {
		case <-c.done:
			return
		case <-c.notify:
			c.mu.Lock()
			batch := c.pending
			c.pending = make(map[string][]byte)
			c.mu.Unlock()

			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			for topic, payload := range batch {
				envelope, _ := json.Marshal(map[string]json.RawMessage{
					"topic": mustJSON(topic),
					"data":  payload,
				})
				if err := c.conn.WriteMessage(websocket.TextMessage, envelope); err != nil {
					return
				}
			}
		}
	}
}

func (c *wsClient) readPump() {
	defer close(c.done)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func mustJSON(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// Hub fans out bus events to every connected dashboard socket.
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool
	logger  *logging.Logger
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*wsClient]bool), logger: logging.WithComponent("websocket")}
}

// Attach subscribes the hub to bus so every published event reaches every
// connected client, coalesced per topic.
func (h *Hub) Attach(bus *events.Bus) {
	bus.SubscribeAll(func(ev events.Event) {
		payload, err := json.Marshal(ev)
		if err != nil {
			return
		}
		topic := topicFor(ev.Type)

		h.mu.RLock()
		defer h.mu.RUnlock()
		for c := range h.clients {
			c.enqueue(topic, payload)
		}
	})
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWS upgrades the connection and spins up the client's read/write
// pumps; ws connections bypass the JWT middleware (browsers can't set
// custom headers on the handshake) and instead expect a ?token= query
// param, validated here before the upgrade when auth is enabled.
func (s *Server) handleWS(c *gin.Context) {
	if s.cfg.AuthEnabled {
		_, err := jwt.ParseWithClaims(c.Query("token"), &operatorClaims{}, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(s.cfg.JWTSecret), nil
		})
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &wsClient{
		conn:    conn,
		hub:     s.hub,
		pending: make(map[string][]byte),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	s.hub.register(client)

	go client.writePump()
	client.readPump()
}
