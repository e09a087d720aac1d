package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cylinderworks/cylinderworks/internal/core/observability/log"
	"github.com/cylinderworks/cylinderworks/internal/core/systems/drive"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

const (
	maxControlMessageSize = 4096
	pongWait              = 60 * time.Second
	pingPeriod            = pongWait * 9 / 10
)

// Control actions accepted on /ws.
const (
	ActionControls = "controls"
	ActionTestRPM  = "test_rpm"
	ActionReset    = "reset"
)

// ControlMessage represents a control message structure
type ControlMessage struct {
	Action   string               `json:"action"`
	Controls *drive.ControlInputs `json:"controls,omitempty"`
	RPM      float64              `json:"rpm,omitempty"`
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans frames out to websocket clients. A client that cannot keep up
// loses frames rather than stalling the loop.
type Hub struct {
	logger       log.Log
	engine       *Engine
	maxClients   int
	sendBuffer   int
	writeTimeout time.Duration

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
	wg      sync.WaitGroup

	dropped atomic.Uint64
}

func NewHub(engine *Engine, maxClients, sendBuffer int, writeTimeout time.Duration, logger log.Log) *Hub {
	if sendBuffer < 1 {
		sendBuffer = 1
	}
	return &Hub{
		logger:       logger.With(log.String("component", "websocket")),
		engine:       engine,
		maxClients:   maxClients,
		sendBuffer:   sendBuffer,
		writeTimeout: writeTimeout,
		clients:      make(map[*wsClient]struct{}),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	full := len(h.clients) >= h.maxClients
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, ErrServerClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	if full {
		h.logger.Warn("Maximum clients reached, rejecting connection",
			log.String("remote_addr", r.RemoteAddr))
		http.Error(w, ErrMaxClientsReached.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", log.Error(err))
		return
	}

	scene, err := json.Marshal(h.engine.Scene())
	if err != nil {
		_ = conn.Close()
		return
	}
	c := &wsClient{id: uuid.NewString(), conn: conn, send: make(chan []byte, h.sendBuffer)}
	// The scene always precedes the first frame.
	c.send <- scene

	if !h.add(c) {
		_ = conn.Close()
		return
	}
	h.logger.Info("Client connected",
		log.String("client_id", c.id),
		log.String("remote_addr", r.RemoteAddr))

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) add(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.wg.Add(2)
	return true
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.close()
		h.logger.Info("Client disconnected", log.String("client_id", c.id))
	}
}

// Broadcast queues data for every client.
func (h *Hub) Broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close disconnects every client and waits for their pumps to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c)
	}
	h.wg.Wait()
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		h.wg.Done()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("Failed to write frame", log.String("client_id", c.id), log.Error(err))
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.remove(c)
		h.wg.Done()
	}()

	c.conn.SetReadLimit(maxControlMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	clientLogger := h.logger.With(log.String("client_id", c.id))
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				clientLogger.Debug("Read failed", log.Error(err))
			}
			return
		}
		if err = h.handleControlMessage(data); err != nil {
			clientLogger.Warn("Rejected control message", log.Error(err))
		}
	}
}

// handleControlMessage processes control messages
func (h *Hub) handleControlMessage(data []byte) error {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ErrInvalidMessage
	}

	driver := h.engine.Driver()
	switch msg.Action {
	case ActionControls:
		if msg.Controls == nil {
			return ErrInvalidMessage
		}
		driver.SetInputs(*msg.Controls)
	case ActionTestRPM:
		driver.SetTestRPM(msg.RPM)
	case ActionReset:
		return driver.Reset()
	default:
		return ErrInvalidMessage
	}
	return nil
}
