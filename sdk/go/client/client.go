// Package client subscribes to the QUIC pose stream of a cylinderworks server.
package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/cylinderworks/cylinderworks/internal/core/observability/log"
	"github.com/cylinderworks/cylinderworks/internal/server"
)

// Client holds one QUIC session to a pose server.
type Client struct {
	// Connection management
	conn *quic.Conn

	// Latest state received from the server
	stateMu sync.RWMutex
	scene   server.Scene
	latest  server.Frame
	frames  atomic.Uint64

	// Handlers
	sceneHandlers []SceneHandler
	frameHandlers []FrameHandler
	eventHandlers map[EventType][]EventHandler
	handlerMutex  sync.RWMutex

	// Lifecycle
	connected atomic.Bool
	closed    atomic.Bool
	done      chan struct{}

	config Config
	logger log.Log

	workerGroup sync.WaitGroup
}

// Config holds configuration for the client
type Config struct {
	ServerAddr     string
	ConnectTimeout time.Duration
	// InsecureSkipVerify accepts the self-signed certificate a server
	// generates when it has none configured.
	InsecureSkipVerify bool
	Logger             log.Log
}

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() Config {
	return Config{
		ServerAddr:     "localhost:8443",
		ConnectTimeout: 10 * time.Second,
	}
}

// SceneHandler receives every scene message, including the first one.
type SceneHandler func(scene server.Scene) error

// FrameHandler receives frames in stream order.
type FrameHandler func(frame server.Frame) error

// EventHandler defines a function type for handling client events
type EventHandler func(event Event) error

// EventType represents different types of client events
type EventType string

const (
	EventTypeConnected    EventType = "connected"
	EventTypeDisconnected EventType = "disconnected"
	EventTypeError        EventType = "error"
)

// Event represents a client event
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]any
	Error     error
}

// NewClient creates a new pose stream client
func NewClient(config Config) *Client {
	logger := config.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultClientConfig().ConnectTimeout
	}
	return &Client{
		eventHandlers: make(map[EventType][]EventHandler),
		done:          make(chan struct{}),
		config:        config,
		logger:        logger.With(log.String("component", "client")),
	}
}

// Connect dials the server and starts receiving. It returns once the stream
// is open; the scene arrives asynchronously.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if c.config.ServerAddr == "" {
		return ErrInvalidConfig
	}
	if !c.connected.CompareAndSwap(false, true) {
		return ErrAlreadyConnected
	}

	c.logger.Info("Connecting to server", log.String("addr", c.config.ServerAddr))

	connectCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	tlsConfig := &tls.Config{
		InsecureSkipVerify: c.config.InsecureSkipVerify, //nolint:gosec // opt-in for self-signed servers
		NextProtos:         []string{server.NextProto},
	}
	conn, err := quic.DialAddr(connectCtx, c.config.ServerAddr, tlsConfig, nil)
	if err != nil {
		c.connected.Store(false)
		c.logger.Error("Failed to connect to server", log.String("addr", c.config.ServerAddr), log.Error(err))
		return err
	}
	stream, err := conn.AcceptUniStream(connectCtx)
	if err != nil {
		c.connected.Store(false)
		_ = conn.CloseWithError(0, "")
		return fmt.Errorf("accept pose stream: %w", err)
	}
	c.conn = conn

	c.workerGroup.Add(1)
	go func() {
		defer c.workerGroup.Done()
		c.messageReceiver(stream)
	}()

	c.emitEvent(Event{
		Type:      EventTypeConnected,
		Timestamp: time.Now(),
		Data: map[string]any{
			"server_addr": c.config.ServerAddr,
			"local_addr":  conn.LocalAddr().String(),
		},
	})
	c.logger.Info("Connected to server", log.String("remote_addr", conn.RemoteAddr().String()))
	return nil
}

// Disconnect closes the session to the server
func (c *Client) Disconnect() error {
	if !c.connected.CompareAndSwap(true, false) {
		return ErrNotConnected
	}
	c.logger.Info("Disconnecting from server")

	err := c.conn.CloseWithError(0, "")
	c.workerGroup.Wait()

	c.emitEvent(Event{Type: EventTypeDisconnected, Timestamp: time.Now()})
	return err
}

// Close closes the client and releases all resources
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.connected.Load() {
		_ = c.Disconnect()
	}
	close(c.done)
	return nil
}

// Done is closed when the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Scene returns the last scene received.
func (c *Client) Scene() server.Scene {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.scene
}

// Latest returns the last frame received.
func (c *Client) Latest() server.Frame {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.latest
}

// Frames counts frames received over the life of the client.
func (c *Client) Frames() uint64 {
	return c.frames.Load()
}

func (c *Client) OnScene(h SceneHandler) {
	c.handlerMutex.Lock()
	defer c.handlerMutex.Unlock()
	c.sceneHandlers = append(c.sceneHandlers, h)
}

func (c *Client) OnFrame(h FrameHandler) {
	c.handlerMutex.Lock()
	defer c.handlerMutex.Unlock()
	c.frameHandlers = append(c.frameHandlers, h)
}

// OnEvent registers an event handler
func (c *Client) OnEvent(eventType EventType, h EventHandler) {
	c.handlerMutex.Lock()
	defer c.handlerMutex.Unlock()
	c.eventHandlers[eventType] = append(c.eventHandlers[eventType], h)
}

// messageReceiver reads frames until the stream ends. A server-side close
// marks the client disconnected.
func (c *Client) messageReceiver(stream io.Reader) {
	c.logger.Debug("Message receiver started")
	defer c.logger.Debug("Message receiver stopped")

	for {
		data, err := server.ReadFrame(stream)
		if err != nil {
			if c.connected.CompareAndSwap(true, false) {
				c.logger.Warn("Pose stream ended", log.Error(err))
				c.emitEvent(Event{Type: EventTypeDisconnected, Timestamp: time.Now(), Error: err})
			}
			return
		}
		if err = c.handleMessage(data); err != nil {
			c.logger.Warn("Dropping message", log.Error(err))
			c.emitEvent(Event{Type: EventTypeError, Timestamp: time.Now(), Error: err})
		}
	}
}

// handleMessage dispatches on the type field. Handlers run on the receiver
// goroutine so frames keep stream order.
func (c *Client) handleMessage(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	c.handlerMutex.RLock()
	sceneHandlers, frameHandlers := c.sceneHandlers, c.frameHandlers
	c.handlerMutex.RUnlock()

	switch head.Type {
	case server.MessageTypeScene:
		var scene server.Scene
		if err := json.Unmarshal(data, &scene); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		c.stateMu.Lock()
		c.scene = scene
		c.stateMu.Unlock()
		for _, h := range sceneHandlers {
			if err := h(scene); err != nil {
				c.logger.Error("Scene handler error", log.Error(err))
			}
		}
	case server.MessageTypeFrame:
		var frame server.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		c.stateMu.Lock()
		c.latest = frame
		c.stateMu.Unlock()
		c.frames.Add(1)
		for _, h := range frameHandlers {
			if err := h(frame); err != nil {
				c.logger.Error("Frame handler error", log.Error(err))
			}
		}
	default:
		return fmt.Errorf("%w: type %q", ErrInvalidMessage, head.Type)
	}
	return nil
}

// emitEvent emits an event to registered handlers
func (c *Client) emitEvent(event Event) {
	c.handlerMutex.RLock()
	handlers := c.eventHandlers[event.Type]
	c.handlerMutex.RUnlock()

	for _, handler := range handlers {
		go func(h EventHandler) {
			if err := h(event); err != nil {
				c.logger.Error("Event handler error", log.Error(err))
			}
		}(handler)
	}
}
