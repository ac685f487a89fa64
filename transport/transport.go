// Package transport maintains the persistent WebSocket connection to the
// backend: JSON frame send/receive and automatic reconnection with a fixed
// delay. A dropped connection mid-stream simply ends the stream; there is no
// resume.
package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/calder/wirechat/internal/debug"
	"github.com/calder/wirechat/protocol"
)

// DefaultReconnectDelay between connection attempts.
const DefaultReconnectDelay = 1500 * time.Millisecond

// Handler receives connection lifecycle events and inbound frames, in arrival
// order, from a single goroutine.
type Handler interface {
	HandleConnect()
	HandleDisconnect()
	HandleFrame(*protocol.Frame)
}

// Conn is a self-healing connection.
type Conn struct {
	url            string
	reconnectDelay time.Duration

	mu    sync.Mutex
	ws    *websocket.Conn
	ready bool

	closed chan struct{}
	once   sync.Once
}

// Option configures a Conn.
type Option func(*Conn)

// WithReconnectDelay overrides the fixed reconnection delay.
func WithReconnectDelay(delay time.Duration) Option {
	return func(c *Conn) { c.reconnectDelay = delay }
}

// New returns a connection for the given ws:// or wss:// URL. Nothing is
// dialed until Start.
func New(url string, options ...Option) *Conn {
	c := &Conn{
		url:            url,
		reconnectDelay: DefaultReconnectDelay,
		closed:         make(chan struct{}),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Start launches the dial/read loop. Events are delivered to the handler
// until Close.
func (c *Conn) Start(handler Handler) {
	go c.run(handler)
}

func (c *Conn) run(handler Handler) {
	for {
		select {
		case <-c.closed:
			return
		default:
		}

		ws, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			debug.GetLogger().Debug("dialing", "url", c.url, "error", err)
			if !c.sleep() {
				return
			}
			continue
		}

		c.mu.Lock()
		c.ws = ws
		c.ready = true
		c.mu.Unlock()
		handler.HandleConnect()

		c.readLoop(ws, handler)

		c.mu.Lock()
		c.ready = false
		c.ws = nil
		c.mu.Unlock()
		_ = ws.Close()
		handler.HandleDisconnect()

		if !c.sleep() {
			return
		}
	}
}

// readLoop pumps frames until the connection errors. Undecodable frames are
// dropped.
func (c *Conn) readLoop(ws *websocket.Conn, handler Handler) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			debug.GetLogger().Debug("reading frame", "error", err)
			return
		}
		frame, err := protocol.Decode(data)
		if err != nil {
			debug.GetLogger().Debug("dropping frame", "error", err)
			continue
		}
		handler.HandleFrame(frame)
	}
}

// sleep waits out the reconnect delay; false means the Conn was closed.
func (c *Conn) sleep() bool {
	select {
	case <-c.closed:
		return false
	case <-time.After(c.reconnectDelay):
		return true
	}
}

// Ready reports whether the connection is established.
func (c *Conn) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Send transmits one frame. Fails when disconnected; the caller treats that
// as a precondition violation, not a fatal error.
func (c *Conn) Send(frame *protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready || c.ws == nil {
		return errors.New("not connected")
	}
	return errors.Wrap(c.ws.WriteJSON(frame), "writing frame")
}

// Close tears the connection down for good.
func (c *Conn) Close() {
	c.once.Do(func() { close(c.closed) })
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws != nil {
		_ = c.ws.Close()
	}
}
