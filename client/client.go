// Package client implements the streaming reconciliation engine: the state
// machine that turns user actions into chat requests and inbound transport
// frames into ledger mutations. A single stream may be active at a time,
// across all sessions.
package client

import (
	"strings"
	"sync"

	"github.com/calder/wirechat/internal/debug"
	"github.com/calder/wirechat/protocol"
	"github.com/calder/wirechat/session"
	"github.com/calder/wirechat/store"
)

// Transport is the capability the engine needs from the connection layer.
type Transport interface {
	Ready() bool
	Send(frame *protocol.Frame) error
}

// target addresses the in-flight stream. The message is pinned by ID, so a
// purge that shifts slot indices mid-stream cannot redirect deltas; the
// assistant/version index pair is what travels on the wire.
type target struct {
	sessionID      string
	messageID      string
	assistantIndex int
	versionIndex   int
}

// Client is the engine. All state transitions run to completion under one
// lock, in the order transport events, purge timers and user actions arrive.
type Client struct {
	store     *session.Store
	kv        store.KV
	transport Transport

	mu        sync.Mutex
	models    []string
	model     string
	streaming bool
	inflight  *target
	onChange  func()
}

// New wires the engine to its session store, preference storage and
// transport.
func New(sessionStore *session.Store, kv store.KV, transport Transport) *Client {
	return &Client{
		store:     sessionStore,
		kv:        kv,
		transport: transport,
	}
}

// Store exposes the session store to the rendering layer.
func (c *Client) Store() *session.Store {
	return c.store
}

// OnChange registers a callback invoked whenever inbound events mutate state
// the rendering layer should reflect.
func (c *Client) OnChange(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
	c.store.OnChange(fn)
}

func (c *Client) notify() {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Streaming reports whether a stream is active.
func (c *Client) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming
}

// Models returns the identifiers last offered by the backend.
func (c *Client) Models() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.models...)
}

// Model returns the selected model identifier, "" when none.
func (c *Client) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// SelectModel picks a model from the offered set and persists the preference.
func (c *Client) SelectModel(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, model := range c.models {
		if model == name {
			c.model = name
			c.persistModel()
			return true
		}
	}
	return false
}

// persistModel writes the preference. Callers hold the lock.
func (c *Client) persistModel() {
	if err := c.kv.Set(store.KeyModel, []byte(c.model)); err != nil {
		debug.GetLogger().Error("persisting model preference", "error", err)
	}
}

// HealthCheck requests a liveness acknowledgement.
func (c *Client) HealthCheck() Outcome {
	if !c.transport.Ready() {
		return NotConnected
	}
	_ = c.transport.Send(protocol.HealthRequest())
	return Dispatched
}

// Send appends the user's text and an assistant placeholder to the addressed
// session, then dispatches a generation targeting the placeholder.
func (c *Client) Send(sessionID, text string) Outcome {
	if strings.TrimSpace(text) == "" {
		return EmptyInput
	}
	if outcome := c.precondition(); outcome != Dispatched {
		return outcome
	}

	if _, _, err := c.store.AppendUserMessage(sessionID, text); err != nil {
		debug.GetLogger().Error("appending user message", "error", err)
	}
	messageID, slot, err := c.store.AppendAssistantPlaceholder(sessionID)
	if err != nil {
		debug.GetLogger().Error("appending placeholder", "error", err)
	}
	if messageID == "" {
		return InvalidTarget
	}
	return c.dispatch(sessionID, messageID, slot, 0)
}

// Regenerate adds a fresh version to an assistant message and streams into it.
// The prior versions stay selectable.
func (c *Client) Regenerate(sessionID, messageID string) Outcome {
	if outcome := c.precondition(); outcome != Dispatched {
		return outcome
	}
	if c.store.Role(sessionID, messageID) != session.RoleAssistant {
		return InvalidTarget
	}
	versionIndex, err := c.store.AddVersion(sessionID, messageID)
	if err != nil {
		debug.GetLogger().Error("adding version", "error", err)
	}
	if versionIndex < 0 {
		return InvalidTarget
	}
	return c.dispatch(sessionID, messageID, c.store.IndexOf(sessionID, messageID), versionIndex)
}

// Continue streams onto the existing selected version of an assistant
// message; deltas append to its prior content.
func (c *Client) Continue(sessionID, messageID string) Outcome {
	if outcome := c.precondition(); outcome != Dispatched {
		return outcome
	}
	versionIndex := c.store.CurrentVersion(sessionID, messageID)
	if versionIndex < 0 {
		return InvalidTarget
	}
	return c.dispatch(sessionID, messageID, c.store.IndexOf(sessionID, messageID), versionIndex)
}

// Stop requests cancellation of the active stream. Advisory: the engine stays
// Streaming until the backend confirms or the connection drops.
func (c *Client) Stop() Outcome {
	c.mu.Lock()
	streaming := c.streaming
	c.mu.Unlock()
	if !streaming {
		return InvalidTarget
	}
	if !c.transport.Ready() {
		return NotConnected
	}
	_ = c.transport.Send(protocol.StopRequest())
	return Dispatched
}

// precondition gates every dispatch path.
func (c *Client) precondition() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streaming {
		return AlreadyStreaming
	}
	if !c.transport.Ready() {
		return NotConnected
	}
	if c.model == "" {
		return NoModelSelected
	}
	return Dispatched
}

// dispatch projects the session history and transmits the chat request.
func (c *Client) dispatch(sessionID, messageID string, assistantIndex, versionIndex int) Outcome {
	if assistantIndex < 0 {
		return InvalidTarget
	}
	history := c.store.Project(sessionID)

	c.mu.Lock()
	if c.streaming {
		c.mu.Unlock()
		return AlreadyStreaming
	}
	frame := protocol.ChatRequest(history, c.model, assistantIndex, versionIndex)
	if err := c.transport.Send(frame); err != nil {
		c.mu.Unlock()
		return NotConnected
	}
	c.streaming = true
	c.inflight = &target{
		sessionID:      sessionID,
		messageID:      messageID,
		assistantIndex: assistantIndex,
		versionIndex:   versionIndex,
	}
	c.mu.Unlock()
	return Dispatched
}
