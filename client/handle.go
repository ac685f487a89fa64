package client

import (
	"github.com/calder/wirechat/internal/debug"
	"github.com/calder/wirechat/protocol"
	"github.com/calder/wirechat/store"
)

// HandleConnect runs on every connection establishment: the models capability
// exchange is requested afresh.
func (c *Client) HandleConnect() {
	_ = c.transport.Send(protocol.ModelsRequest())
	c.notify()
}

// HandleDisconnect runs when the transport drops. No terminal event will
// follow for an active stream, so it is abandoned: the engine falls back to
// Idle and whatever partial content arrived is kept.
func (c *Client) HandleDisconnect() {
	c.mu.Lock()
	wasStreaming := c.streaming
	c.streaming = false
	c.inflight = nil
	c.mu.Unlock()
	if wasStreaming {
		if err := c.store.Persist(); err != nil {
			debug.GetLogger().Error("persisting after disconnect", "error", err)
		}
	}
	c.notify()
}

// HandleFrame applies one inbound frame. Unknown types and stale addressing
// are dropped without state change.
func (c *Client) HandleFrame(frame *protocol.Frame) {
	switch frame.Type {
	case protocol.TypeModels:
		c.handleModels(frame.Models)
	case protocol.TypeHealth:
		debug.GetLogger().Debug("health acknowledged")
	case protocol.TypeDelta:
		c.handleDelta(frame)
	case protocol.TypeDone, protocol.TypeStopped:
		c.handleTerminal()
	default:
		debug.GetLogger().Debug("ignoring frame", "type", frame.Type)
		return
	}
	c.notify()
}

// handleModels applies the capability exchange: restore the persisted
// preference when still offered, fall back to the first offered model
// otherwise.
func (c *Client) handleModels(models []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models = append([]string(nil), models...)
	if len(models) == 0 {
		c.model = ""
		return
	}

	preferred := c.model
	if preferred == "" {
		if data, ok, err := c.kv.Get(store.KeyModel); err == nil && ok {
			preferred = string(data)
		}
	}
	c.model = models[0]
	for _, model := range models {
		if model == preferred {
			c.model = preferred
			break
		}
	}
	c.persistModel()
}

// handleDelta routes a fragment to the in-flight target. The wire indices
// must match the ones the request was dispatched with; the actual write is
// addressed by message ID, so index shifts caused by a purge cannot land the
// fragment on the wrong message.
func (c *Client) handleDelta(frame *protocol.Frame) {
	c.mu.Lock()
	if !c.streaming || c.inflight == nil ||
		frame.AssistantIndex != c.inflight.assistantIndex ||
		frame.VersionIndex != c.inflight.versionIndex {
		c.mu.Unlock()
		return
	}
	inflight := *c.inflight
	c.mu.Unlock()

	if err := c.store.AppendDelta(inflight.sessionID, inflight.messageID, inflight.versionIndex, frame.Delta); err != nil {
		debug.GetLogger().Error("appending delta", "error", err)
	}
}

// handleTerminal ends the active stream; streamed content is retained as-is
// for both done and stopped.
func (c *Client) handleTerminal() {
	c.mu.Lock()
	wasStreaming := c.streaming
	c.streaming = false
	c.inflight = nil
	c.mu.Unlock()
	if !wasStreaming {
		return
	}
	if err := c.store.Persist(); err != nil {
		debug.GetLogger().Error("persisting after stream", "error", err)
	}
}
