package client

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calder/wirechat/protocol"
	"github.com/calder/wirechat/session"
	"github.com/calder/wirechat/store"
)

// fakeTransport records outbound frames and lets tests flip readiness.
type fakeTransport struct {
	mu     sync.Mutex
	ready  bool
	frames []*protocol.Frame
}

func (f *fakeTransport) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeTransport) Send(frame *protocol.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeTransport) sent() []*protocol.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*protocol.Frame(nil), f.frames...)
}

func (f *fakeTransport) last() *protocol.Frame {
	frames := f.sent()
	if len(frames) == 0 {
		return nil
	}
	return frames[len(frames)-1]
}

func newTestClient(t *testing.T, options ...session.Option) (*Client, *fakeTransport, store.KV) {
	t.Helper()
	kv := store.NewMemory()
	sessions, err := session.NewStore(kv, "", options...)
	require.NoError(t, err)
	t.Cleanup(sessions.Close)

	transport := &fakeTransport{ready: true}
	c := New(sessions, kv, transport)
	c.HandleFrame(&protocol.Frame{Type: protocol.TypeModels, Models: []string{"m1", "m2"}})
	return c, transport, kv
}

func TestSendStreamsIntoPlaceholder(t *testing.T) {
	c, transport, _ := newTestClient(t)
	sessionID := c.Store().ActiveID()

	require.Equal(t, Dispatched, c.Send(sessionID, "hello"))
	require.True(t, c.Streaming())

	request := transport.last()
	require.Equal(t, protocol.TypeChat, request.Type)
	require.Equal(t, "m1", request.Model)
	require.Equal(t, 1, request.AssistantIndex)
	require.Equal(t, 0, request.VersionIndex)
	require.Equal(t, []protocol.ChatMessage{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: ""},
	}, request.History)

	c.HandleFrame(&protocol.Frame{Type: protocol.TypeDelta, AssistantIndex: 1, VersionIndex: 0, Delta: "Hi"})
	c.HandleFrame(&protocol.Frame{Type: protocol.TypeDelta, AssistantIndex: 1, VersionIndex: 0, Delta: " there"})
	c.HandleFrame(&protocol.Frame{Type: protocol.TypeDone})

	require.False(t, c.Streaming())
	messages := c.Store().ActiveClone().Messages
	require.Len(t, messages, 2)
	require.Equal(t, "Hi there", messages[1].CurrentContent())
}

func TestSingleStreamInvariant(t *testing.T) {
	c, transport, _ := newTestClient(t)
	sessionID := c.Store().ActiveID()

	require.Equal(t, Dispatched, c.Send(sessionID, "first"))
	require.Equal(t, AlreadyStreaming, c.Send(sessionID, "second"))
	require.Equal(t, AlreadyStreaming, c.Regenerate(sessionID, "any"))
	require.Equal(t, AlreadyStreaming, c.Continue(sessionID, "any"))

	var chats int
	for _, frame := range transport.sent() {
		if frame.Type == protocol.TypeChat {
			chats++
		}
	}
	require.Equal(t, 1, chats)

	// The rejected Send must not have touched the ledger.
	messages := c.Store().ActiveClone().Messages
	require.Len(t, messages, 2)
	require.Equal(t, "first", messages[0].Content)
}

func TestSendPreconditions(t *testing.T) {
	c, transport, _ := newTestClient(t)
	sessionID := c.Store().ActiveID()

	require.Equal(t, EmptyInput, c.Send(sessionID, "   "))

	transport.mu.Lock()
	transport.ready = false
	transport.mu.Unlock()
	require.Equal(t, NotConnected, c.Send(sessionID, "hello"))
	require.Equal(t, NotConnected, c.HealthCheck())

	transport.mu.Lock()
	transport.ready = true
	transport.mu.Unlock()
	c.HandleFrame(&protocol.Frame{Type: protocol.TypeModels})
	require.Equal(t, NoModelSelected, c.Send(sessionID, "hello"))

	// None of the rejected sends appended anything.
	require.Empty(t, c.Store().ActiveClone().Messages)
}

func TestRegenerate(t *testing.T) {
	c, transport, _ := newTestClient(t)
	sessionID := c.Store().ActiveID()

	require.Equal(t, Dispatched, c.Send(sessionID, "hello"))
	c.HandleFrame(&protocol.Frame{Type: protocol.TypeDelta, AssistantIndex: 1, VersionIndex: 0, Delta: "first answer"})
	c.HandleFrame(&protocol.Frame{Type: protocol.TypeDone})

	assistantID := c.Store().ActiveClone().Messages[1].ID
	require.Equal(t, Dispatched, c.Regenerate(sessionID, assistantID))

	request := transport.last()
	require.Equal(t, 1, request.AssistantIndex)
	require.Equal(t, 1, request.VersionIndex)
	// The fresh empty version is what the history projects for the target.
	require.Equal(t, "", request.History[len(request.History)-1].Content)

	c.HandleFrame(&protocol.Frame{Type: protocol.TypeDelta, AssistantIndex: 1, VersionIndex: 1, Delta: "second answer"})
	c.HandleFrame(&protocol.Frame{Type: protocol.TypeDone})

	assistant := c.Store().ActiveClone().Messages[1]
	require.Len(t, assistant.Versions, 2)
	require.Equal(t, 1, assistant.CurrentVersion)
	require.Equal(t, "first answer", assistant.Versions[0].Content)
	require.Equal(t, "second answer", assistant.Versions[1].Content)
}

func TestRegenerateRejectsNonAssistant(t *testing.T) {
	c, _, _ := newTestClient(t)
	sessionID := c.Store().ActiveID()
	id, _, err := c.Store().AppendUserMessage(sessionID, "hello")
	require.NoError(t, err)

	require.Equal(t, InvalidTarget, c.Regenerate(sessionID, id))
	require.Equal(t, InvalidTarget, c.Regenerate(sessionID, "missing"))
	require.False(t, c.Streaming())
}

func TestContinueAppendsToSelectedVersion(t *testing.T) {
	c, transport, _ := newTestClient(t)
	sessionID := c.Store().ActiveID()

	require.Equal(t, Dispatched, c.Send(sessionID, "hello"))
	c.HandleFrame(&protocol.Frame{Type: protocol.TypeDelta, AssistantIndex: 1, VersionIndex: 0, Delta: "partial"})
	c.HandleFrame(&protocol.Frame{Type: protocol.TypeStopped})

	assistantID := c.Store().ActiveClone().Messages[1].ID
	require.Equal(t, Dispatched, c.Continue(sessionID, assistantID))
	require.Equal(t, 0, transport.last().VersionIndex)

	c.HandleFrame(&protocol.Frame{Type: protocol.TypeDelta, AssistantIndex: 1, VersionIndex: 0, Delta: " and the rest"})
	c.HandleFrame(&protocol.Frame{Type: protocol.TypeDone})

	assistant := c.Store().ActiveClone().Messages[1]
	require.Len(t, assistant.Versions, 1)
	require.Equal(t, "partial and the rest", assistant.Versions[0].Content)
}

func TestStoppedRetainsPartialContent(t *testing.T) {
	c, transport, _ := newTestClient(t)
	sessionID := c.Store().ActiveID()

	require.Equal(t, InvalidTarget, c.Stop(), "stop with no active stream")

	require.Equal(t, Dispatched, c.Send(sessionID, "hello"))
	c.HandleFrame(&protocol.Frame{Type: protocol.TypeDelta, AssistantIndex: 1, VersionIndex: 0, Delta: "partial"})

	require.Equal(t, Dispatched, c.Stop())
	require.Equal(t, protocol.TypeStop, transport.last().Type)
	require.True(t, c.Streaming(), "stop is advisory until the backend confirms")

	c.HandleFrame(&protocol.Frame{Type: protocol.TypeStopped})
	require.False(t, c.Streaming())
	require.Equal(t, "partial", c.Store().ActiveClone().Messages[1].CurrentContent())
}

func TestDisconnectAbandonsStream(t *testing.T) {
	c, transport, _ := newTestClient(t)
	sessionID := c.Store().ActiveID()

	require.Equal(t, Dispatched, c.Send(sessionID, "hello"))
	c.HandleFrame(&protocol.Frame{Type: protocol.TypeDelta, AssistantIndex: 1, VersionIndex: 0, Delta: "partial"})

	transport.mu.Lock()
	transport.ready = false
	transport.mu.Unlock()
	c.HandleDisconnect()

	require.False(t, c.Streaming())
	require.Equal(t, "partial", c.Store().ActiveClone().Messages[1].CurrentContent())

	// A late terminal frame for the dead stream is inert.
	c.HandleFrame(&protocol.Frame{Type: protocol.TypeDone})
	require.False(t, c.Streaming())
}

func TestStaleDeltaDropped(t *testing.T) {
	c, _, _ := newTestClient(t)
	sessionID := c.Store().ActiveID()

	require.Equal(t, Dispatched, c.Send(sessionID, "hello"))
	c.HandleFrame(&protocol.Frame{Type: protocol.TypeDone})

	// Idle engine: deltas have nowhere to go.
	c.HandleFrame(&protocol.Frame{Type: protocol.TypeDelta, AssistantIndex: 1, VersionIndex: 0, Delta: "late"})
	require.Equal(t, "", c.Store().ActiveClone().Messages[1].CurrentContent())

	// Streaming engine: a delta for a different addressing pair is dropped.
	assistantID := c.Store().ActiveClone().Messages[1].ID
	require.Equal(t, Dispatched, c.Regenerate(sessionID, assistantID))
	c.HandleFrame(&protocol.Frame{Type: protocol.TypeDelta, AssistantIndex: 0, VersionIndex: 0, Delta: "wrong slot"})
	c.HandleFrame(&protocol.Frame{Type: protocol.TypeDelta, AssistantIndex: 1, VersionIndex: 0, Delta: "wrong version"})
	c.HandleFrame(&protocol.Frame{Type: protocol.TypeDone})

	assistant := c.Store().ActiveClone().Messages[1]
	require.Equal(t, "", assistant.Versions[0].Content)
	require.Equal(t, "", assistant.Versions[1].Content)
	require.Equal(t, "hello", c.Store().ActiveClone().Messages[0].Content)
}

func TestDeltaSurvivesPurgeShift(t *testing.T) {
	c, _, _ := newTestClient(t, session.WithUndoGrace(10*time.Millisecond))
	sessionID := c.Store().ActiveID()

	userID, _, err := c.Store().AppendUserMessage(sessionID, "doomed")
	require.NoError(t, err)
	require.Equal(t, Dispatched, c.Send(sessionID, "hello"))
	placeholderID := c.Store().ActiveClone().Messages[2].ID
	require.Equal(t, 2, c.Store().IndexOf(sessionID, placeholderID))

	purged := make(chan struct{}, 1)
	c.OnChange(func() {
		select {
		case purged <- struct{}{}:
		default:
		}
	})
	require.NoError(t, c.Store().SoftDelete(sessionID, userID))
	select {
	case <-purged:
	case <-time.After(time.Second):
		t.Fatal("purge never fired")
	}

	// The placeholder shifted from slot 2 to slot 1, but frames still carry
	// the addressing pair from dispatch time and land on the pinned message.
	c.HandleFrame(&protocol.Frame{Type: protocol.TypeDelta, AssistantIndex: 2, VersionIndex: 0, Delta: "answer"})
	c.HandleFrame(&protocol.Frame{Type: protocol.TypeDone})

	messages := c.Store().ActiveClone().Messages
	require.Len(t, messages, 2)
	require.Equal(t, "answer", messages[1].CurrentContent())
}

func TestModelPreferenceRestored(t *testing.T) {
	kv := store.NewMemory()
	require.NoError(t, kv.Set(store.KeyModel, []byte("m2")))
	sessions, err := session.NewStore(kv, "")
	require.NoError(t, err)
	defer sessions.Close()

	c := New(sessions, kv, &fakeTransport{ready: true})
	c.HandleFrame(&protocol.Frame{Type: protocol.TypeModels, Models: []string{"m1", "m2"}})
	require.Equal(t, "m2", c.Model())

	// When the preference is no longer offered, fall back to the first model
	// and persist the new choice.
	c.HandleFrame(&protocol.Frame{Type: protocol.TypeModels, Models: []string{"m1", "m3"}})
	require.Equal(t, "m1", c.Model())
	data, ok, err := kv.Get(store.KeyModel)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "m1", string(data))
}

func TestSelectModel(t *testing.T) {
	c, _, kv := newTestClient(t)

	require.True(t, c.SelectModel("m2"))
	require.Equal(t, "m2", c.Model())
	data, _, err := kv.Get(store.KeyModel)
	require.NoError(t, err)
	require.Equal(t, "m2", string(data))

	require.False(t, c.SelectModel("unoffered"))
	require.Equal(t, "m2", c.Model())
}

func TestHandleConnectRequestsModels(t *testing.T) {
	c, transport, _ := newTestClient(t)
	c.HandleConnect()
	require.Equal(t, protocol.TypeModels, transport.last().Type)
}

func TestUnknownFrameIgnored(t *testing.T) {
	c, _, _ := newTestClient(t)
	sessionID := c.Store().ActiveID()
	require.Equal(t, Dispatched, c.Send(sessionID, "hello"))

	c.HandleFrame(&protocol.Frame{Type: "mystery"})
	require.True(t, c.Streaming())
}
