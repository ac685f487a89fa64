package session

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/calder/wirechat/protocol"
	"github.com/calder/wirechat/store"
)

// DefaultUndoGrace is how long a tombstoned message survives before the hard
// purge removes it.
const DefaultUndoGrace = 5 * time.Second

// Store owns every session and the currently active one. Each mutating
// operation runs to completion under one lock and ends with a full snapshot
// write to the key/value adapter, so no uncommitted state is ever observable
// across an event boundary. Sessions are addressed by explicit ID; there is
// no ambient "current messages" state.
type Store struct {
	mu       sync.Mutex
	kv       store.KV
	sessions map[string]*Session
	activeID string

	grace    time.Duration
	timers   map[string]*time.Timer
	onChange func()
}

// Option configures a Store.
type Option func(*Store)

// WithUndoGrace overrides the tombstone grace period.
func WithUndoGrace(grace time.Duration) Option {
	return func(s *Store) { s.grace = grace }
}

// NewStore loads persisted sessions from the adapter. When none exist (or the
// persisted active ID no longer resolves), a fresh session is created with
// the given system prompt.
func NewStore(kv store.KV, systemPrompt string, options ...Option) (*Store, error) {
	s := &Store{
		kv:       kv,
		sessions: map[string]*Session{},
		grace:    DefaultUndoGrace,
		timers:   map[string]*time.Timer{},
	}
	for _, option := range options {
		option(s)
	}

	data, ok, err := kv.Get(store.KeySessions)
	if err != nil {
		return nil, errors.Wrap(err, "loading sessions")
	}
	if ok {
		if err := json.Unmarshal(data, &s.sessions); err != nil {
			return nil, errors.Wrap(err, "unmarshaling sessions")
		}
	}
	// The edit flag is transient UI state; a restart discards it.
	for _, sess := range s.sessions {
		for _, message := range sess.Messages {
			message.Editing = false
		}
	}

	current, ok, err := kv.Get(store.KeyCurrentSession)
	if err != nil {
		return nil, errors.Wrap(err, "loading current session")
	}
	if ok {
		if _, exists := s.sessions[string(current)]; exists {
			s.activeID = string(current)
		}
	}
	if s.activeID == "" {
		sess := New(systemPrompt)
		s.sessions[sess.ID] = sess
		s.activeID = sess.ID
		if err := s.persist(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// OnChange registers a callback invoked after a mutation that did not
// originate from a caller, i.e. a timed hard purge.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Close stops pending purge timers. Tombstones survive in the snapshot; a
// message whose purge never fired stays tombstoned until deleted again or
// undone in a later run.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}

// ActiveID returns the ID of the active session.
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// ActiveClone returns a deep copy of the active session for rendering.
func (s *Store) ActiveClone() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[s.activeID].Clone()
}

// Clone returns a deep copy of the addressed session, or nil.
func (s *Store) Clone(sessionID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	return sess.Clone()
}

// SessionListEntry is one row of the session sidebar.
type SessionListEntry struct {
	ID       string
	Title    string
	Subtitle string
	Active   bool
}

// List returns every session ordered by creation time.
func (s *Store) List() []SessionListEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreationTimestamp < sessions[j].CreationTimestamp
	})
	entries := make([]SessionListEntry, len(sessions))
	for i, sess := range sessions {
		entries[i] = SessionListEntry{
			ID:       sess.ID,
			Title:    sess.Title,
			Subtitle: sess.Summary(),
			Active:   sess.ID == s.activeID,
		}
	}
	return entries
}

// NewSession creates a session, makes it active and persists.
func (s *Store) NewSession(systemPrompt string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := New(systemPrompt)
	s.sessions[sess.ID] = sess
	s.activeID = sess.ID
	return sess.Clone(), s.persist()
}

// SwitchSession makes the addressed session active.
func (s *Store) SwitchSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil
	}
	s.activeID = sessionID
	return s.persist()
}

// RenameSession updates a session title.
func (s *Store) RenameSession(sessionID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	sess.Title = title
	sess.UpdateTimestamp = time.Now().UnixMicro()
	return s.persist()
}

// AppendUserMessage appends a user message to the addressed session and
// returns its ID and slot index. Empty input is rejected without mutation.
func (s *Store) AppendUserMessage(sessionID, text string) (id string, slot int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return "", -1, nil
	}
	message := sess.AppendUserMessage(text)
	if message == nil {
		return "", -1, nil
	}
	sess.UpdateTimestamp = message.Timestamp
	return message.ID, len(sess.Messages) - 1, s.persist()
}

// AppendAssistantPlaceholder reserves the slot a stream will target.
func (s *Store) AppendAssistantPlaceholder(sessionID string) (id string, slot int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return "", -1, nil
	}
	message := sess.AppendAssistantPlaceholder()
	sess.UpdateTimestamp = message.Timestamp
	return message.ID, len(sess.Messages) - 1, s.persist()
}

// AddVersion appends a fresh version to an assistant message and selects it.
func (s *Store) AddVersion(sessionID, messageID string) (versionIndex int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return -1, nil
	}
	versionIndex = sess.AddVersion(messageID)
	if versionIndex < 0 {
		return -1, nil
	}
	return versionIndex, s.persist()
}

// SelectVersion switches the authoritative version of an assistant message.
func (s *Store) SelectVersion(sessionID, messageID string, versionIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	if !sess.SelectVersion(messageID, versionIndex) {
		return nil
	}
	return s.persist()
}

// AppendDelta applies a streamed fragment. A miss (purged message, stale
// version index) leaves the store untouched.
func (s *Store) AppendDelta(sessionID, messageID string, versionIndex int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	if !sess.AppendDelta(messageID, versionIndex, text) {
		return nil
	}
	return s.persist()
}

// EditContent replaces a user/system message's content.
func (s *Store) EditContent(sessionID, messageID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	if !sess.EditContent(messageID, text) {
		return nil
	}
	sess.UpdateTimestamp = time.Now().UnixMicro()
	return s.persist()
}

// SetEditing toggles the transient edit flag; not a persisted mutation in
// spirit, but the snapshot is rewritten anyway to keep the contract uniform.
func (s *Store) SetEditing(sessionID, messageID string, editing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	if !sess.SetEditing(messageID, editing) {
		return nil
	}
	return s.persist()
}

// IndexOf resolves a message ID to its current slot index, or -1.
func (s *Store) IndexOf(sessionID, messageID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return -1
	}
	return sess.IndexOf(messageID)
}

// Role returns the role of the addressed message, or "".
func (s *Store) Role(sessionID, messageID string) Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return ""
	}
	message := sess.Message(messageID)
	if message == nil {
		return ""
	}
	return message.Role
}

// CurrentVersion returns the selected version index of the addressed
// assistant message, or -1.
func (s *Store) CurrentVersion(sessionID, messageID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return -1
	}
	message := sess.Message(messageID)
	if message == nil || message.Role != RoleAssistant {
		return -1
	}
	return message.CurrentVersion
}

// Project builds the history payload for the addressed session.
func (s *Store) Project(sessionID string) []protocol.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	return Project(sess)
}

// SoftDelete tombstones a message and schedules its hard purge. Undo within
// the grace period cancels the purge.
func (s *Store) SoftDelete(sessionID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	if !sess.SoftDelete(messageID) {
		return nil
	}
	if timer, ok := s.timers[messageID]; ok {
		timer.Stop()
	}
	s.timers[messageID] = time.AfterFunc(s.grace, func() {
		s.purge(sessionID, messageID)
	})
	return s.persist()
}

// Undo clears a tombstone and cancels the pending purge. After the purge has
// fired the message is gone and undo is a no-op.
func (s *Store) Undo(sessionID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[messageID]; ok {
		timer.Stop()
		delete(s.timers, messageID)
	}
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	if !sess.Undo(messageID) {
		return nil
	}
	return s.persist()
}

// purge is the timer body. The tombstone is re-checked: an undo may have raced
// the timer's last instant.
func (s *Store) purge(sessionID, messageID string) {
	s.mu.Lock()
	delete(s.timers, messageID)
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if !sess.Purge(messageID) {
		s.mu.Unlock()
		return
	}
	_ = s.persist()
	onChange := s.onChange
	s.mu.Unlock()
	if onChange != nil {
		onChange()
	}
}

// persist rewrites both snapshot entries in full. Callers hold the lock.
func (s *Store) persist() error {
	data, err := json.Marshal(s.sessions)
	if err != nil {
		return errors.Wrap(err, "marshaling sessions")
	}
	if err := s.kv.Set(store.KeySessions, data); err != nil {
		return errors.Wrap(err, "persisting sessions")
	}
	if err := s.kv.Set(store.KeyCurrentSession, []byte(s.activeID)); err != nil {
		return errors.Wrap(err, "persisting current session")
	}
	return nil
}

// Persist rewrites the snapshot. The engine calls this on stream termination
// so the final streamed content is durable even if the last delta write and
// the terminal event race a crash.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist()
}
