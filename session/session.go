// Package session holds the conversation state machine: chat sessions, their
// message/version ledger, the tombstone/undo subsystem and the history
// projection sent to the backend.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Role of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

const defaultTitle = "New chat"

// Version is one alternative rendering of an assistant message's content. Its
// content grows monotonically while a stream targets it.
type Version struct {
	Content string `json:"content"`
}

// Message is a single entry of a session's ledger. User and system messages
// carry Content; assistant messages carry an append-only Versions list with
// CurrentVersion selecting the authoritative one.
type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Timestamp int64  `json:"timestamp"`
	Deleted   bool   `json:"deleted,omitempty"`

	Content string `json:"content,omitempty"`
	Editing bool   `json:"editing,omitempty"`

	Versions       []*Version `json:"versions,omitempty"`
	CurrentVersion int        `json:"currentVersion,omitempty"`
}

// CurrentContent returns the authoritative content of the message: the
// selected version for assistant messages, Content otherwise.
func (m *Message) CurrentContent() string {
	if m.Role != RoleAssistant {
		return m.Content
	}
	if m.CurrentVersion < 0 || m.CurrentVersion >= len(m.Versions) {
		return ""
	}
	return m.Versions[m.CurrentVersion].Content
}

// Session is one independent conversation.
type Session struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	SystemPrompt      string     `json:"systemPrompt"`
	CreationTimestamp int64      `json:"creationTimestamp"`
	UpdateTimestamp   int64      `json:"updateTimestamp"`
	Messages          []*Message `json:"messages"`
}

// New instantiates a session with the given system prompt.
func New(systemPrompt string) *Session {
	now := time.Now().UnixMicro()
	return &Session{
		ID:                uuid.New().String()[:8],
		Title:             defaultTitle,
		SystemPrompt:      systemPrompt,
		CreationTimestamp: now,
		UpdateTimestamp:   now,
	}
}

// Clone returns a deep copy of the session, suitable for rendering or for
// snapshot comparisons in tests.
func (s *Session) Clone() *Session {
	clone := *s
	clone.Messages = make([]*Message, len(s.Messages))
	for i, message := range s.Messages {
		m := *message
		m.Versions = make([]*Version, len(message.Versions))
		for j, version := range message.Versions {
			v := *version
			m.Versions[j] = &v
		}
		if message.Versions == nil {
			m.Versions = nil
		}
		clone.Messages[i] = &m
	}
	return &clone
}
