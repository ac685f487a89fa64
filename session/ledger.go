package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// The ledger operations below mutate a session in place. Messages are
// addressed by their creation-time ID rather than by position, so structural
// changes elsewhere in the sequence cannot redirect an operation to the wrong
// message. Operations addressing a missing message or an out-of-range version
// are no-ops: the session may have been mutated or purged between the time an
// address was captured and the time it is used.

// Message returns the message with the given ID, or nil.
func (s *Session) Message(id string) *Message {
	for _, message := range s.Messages {
		if message.ID == id {
			return message
		}
	}
	return nil
}

// IndexOf returns the slot index of the message with the given ID, or -1.
func (s *Session) IndexOf(id string) int {
	for i, message := range s.Messages {
		if message.ID == id {
			return i
		}
	}
	return -1
}

// AppendUserMessage appends a user message. Returns nil if the text is empty
// after trimming.
func (s *Session) AppendUserMessage(text string) *Message {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	message := &Message{
		ID:        uuid.New().String(),
		Role:      RoleUser,
		Content:   text,
		Timestamp: time.Now().UnixMicro(),
	}
	s.Messages = append(s.Messages, message)
	return message
}

// AppendAssistantPlaceholder appends an assistant message holding a single
// empty version, reserving the slot an upcoming stream will target.
func (s *Session) AppendAssistantPlaceholder() *Message {
	message := &Message{
		ID:             uuid.New().String(),
		Role:           RoleAssistant,
		Timestamp:      time.Now().UnixMicro(),
		Versions:       []*Version{{}},
		CurrentVersion: 0,
	}
	s.Messages = append(s.Messages, message)
	return message
}

// AddVersion appends an empty version to an assistant message and selects it.
// Returns the new version index, or -1 if the message is missing or not an
// assistant message.
func (s *Session) AddVersion(id string) int {
	message := s.Message(id)
	if message == nil || message.Role != RoleAssistant {
		return -1
	}
	message.Versions = append(message.Versions, &Version{})
	message.CurrentVersion = len(message.Versions) - 1
	return message.CurrentVersion
}

// SelectVersion sets the authoritative version of an assistant message.
// Out-of-range indices are rejected.
func (s *Session) SelectVersion(id string, versionIndex int) bool {
	message := s.Message(id)
	if message == nil || message.Role != RoleAssistant {
		return false
	}
	if versionIndex < 0 || versionIndex >= len(message.Versions) {
		return false
	}
	message.CurrentVersion = versionIndex
	return true
}

// AppendDelta concatenates streamed text onto the addressed version.
func (s *Session) AppendDelta(id string, versionIndex int, text string) bool {
	message := s.Message(id)
	if message == nil || message.Role != RoleAssistant {
		return false
	}
	if versionIndex < 0 || versionIndex >= len(message.Versions) {
		return false
	}
	message.Versions[versionIndex].Content += text
	return true
}

// EditContent replaces the content of a user or system message. Assistant
// content is only ever produced by streaming; editing it is not supported.
func (s *Session) EditContent(id, text string) bool {
	message := s.Message(id)
	if message == nil || message.Role == RoleAssistant {
		return false
	}
	message.Content = strings.TrimSpace(text)
	message.Editing = false
	return true
}

// SetEditing toggles the transient edit flag on a user or system message.
func (s *Session) SetEditing(id string, editing bool) bool {
	message := s.Message(id)
	if message == nil || message.Role == RoleAssistant {
		return false
	}
	message.Editing = editing
	return true
}

// SoftDelete tombstones a message. The message stays in place so that slot
// indices of later messages are unaffected until the hard purge.
func (s *Session) SoftDelete(id string) bool {
	message := s.Message(id)
	if message == nil || message.Deleted {
		return false
	}
	message.Deleted = true
	return true
}

// Undo clears a tombstone if the message has not been purged yet.
func (s *Session) Undo(id string) bool {
	message := s.Message(id)
	if message == nil || !message.Deleted {
		return false
	}
	message.Deleted = false
	return true
}

// Purge physically removes a message if it is still tombstoned, shifting the
// slot index of every later message down by one.
func (s *Session) Purge(id string) bool {
	for i, message := range s.Messages {
		if message.ID != id {
			continue
		}
		if !message.Deleted {
			return false
		}
		s.Messages = append(s.Messages[:i], s.Messages[i+1:]...)
		return true
	}
	return false
}

// Summary returns the subtitle shown in session lists: the first
// non-tombstoned user message, truncated.
func (s *Session) Summary() string {
	const maxRunes = 40
	for _, message := range s.Messages {
		if message.Deleted || message.Role != RoleUser {
			continue
		}
		runes := []rune(message.Content)
		if len(runes) > maxRunes {
			return string(runes[:maxRunes])
		}
		return message.Content
	}
	return "No messages"
}
