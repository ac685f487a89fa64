package session

import "github.com/calder/wirechat/protocol"

// Project derives the flat history payload for a generation request: the
// system prompt first when non-empty, then every non-tombstoned message in
// sequence order, assistant messages contributing their selected version.
// The projection is recomputed on every request; the set of active messages
// can change between calls.
func Project(s *Session) []protocol.ChatMessage {
	history := make([]protocol.ChatMessage, 0, len(s.Messages)+1)
	if s.SystemPrompt != "" {
		history = append(history, protocol.ChatMessage{
			Role:    string(RoleSystem),
			Content: s.SystemPrompt,
		})
	}
	for _, message := range s.Messages {
		if message.Deleted {
			continue
		}
		history = append(history, protocol.ChatMessage{
			Role:    string(message.Role),
			Content: message.CurrentContent(),
		})
	}
	return history
}
