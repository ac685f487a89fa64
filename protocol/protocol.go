// Package protocol defines the JSON frames exchanged with the model-serving
// backend over the persistent connection.
package protocol

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Frame types, both directions.
const (
	TypeModels  = "models"
	TypeHealth  = "health"
	TypeDelta   = "delta"
	TypeDone    = "done"
	TypeStopped = "stopped"
	TypeChat    = "chat"
	TypeStop    = "stop"
)

// ChatMessage is one role/content pair of a projected history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Frame is the wire envelope. A single struct covers every frame type; only
// the fields relevant to Type are populated.
type Frame struct {
	Type string `json:"type"`

	// models
	Models []string `json:"models,omitempty"`

	// delta (inbound) and chat (outbound) addressing pair.
	AssistantIndex int `json:"assistantIndex"`
	VersionIndex   int `json:"versionIndex"`

	// delta
	Delta string `json:"delta,omitempty"`

	// chat
	History []ChatMessage `json:"history,omitempty"`
	Model   string        `json:"model,omitempty"`
}

// Decode parses a frame. A frame without a type is rejected; callers drop
// undecodable frames silently.
func Decode(data []byte) (*Frame, error) {
	frame := &Frame{}
	if err := json.Unmarshal(data, frame); err != nil {
		return nil, errors.Wrap(err, "unmarshaling frame")
	}
	if frame.Type == "" {
		return nil, errors.New("frame has no type")
	}
	return frame, nil
}

// ModelsRequest asks the backend for its available model identifiers.
func ModelsRequest() *Frame {
	return &Frame{Type: TypeModels}
}

// HealthRequest asks the backend for a liveness acknowledgement.
func HealthRequest() *Frame {
	return &Frame{Type: TypeHealth}
}

// StopRequest asks the backend to cancel the active stream.
func StopRequest() *Frame {
	return &Frame{Type: TypeStop}
}

// ChatRequest opens a generation stream targeting the given addressing pair.
func ChatRequest(history []ChatMessage, model string, assistantIndex, versionIndex int) *Frame {
	return &Frame{
		Type:           TypeChat,
		History:        history,
		Model:          model,
		AssistantIndex: assistantIndex,
		VersionIndex:   versionIndex,
	}
}
