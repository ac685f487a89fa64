package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeDelta(t *testing.T) {
	frame, err := Decode([]byte(`{"type":"delta","assistantIndex":3,"versionIndex":1,"delta":"Hi"}`))
	require.NoError(t, err)
	require.Equal(t, TypeDelta, frame.Type)
	require.Equal(t, 3, frame.AssistantIndex)
	require.Equal(t, 1, frame.VersionIndex)
	require.Equal(t, "Hi", frame.Delta)
}

func TestDecodeRejectsTypelessFrame(t *testing.T) {
	_, err := Decode([]byte(`{"delta":"Hi"}`))
	require.Error(t, err)
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{"type":`))
	require.Error(t, err)
}

func TestDecodeToleratesUnknownFields(t *testing.T) {
	frame, err := Decode([]byte(`{"type":"models","models":["a"],"extra":true}`))
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, frame.Models)
}

func TestChatRequestWireShape(t *testing.T) {
	frame := ChatRequest([]ChatMessage{{Role: "user", Content: "hi"}}, "m1", 1, 0)
	data, err := json.Marshal(frame)
	require.NoError(t, err)

	// The addressing pair must survive marshaling even at index zero.
	require.JSONEq(t, `{
		"type": "chat",
		"model": "m1",
		"assistantIndex": 1,
		"versionIndex": 0,
		"history": [{"role": "user", "content": "hi"}]
	}`, string(data))
}

func TestControlRequestShapes(t *testing.T) {
	require.Equal(t, TypeModels, ModelsRequest().Type)
	require.Equal(t, TypeHealth, HealthRequest().Type)
	require.Equal(t, TypeStop, StopRequest().Type)
}
