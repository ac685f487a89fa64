package server

import (
	"context"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/calder/wirechat/internal/debug"
	"github.com/calder/wirechat/protocol"
)

// stream bridges one chat request to the upstream API, echoing the request's
// addressing pair on every delta so the client can reconcile fragments.
func (s *Server) stream(ctx context.Context, c *conn, request *protocol.Frame) {
	messages := make([]openai.ChatCompletionMessage, 0, len(request.History))
	for _, message := range request.History {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    message.Role,
			Content: message.Content,
		})
	}

	stream, err := s.upstream.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    request.Model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		debug.GetLogger().Error("creating completion stream", "error", err)
		s.finish(ctx, c)
		return
	}
	defer stream.Close()

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			_ = c.write(&protocol.Frame{Type: protocol.TypeDone})
			return
		}
		if err != nil {
			s.finish(ctx, c)
			return
		}
		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		_ = c.write(&protocol.Frame{
			Type:           protocol.TypeDelta,
			AssistantIndex: request.AssistantIndex,
			VersionIndex:   request.VersionIndex,
			Delta:          delta,
		})
	}
}

// finish emits the terminal frame for an aborted stream: stopped when the
// client cancelled, done otherwise so the client always leaves Streaming.
func (s *Server) finish(ctx context.Context, c *conn) {
	if ctx.Err() != nil {
		_ = c.write(&protocol.Frame{Type: protocol.TypeStopped})
		return
	}
	_ = c.write(&protocol.Frame{Type: protocol.TypeDone})
}
