// Package server implements the reference backend: a WebSocket endpoint that
// honors the chat protocol by bridging generation requests to an
// OpenAI-compatible API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/calder/wirechat/configuration"
	"github.com/calder/wirechat/internal/debug"
	"github.com/calder/wirechat/protocol"
)

// NewServeCmd creates the serve command.
func NewServeCmd(config *configuration.Config) *cobra.Command {
	var opts struct {
		Port int
	}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the WebSocket chat backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			server := New(config.Serve)
			return server.Start(opts.Port)
		},
	}
	cmd.Flags().IntVarP(&opts.Port, "port", "p", config.Serve.Port, "port to serve on")
	return cmd
}

// Server upgrades HTTP connections and speaks the protocol with each client.
type Server struct {
	config   *configuration.ServeConfig
	upstream *openai.Client
	upgrader websocket.Upgrader
}

// New instantiates a server against the configured upstream.
func New(config *configuration.ServeConfig) *Server {
	openaiConfig := openai.DefaultConfig(config.APIKey)
	openaiConfig.BaseURL = config.APIHost
	return &Server{
		config:   config,
		upstream: openai.NewClientWithConfig(openaiConfig),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Start blocks serving WebSocket upgrades on /.
func (s *Server) Start(port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	fmt.Printf("wirechat backend listening on :%d\n", port)
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}

// conn serializes writes to one client; delta frames and control responses
// come from different goroutines.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) write(frame *protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(frame)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.GetLogger().Error("upgrading connection", "error", err)
		return
	}
	defer ws.Close()
	c := &conn{ws: ws}

	// At most one stream per client; a new chat request supersedes the
	// previous one.
	var cancelMu sync.Mutex
	var cancel context.CancelFunc
	defer func() {
		cancelMu.Lock()
		if cancel != nil {
			cancel()
		}
		cancelMu.Unlock()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		frame, err := protocol.Decode(data)
		if err != nil {
			debug.GetLogger().Debug("dropping frame", "error", err)
			continue
		}

		switch frame.Type {
		case protocol.TypeModels:
			_ = c.write(&protocol.Frame{Type: protocol.TypeModels, Models: s.config.Models})

		case protocol.TypeHealth:
			_ = c.write(&protocol.Frame{Type: protocol.TypeHealth})

		case protocol.TypeChat:
			ctx, newCancel := context.WithCancel(r.Context())
			cancelMu.Lock()
			if cancel != nil {
				cancel()
			}
			cancel = newCancel
			cancelMu.Unlock()
			go s.stream(ctx, c, frame)

		case protocol.TypeStop:
			cancelMu.Lock()
			if cancel != nil {
				cancel()
			}
			cancelMu.Unlock()

		default:
			debug.GetLogger().Debug("ignoring frame", "type", frame.Type)
		}
	}
}
