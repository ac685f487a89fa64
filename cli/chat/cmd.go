package chat

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/calder/wirechat/client"
	"github.com/calder/wirechat/configuration"
	"github.com/calder/wirechat/session"
	"github.com/calder/wirechat/store"
	"github.com/calder/wirechat/transport"
)

// NewCmd instantiates and returns the chat command.
func NewCmd(config *configuration.Config) *cobra.Command {
	var opts struct {
		ServerURL string
	}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the chat interface",
		RunE: func(cmd *cobra.Command, args []string) error {
			kv, err := store.NewSQLite(config.Database)
			if err != nil {
				return err
			}
			defer kv.Close()

			grace := time.Duration(config.UndoGraceMS) * time.Millisecond
			sessions, err := session.NewStore(kv, config.SystemPrompt, session.WithUndoGrace(grace))
			if err != nil {
				return err
			}
			defer sessions.Close()

			delay := time.Duration(config.ReconnectDelayMS) * time.Millisecond
			conn := transport.New(opts.ServerURL, transport.WithReconnectDelay(delay))
			defer conn.Close()

			c := client.New(sessions, kv, conn)

			model := NewModel(config, c, conn)
			program := tea.NewProgram(model, tea.WithAltScreen())
			model.SetProgram(program)

			c.OnChange(func() { program.Send(refreshMsg{}) })
			conn.Start(c)

			_, err = program.Run()
			return err
		},
	}
	cmd.Flags().StringVar(&opts.ServerURL, "server", config.ServerURL, "backend WebSocket URL")
	return cmd
}
