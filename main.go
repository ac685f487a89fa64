package main

import (
	"github.com/spf13/cobra"

	"github.com/calder/wirechat/cli/chat"
	"github.com/calder/wirechat/configuration"
	"github.com/calder/wirechat/server"
)

const configFilepath = "~/.config/wirechat/config.json"

var rootCmd = &cobra.Command{
	Use:   "wirechat",
	Short: "A terminal chat client streaming from a model-serving backend",
}

func main() {
	config, err := configuration.Parse(configFilepath)
	if err != nil {
		panic(err)
	}

	rootCmd.AddCommand(chat.NewCmd(config))
	rootCmd.AddCommand(server.NewServeCmd(config))
	rootCmd.Execute()
}
