package configuration

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

var defaultConfig = Config{
	ServerURL:        "ws://localhost:3000",
	Database:         "~/.config/wirechat/wirechat.db",
	SystemPrompt:     "You are a helpful AI assistant.",
	ReconnectDelayMS: 1500,
	UndoGraceMS:      5000,

	Serve: &ServeConfig{
		Port:    3000,
		APIKey:  "API_KEY",
		APIHost: "https://api.openai.com/v1",
		Models:  []string{"gpt-4o", "gpt-4o-mini"},
	},
}

// Config holds configuration for the wirechat tool.
type Config struct {
	// WebSocket URL of the backend.
	ServerURL string `json:"server_url"`
	// Path of the SQLite database holding session snapshots.
	Database string `json:"database"`
	// System prompt given to newly created sessions.
	SystemPrompt string `json:"system_prompt"`
	// Fixed delay between reconnection attempts.
	ReconnectDelayMS int `json:"reconnect_delay_ms"`
	// Grace period before a soft-deleted message is purged.
	UndoGraceMS int `json:"undo_grace_ms"`

	Serve *ServeConfig `json:"serve"`
}

// ServeConfig holds configuration for wirechat serve.
type ServeConfig struct {
	// Port the WebSocket backend listens on.
	Port int `json:"port"`
	// Credentials of the upstream OpenAI-compatible API.
	APIKey  string `json:"api_key"`
	APIHost string `json:"api_host"`
	// Model identifiers offered to clients.
	Models []string `json:"models"`
}

// Parse a configuration file.
func Parse(path string) (*Config, error) {
	path, err := ExpandPath(path)
	if err != nil {
		return nil, errors.Wrap(err, "expanding path")
	}

	if err := initializeIfNotPresent(path); err != nil {
		return nil, errors.Wrap(err, "initializing configuration")
	}
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading file")
	}

	config := &Config{}
	if err = json.Unmarshal(bytes, config); err != nil {
		return nil, errors.Wrap(err, "unmarshaling into config")
	}

	expandedDatabasePath, err := ExpandPath(config.Database)
	if err != nil {
		return nil, errors.Wrap(err, "expanding database path")
	}
	config.Database = expandedDatabasePath
	if err := os.MkdirAll(filepath.Dir(config.Database), 0755); err != nil {
		return nil, errors.Wrap(err, "creating database directory")
	}
	return config, nil
}

// save a configuration file.
func (c *Config) save(path string) error {
	bytes, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling config")
	}

	err = os.WriteFile(path, bytes, 0644)
	if err != nil {
		return errors.Wrap(err, "writing file")
	}

	return nil
}

// initializeIfNotPresent initializes a config if it does not exist.
func initializeIfNotPresent(path string) error {
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return nil
	}

	// Create the directories.
	dir, _ := filepath.Split(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "creating folders")
	}

	if err := defaultConfig.save(path); err != nil {
		return errors.Wrap(err, "saving default config")
	}
	return nil
}

// ExpandPath resolves a leading ~/ against the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "getting user home dir")
	}
	return filepath.Join(home, path[2:]), nil
}
