package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Terminal TerminalConfig `yaml:"terminal"`
	Agent    AgentConfig    `yaml:"agent"`
	Watch    WatchConfig    `yaml:"watch"`
	Storage  StorageConfig  `yaml:"storage"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
	Token  string `yaml:"token"`
}

type TerminalConfig struct {
	Shell             string   `yaml:"shell"`
	BufferLines       int      `yaml:"buffer_lines"`
	ReadyTimeoutMs    int      `yaml:"ready_timeout_ms"`
	GracefulTimeoutMs int      `yaml:"graceful_timeout_ms"`
	EnvAllow          []string `yaml:"env_allow"`
}

type AgentConfig struct {
	Command           string   `yaml:"command"`
	Args              []string `yaml:"args"`
	GracefulTimeoutMs int      `yaml:"graceful_timeout_ms"`
}

type WatchConfig struct {
	Enabled    *bool `yaml:"enabled"`
	DebounceMs int   `yaml:"debounce_ms"`
}

type StorageConfig struct {
	StateDir string `yaml:"state_dir"`
}

// LoadConfig reads path and applies defaults. A missing file is not an
// error; the daemon runs fine on defaults alone.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = "127.0.0.1:8420"
	}
	if cfg.Terminal.BufferLines == 0 {
		cfg.Terminal.BufferLines = 5000
	}
	if cfg.Terminal.ReadyTimeoutMs == 0 {
		cfg.Terminal.ReadyTimeoutMs = 5000
	}
	if cfg.Terminal.GracefulTimeoutMs == 0 {
		cfg.Terminal.GracefulTimeoutMs = 2000
	}
	if cfg.Agent.Command == "" {
		cfg.Agent.Command = "claude"
	}
	if len(cfg.Agent.Args) == 0 {
		cfg.Agent.Args = []string{"--print", "--output-format", "stream-json", "--verbose"}
	}
	if cfg.Agent.GracefulTimeoutMs == 0 {
		cfg.Agent.GracefulTimeoutMs = 2000
	}
	if cfg.Watch.Enabled == nil {
		enabled := true
		cfg.Watch.Enabled = &enabled
	}
	if cfg.Watch.DebounceMs == 0 {
		cfg.Watch.DebounceMs = 500
	}
	if cfg.Storage.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.Storage.StateDir = filepath.Join(home, ".deckd")
	}

	// Optional environment overrides for secrets.
	if envToken := os.Getenv("DECKD_TOKEN"); envToken != "" {
		cfg.Server.Token = envToken
	}

	return &cfg, nil
}
