package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"pkt.systems/mudgate/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int            `mapstructure:"config_version" yaml:"config_version"`
	Game          GameConfig     `mapstructure:"game" yaml:"game"`
	SSH           SSHConfig      `mapstructure:"ssh" yaml:"ssh"`
	Service       ServiceConfig  `mapstructure:"service" yaml:"service"`
	Triggers      TriggersConfig `mapstructure:"triggers" yaml:"triggers"`
	Scripts       ScriptsConfig  `mapstructure:"scripts" yaml:"scripts"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// GameConfig configures the upstream game connection.
type GameConfig struct {
	Addr             string `mapstructure:"addr" yaml:"addr"`
	ReconnectSeconds int    `mapstructure:"reconnect_seconds" yaml:"reconnect_seconds"`
	ConnectTimeout   int    `mapstructure:"connect_timeout_seconds" yaml:"connect_timeout_seconds"`
}

// SSHConfig configures the client-facing SSH server.
type SSHConfig struct {
	Addr        string `mapstructure:"addr" yaml:"addr"`
	HostKeyPath string `mapstructure:"host_key_path" yaml:"host_key_path"`
}

// ServiceConfig controls the line pipeline.
type ServiceConfig struct {
	Preamble      string `mapstructure:"preamble" yaml:"preamble"`
	ColorizeWith  string `mapstructure:"colorize_with" yaml:"colorize_with"`
	HistoryMax    int    `mapstructure:"history_max" yaml:"history_max"`
	HandlerWarnMS int    `mapstructure:"handler_warn_ms" yaml:"handler_warn_ms"`
}

// TriggersConfig names the YAML trigger bootstrap file.
type TriggersConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

// ScriptsConfig names the Lua plugin files loaded at startup.
type ScriptsConfig struct {
	Files []string `mapstructure:"files" yaml:"files"`
}

// Pipeline converts the file-level service settings to the runtime config.
func (c ServiceConfig) Pipeline() schema.ServiceConfig {
	return schema.ServiceConfig{
		Preamble:     c.Preamble,
		ColorizeWith: c.ColorizeWith,
		HistoryMax:   c.HistoryMax,
		HandlerWarn:  time.Duration(c.HandlerWarnMS) * time.Millisecond,
	}
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		Game: GameConfig{
			Addr:             "localhost:4000",
			ReconnectSeconds: 5,
			ConnectTimeout:   10,
		},
		SSH: SSHConfig{
			Addr:        ":27322",
			HostKeyPath: filepath.Join(home, ".mudgate", "ssh_host_key"),
		},
		Service: ServiceConfig{
			Preamble:      schema.DefaultPreamble,
			ColorizeWith:  "",
			HistoryMax:    schema.DefaultHistoryMax,
			HandlerWarnMS: int(schema.DefaultHandlerWarn / time.Millisecond),
		},
		Triggers: TriggersConfig{
			File: filepath.Join(home, ".mudgate", "triggers.yaml"),
		},
		Scripts: ScriptsConfig{
			Files: []string{},
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".mudgate", "config.yaml"), nil
}
