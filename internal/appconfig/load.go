package appconfig

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("game.addr", cfg.Game.Addr)
	v.SetDefault("game.reconnect_seconds", cfg.Game.ReconnectSeconds)
	v.SetDefault("game.connect_timeout_seconds", cfg.Game.ConnectTimeout)
	v.SetDefault("ssh.addr", cfg.SSH.Addr)
	v.SetDefault("ssh.host_key_path", cfg.SSH.HostKeyPath)
	v.SetDefault("service.preamble", cfg.Service.Preamble)
	v.SetDefault("service.colorize_with", cfg.Service.ColorizeWith)
	v.SetDefault("service.history_max", cfg.Service.HistoryMax)
	v.SetDefault("service.handler_warn_ms", cfg.Service.HandlerWarnMS)
	v.SetDefault("triggers.file", cfg.Triggers.File)
	v.SetDefault("scripts.files", cfg.Scripts.Files)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
		if !v.IsSet("game.addr") {
			return Config{}, fmt.Errorf("game.addr is required for config_version %d", CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validateGameConfig(cfg.Game); err != nil {
		return Config{}, err
	}
	if err := validateServiceConfig(cfg.Service); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateGameConfig(cfg GameConfig) error {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return fmt.Errorf("game.addr must not be empty")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("game.addr must be host:port (e.g. mud.example.com:4000): %w", err)
	}
	if cfg.ReconnectSeconds < 0 {
		return fmt.Errorf("game.reconnect_seconds must not be negative")
	}
	return nil
}

func validateServiceConfig(cfg ServiceConfig) error {
	if cfg.HistoryMax < 0 {
		return fmt.Errorf("service.history_max must not be negative")
	}
	if cfg.HandlerWarnMS < 0 {
		return fmt.Errorf("service.handler_warn_ms must not be negative")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.SSH.HostKeyPath = expandEnv(cfg.SSH.HostKeyPath)
	cfg.Triggers.File = expandEnv(cfg.Triggers.File)
	for i, file := range cfg.Scripts.Files {
		cfg.Scripts.Files[i] = expandEnv(file)
	}
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
