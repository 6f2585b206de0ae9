// Package config loads chat server configuration from defaults, an optional
// TOML file, and CHATSERVER_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds the full runtime configuration of the chat server.
type Config struct {
	Server struct {
		Addr           string   `koanf:"addr"`
		AllowedOrigins []string `koanf:"allowed_origins"`
		ReadLimit      int64    `koanf:"read_limit"`
		EventRate      float64  `koanf:"event_rate"`
		EventBurst     int      `koanf:"event_burst"`
	} `koanf:"server"`

	Mongo struct {
		URI      string `koanf:"uri"`
		Database string `koanf:"database"`
	} `koanf:"mongo"`

	Auth struct {
		PublicKeyPath     string `koanf:"public_key_path"`
		AttemptsPerMinute int    `koanf:"attempts_per_minute"`
	} `koanf:"auth"`
}

// Load reads configuration in increasing priority: built-in defaults, the TOML
// file at configPath (or a default location when empty), then environment
// variables with the CHATSERVER_ prefix.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	k.Load(confmap.Provider(map[string]interface{}{
		"server.addr":              ":8080",
		"server.allowed_origins":   []string{"http://localhost:3000"},
		"server.read_limit":        4096,
		"server.event_rate":        10.0,
		"server.event_burst":       20,
		"mongo.uri":                "mongodb://localhost:27017",
		"mongo.database":           "boardchat",
		"auth.public_key_path":     "public.pem",
		"auth.attempts_per_minute": 10,
	}, "."), nil)

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		for _, path := range []string{"./chatserver.toml", "$HOME/.chatserver.toml"} {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	k.Load(env.Provider("CHATSERVER_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "CHATSERVER_")), "_", ".", 1)
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the parts of the configuration that have no workable default.
func Validate(cfg *Config) error {
	if cfg.Mongo.URI == "" {
		return fmt.Errorf("mongo uri is required")
	}
	if cfg.Mongo.Database == "" {
		return fmt.Errorf("mongo database name is required")
	}
	if cfg.Auth.PublicKeyPath == "" {
		return fmt.Errorf("auth public key path is required")
	}
	return nil
}
