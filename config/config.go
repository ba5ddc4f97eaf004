/*
Package config loads the engine's TOML configuration.

PURPOSE:
  One Config struct covers the server, storage, logging and billing
  policy knobs. Defaults are complete: the engine runs with no config
  file at all, and a file only overrides what it names.

FILE FORMAT (TOML):

  [server]
  host = "127.0.0.1"
  port = 8400

  [database]
  path = "./data/clinic.db"

  [logging]
  level = "info"     # trace|debug|info|warn|error
  pretty = false

  [billing]
  pending_max_age = "720h"   # advisory staleness for transfer-pending
*/
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Logging  LoggingConfig  `toml:"logging"`
	Billing  BillingConfig  `toml:"billing"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
}

// ZerologLevel maps the configured level name; unknown names fall back
// to info.
func (l LoggingConfig) ZerologLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(l.Level)
	if err != nil || l.Level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

type BillingConfig struct {
	// PendingMaxAge is the advisory staleness threshold for
	// transfer-pending payments, as a Go duration string. Empty means
	// report everything pending.
	PendingMaxAge string `toml:"pending_max_age"`
}

func (b BillingConfig) PendingAge() time.Duration {
	if b.PendingMaxAge == "" {
		return 0
	}
	d, err := time.ParseDuration(b.PendingMaxAge)
	if err != nil {
		return 0
	}
	return d
}

// DefaultConfig returns the full set of defaults.
func DefaultConfig() Config {
	return Config{
		Server:   ServerConfig{Host: "127.0.0.1", Port: 8400},
		Database: DatabaseConfig{Path: "./data/clinic.db"},
		Logging:  LoggingConfig{Level: "info"},
		Billing:  BillingConfig{PendingMaxAge: ""},
	}
}

// Load reads the TOML file at path over the defaults. A missing file is
// not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}
