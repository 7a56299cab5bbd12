// Copyright 2026 The Downlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Downlink commands.
//
// Configuration is loaded from a single file specified by:
//   - DOWNLINK_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures deterministic,
// auditable configuration with no hidden overrides. The only expansion
// performed is ${HOME} and similar path variables for portability.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for Downlink.
type Config struct {
	// Server configures the recorder endpoint.
	Server ServerConfig `yaml:"server"`

	// Auth configures how the client obtains its credential.
	Auth AuthConfig `yaml:"auth"`

	// Session configures connection behavior.
	Session SessionConfig `yaml:"session"`

	// Journal configures optional frame recording.
	Journal JournalConfig `yaml:"journal"`
}

// ServerConfig configures the recorder endpoint.
type ServerConfig struct {
	// URL is the recorder base URL (http:// or https://).
	URL string `yaml:"url"`

	// StreamPath overrides the telemetry stream path.
	// Default: /api/downloads/ws
	StreamPath string `yaml:"stream_path"`
}

// AuthConfig configures credential acquisition. Exactly one of Token
// and TokenFile should be set; TokenFile wins when both are present
// so a file-managed credential cannot be shadowed by a stale inline
// value.
type AuthConfig struct {
	// Token is an inline JWT. Convenient for development; prefer
	// TokenFile so the credential stays out of the config file.
	Token string `yaml:"token"`

	// TokenFile is a path to a file holding the JWT. An empty or
	// missing file means "no credential": the client stays
	// disconnected until the file appears.
	TokenFile string `yaml:"token_file"`
}

// SessionConfig configures connection behavior.
type SessionConfig struct {
	// Filter limits delivery to one streamer. Empty means all.
	Filter string `yaml:"filter"`

	// BaseDelay is the first reconnect delay.
	// Default: 1s
	BaseDelay string `yaml:"base_delay"`

	// MaxDelay caps the reconnect delay.
	// Default: 30s
	MaxDelay string `yaml:"max_delay"`

	// Heartbeat is the client-side ping interval. Empty or "0"
	// disables it; the server pings on its own schedule.
	Heartbeat string `yaml:"heartbeat"`

	// DialTimeout bounds a single connection attempt.
	// Default: 10s
	DialTimeout string `yaml:"dial_timeout"`
}

// JournalConfig configures optional frame recording.
type JournalConfig struct {
	// Path is the directory where journal files are written.
	// Default: ${HOME}/.cache/downlink/journal
	Path string `yaml:"path"`

	// Record enables journaling of every received frame.
	Record bool `yaml:"record"`
}

// Default returns the default configuration. These defaults ensure
// all fields have sensible zero-values; the config file itself is
// still required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Server: ServerConfig{
			StreamPath: "/api/downloads/ws",
		},
		Session: SessionConfig{
			BaseDelay:   "1s",
			MaxDelay:    "30s",
			DialTimeout: "10s",
		},
		Journal: JournalConfig{
			Path: filepath.Join(homeDir, ".cache", "downlink", "journal"),
		},
	}
}

// Load loads configuration from the DOWNLINK_CONFIG environment
// variable. There are no fallbacks: if DOWNLINK_CONFIG is not set,
// this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("DOWNLINK_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("DOWNLINK_CONFIG environment variable not set; " +
			"set it to the path of your downlink.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. The config
// file is the single source of truth; environment variables do not
// override config values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()

	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// path-valued fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Auth.TokenFile = expandVars(c.Auth.TokenFile, vars)
	c.Journal.Path = expandVars(c.Journal.Path, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.URL == "" {
		errs = append(errs, fmt.Errorf("server.url is required"))
	} else if parsed, err := url.Parse(c.Server.URL); err != nil {
		errs = append(errs, fmt.Errorf("server.url: %w", err))
	} else if parsed.Scheme != "http" && parsed.Scheme != "https" {
		errs = append(errs, fmt.Errorf("server.url must use http or https, got %q", parsed.Scheme))
	}

	if c.Server.StreamPath != "" && !strings.HasPrefix(c.Server.StreamPath, "/") {
		errs = append(errs, fmt.Errorf("server.stream_path must start with /"))
	}

	for _, field := range []struct {
		name, value string
	}{
		{"session.base_delay", c.Session.BaseDelay},
		{"session.max_delay", c.Session.MaxDelay},
		{"session.heartbeat", c.Session.Heartbeat},
		{"session.dial_timeout", c.Session.DialTimeout},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field.name, err))
		}
	}

	if c.Journal.Record && c.Journal.Path == "" {
		errs = append(errs, fmt.Errorf("journal.path is required when journal.record is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Duration parses a duration-valued field, returning fallback when the
// field is empty. Call Validate first; this panics on malformed input.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("config: unvalidated duration %q: %v", value, err))
	}
	return d
}

// ResolveToken returns the effective credential: the token file if
// configured and non-empty, otherwise the inline token. A missing or
// empty token file is not an error; it reports ok=false, meaning "no
// credential yet".
func (c *Config) ResolveToken() (token string, ok bool, err error) {
	if c.Auth.TokenFile != "" {
		data, err := os.ReadFile(c.Auth.TokenFile)
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("reading token file: %w", err)
		}
		token := strings.TrimSpace(string(data))
		if token == "" {
			return "", false, nil
		}
		return token, true, nil
	}
	if c.Auth.Token != "" {
		return c.Auth.Token, true, nil
	}
	return "", false, nil
}

// EnsureJournalPath creates the journal directory if needed.
func (c *Config) EnsureJournalPath() error {
	if c.Journal.Path == "" {
		return nil
	}
	if err := os.MkdirAll(c.Journal.Path, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", c.Journal.Path, err)
	}
	return nil
}
