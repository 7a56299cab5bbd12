// Copyright 2026 The Downlink Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.StreamPath != "/api/downloads/ws" {
		t.Errorf("expected stream_path=/api/downloads/ws, got %s", cfg.Server.StreamPath)
	}
	if cfg.Session.BaseDelay != "1s" {
		t.Errorf("expected base_delay=1s, got %s", cfg.Session.BaseDelay)
	}
	if cfg.Session.MaxDelay != "30s" {
		t.Errorf("expected max_delay=30s, got %s", cfg.Session.MaxDelay)
	}
	if cfg.Journal.Record {
		t.Error("expected journaling off by default")
	}
}

func TestLoad_RequiresDownlinkConfig(t *testing.T) {
	origConfig := os.Getenv("DOWNLINK_CONFIG")
	defer os.Setenv("DOWNLINK_CONFIG", origConfig)

	os.Unsetenv("DOWNLINK_CONFIG")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when DOWNLINK_CONFIG not set, got nil")
	}
	if !strings.Contains(err.Error(), "DOWNLINK_CONFIG environment variable not set") {
		t.Errorf("unexpected error message: %q", err)
	}
}

func TestLoadFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "downlink.yaml")

	configContent := `
server:
  url: https://recorder.example.com
auth:
  token_file: ${HOME}/.config/downlink/token
session:
  filter: streamer-42
  max_delay: 45s
journal:
  record: true
  path: /var/lib/downlink/journal
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Server.URL != "https://recorder.example.com" {
		t.Errorf("server.url: got %s", cfg.Server.URL)
	}
	// Unset fields keep their defaults.
	if cfg.Server.StreamPath != "/api/downloads/ws" {
		t.Errorf("stream_path default lost: got %s", cfg.Server.StreamPath)
	}
	if cfg.Session.BaseDelay != "1s" {
		t.Errorf("base_delay default lost: got %s", cfg.Session.BaseDelay)
	}
	if cfg.Session.MaxDelay != "45s" {
		t.Errorf("max_delay: got %s", cfg.Session.MaxDelay)
	}
	if cfg.Session.Filter != "streamer-42" {
		t.Errorf("filter: got %s", cfg.Session.Filter)
	}
	if !cfg.Journal.Record || cfg.Journal.Path != "/var/lib/downlink/journal" {
		t.Errorf("journal: got %+v", cfg.Journal)
	}

	// ${HOME} is expanded in the token file path.
	home := os.Getenv("HOME")
	if home != "" && !strings.HasPrefix(cfg.Auth.TokenFile, home) {
		t.Errorf("token_file not expanded: got %s", cfg.Auth.TokenFile)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing server url",
			mutate:  func(c *Config) {},
			wantErr: "server.url is required",
		},
		{
			name: "bad scheme",
			mutate: func(c *Config) {
				c.Server.URL = "ftp://recorder.example.com"
			},
			wantErr: "must use http or https",
		},
		{
			name: "relative stream path",
			mutate: func(c *Config) {
				c.Server.URL = "http://recorder.example.com"
				c.Server.StreamPath = "api/ws"
			},
			wantErr: "must start with /",
		},
		{
			name: "malformed duration",
			mutate: func(c *Config) {
				c.Server.URL = "http://recorder.example.com"
				c.Session.Heartbeat = "ten seconds"
			},
			wantErr: "session.heartbeat",
		},
		{
			name: "journal record without path",
			mutate: func(c *Config) {
				c.Server.URL = "http://recorder.example.com"
				c.Journal.Record = true
				c.Journal.Path = ""
			},
			wantErr: "journal.path is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("", 10*time.Second); got != 10*time.Second {
		t.Errorf("empty: got %v", got)
	}
	if got := Duration("45s", 10*time.Second); got != 45*time.Second {
		t.Errorf("45s: got %v", got)
	}
}

func TestResolveToken(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("inline token", func(t *testing.T) {
		cfg := Default()
		cfg.Auth.Token = "inline-jwt"
		token, ok, err := cfg.ResolveToken()
		if err != nil || !ok || token != "inline-jwt" {
			t.Errorf("got %q, %v, %v", token, ok, err)
		}
	})

	t.Run("token file wins over inline", func(t *testing.T) {
		path := filepath.Join(tmpDir, "token")
		if err := os.WriteFile(path, []byte("file-jwt\n"), 0600); err != nil {
			t.Fatal(err)
		}
		cfg := Default()
		cfg.Auth.Token = "inline-jwt"
		cfg.Auth.TokenFile = path
		token, ok, err := cfg.ResolveToken()
		if err != nil || !ok || token != "file-jwt" {
			t.Errorf("got %q, %v, %v", token, ok, err)
		}
	})

	t.Run("missing token file means no credential", func(t *testing.T) {
		cfg := Default()
		cfg.Auth.TokenFile = filepath.Join(tmpDir, "does-not-exist")
		token, ok, err := cfg.ResolveToken()
		if err != nil || ok || token != "" {
			t.Errorf("got %q, %v, %v", token, ok, err)
		}
	})

	t.Run("empty token file means no credential", func(t *testing.T) {
		path := filepath.Join(tmpDir, "empty")
		if err := os.WriteFile(path, []byte("  \n"), 0600); err != nil {
			t.Fatal(err)
		}
		cfg := Default()
		cfg.Auth.TokenFile = path
		_, ok, err := cfg.ResolveToken()
		if err != nil || ok {
			t.Errorf("got ok=%v, err=%v", ok, err)
		}
	})

	t.Run("nothing configured", func(t *testing.T) {
		cfg := Default()
		_, ok, err := cfg.ResolveToken()
		if err != nil || ok {
			t.Errorf("got ok=%v, err=%v", ok, err)
		}
	})
}
