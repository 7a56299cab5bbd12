// Copyright 2026 The Downlink Authors
// SPDX-License-Identifier: Apache-2.0

// Downlink-watch is a live terminal dashboard for a recorder's active
// downloads. It connects to the telemetry stream, keeps a local
// projection in sync through disconnects and reconnects, and renders
// it with per-download rates, sizes, and elapsed times.
//
// Configuration comes from a downlink.yaml file (via --config or
// DOWNLINK_CONFIG). The credential can be an inline token or a token
// file; the token file is re-read every few seconds, so rotating the
// credential on disk reconnects the stream and removing it
// disconnects and clears the display.
//
// With --record (or journal.record in the config), every received
// event is journaled to a compressed session file for later replay.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/termenv"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/downlink-systems/downlink/lib/config"
	"github.com/downlink-systems/downlink/lib/journal"
	"github.com/downlink-systems/downlink/lib/version"
	"github.com/downlink-systems/downlink/telemetry"
)

// tokenPollInterval is how often a configured token file is re-read.
const tokenPollInterval = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		record      bool
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("downlink-watch", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to downlink.yaml (default: $DOWNLINK_CONFIG)")
	flagSet.BoolVar(&record, "record", false, "journal every received event to a session file")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("downlink-watch")
		return nil
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("stdout is not a terminal; downlink-watch is interactive")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background log records go to stderr only at warn and above;
	// anything chattier would corrupt the alt-screen display.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	credentials := telemetry.NewTokenStore()
	seedToken(cfg, credentials, logger)
	if cfg.Auth.TokenFile != "" {
		go watchTokenFile(ctx, cfg, credentials, logger)
	}

	options := telemetry.Options{
		Credentials:       credentials,
		Endpoint:          endpoint(cfg),
		Logger:            logger,
		BaseDelay:         config.Duration(cfg.Session.BaseDelay, 0),
		MaxDelay:          config.Duration(cfg.Session.MaxDelay, 0),
		DialTimeout:       config.Duration(cfg.Session.DialTimeout, 0),
		HeartbeatInterval: config.Duration(cfg.Session.Heartbeat, 0),
	}

	if record || cfg.Journal.Record {
		writer, cleanup, err := openJournal(cfg)
		if err != nil {
			return err
		}
		defer cleanup()
		options.Events = func(event telemetry.Event) {
			frame, err := telemetry.EncodeEvent(event)
			if err != nil {
				return
			}
			if err := writer.Append(time.Now(), frame); err != nil {
				logger.Warn("journal write failed", "error", err)
			}
		}
	}

	client, err := telemetry.New(options)
	if err != nil {
		return err
	}
	defer client.Close()

	if cfg.Session.Filter != "" {
		client.SetFilter(cfg.Session.Filter)
	}

	output := termenv.NewOutput(os.Stdout)
	program := tea.NewProgram(
		newModelWithFilter(client, cfg.Session.Filter),
		tea.WithAltScreen(),
		tea.WithOutput(output),
	)
	_, err = program.Run()
	return err
}

// loadConfig resolves the config file from the flag or environment.
func loadConfig(configPath string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// endpoint builds the stream endpoint from the config.
func endpoint(cfg *config.Config) telemetry.Endpoint {
	base := cfg.Server.URL
	if cfg.Server.StreamPath != "" && cfg.Server.StreamPath != telemetry.DefaultStreamPath {
		base += cfg.Server.StreamPath
	}
	return telemetry.ServerEndpoint(base)
}

// seedToken loads the initial credential into the store.
func seedToken(cfg *config.Config, credentials *telemetry.TokenStore, logger *slog.Logger) {
	token, ok, err := cfg.ResolveToken()
	if err != nil {
		logger.Warn("reading credential", "error", err)
		return
	}
	if ok {
		credentials.Set(token)
	}
}

// watchTokenFile polls the token file and pushes changes into the
// store. The client reacts on its own: a new token reconnects, a
// vanished token disconnects and clears the projection.
func watchTokenFile(ctx context.Context, cfg *config.Config, credentials *telemetry.TokenStore, logger *slog.Logger) {
	ticker := time.NewTicker(tokenPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		token, ok, err := cfg.ResolveToken()
		if err != nil {
			logger.Warn("reading credential", "error", err)
			continue
		}
		current, present := credentials.Token()
		switch {
		case ok && (!present || current != token):
			credentials.Set(token)
		case !ok && present:
			credentials.Clear()
		}
	}
}

// openJournal creates a timestamped session journal in the configured
// directory.
func openJournal(cfg *config.Config) (*journal.Writer, func(), error) {
	if err := cfg.EnsureJournalPath(); err != nil {
		return nil, nil, err
	}
	name := fmt.Sprintf("session-%s.dlj", time.Now().UTC().Format("20060102-150405"))
	path := filepath.Join(cfg.Journal.Path, name)
	writer, err := journal.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return writer, func() { writer.Close() }, nil
}
