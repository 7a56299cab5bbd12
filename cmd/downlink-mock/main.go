// Copyright 2026 The Downlink Authors
// SPDX-License-Identifier: Apache-2.0

// Downlink-mock is a stand-in recorder for client development and
// integration tests. It serves the telemetry WebSocket endpoint,
// simulates download jobs from a scenario file, and honors the
// subscribe and clear-filter control frames exactly like the real
// recorder: snapshot on connect, filtered event stream afterwards.
//
// With --token set, connections must carry the matching ?token= query
// parameter; anything else is rejected with 401. Without it, all
// connections are accepted.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"nhooyr.io/websocket"

	"github.com/downlink-systems/downlink/lib/version"
	"github.com/downlink-systems/downlink/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		listenAddr   string
		scenarioPath string
		token        string
		tick         time.Duration
		showVersion  bool
	)

	flagSet := pflag.NewFlagSet("downlink-mock", pflag.ContinueOnError)
	flagSet.StringVar(&listenAddr, "listen", "127.0.0.1:8585", "address to serve on")
	flagSet.StringVar(&scenarioPath, "scenario", "", "JSONC scenario file (default: built-in two-job loop)")
	flagSet.StringVar(&token, "token", "", "required ?token= value; empty accepts everything")
	flagSet.DurationVar(&tick, "tick", time.Second, "simulation tick interval")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("downlink-mock")
		return nil
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	scenario := DefaultScenario()
	if scenarioPath != "" {
		loaded, err := LoadScenario(scenarioPath)
		if err != nil {
			return err
		}
		scenario = loaded
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h := newHub(logger, scenario, tick)
	go h.run(ctx)

	server := &http.Server{
		Addr: listenAddr,
		Handler: &streamHandler{
			logger: logger,
			hub:    h,
			token:  token,
		},
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.ListenAndServe()
	}()

	logger.Info("mock recorder running",
		"listen", listenAddr,
		"path", telemetry.DefaultStreamPath,
		"downloads", len(scenario.Downloads),
		"loop", scenario.Loop,
	)

	select {
	case <-ctx.Done():
	case err := <-serveDone:
		return err
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// streamHandler upgrades connections on the telemetry stream path and
// runs one session per connection.
type streamHandler struct {
	logger *slog.Logger
	hub    *hub
	token  string
}

func (sh *streamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != telemetry.DefaultStreamPath {
		http.NotFound(w, r)
		return
	}
	if sh.token != "" && r.URL.Query().Get("token") != sh.token {
		sh.logger.Warn("rejected connection", "remote", r.RemoteAddr, "reason", "bad token")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		sh.logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sh.logger.Info("client connected", "remote", r.RemoteAddr)
	sh.serve(r.Context(), conn)
	sh.logger.Info("client disconnected", "remote", r.RemoteAddr)
}

// serve runs one client session: initial snapshot, then concurrent
// event pushing and control-frame reading until either side drops.
func (sh *streamHandler) serve(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := &session{frames: make(chan []byte, 64)}

	snapshot, err := sh.hub.attach(s)
	if err != nil {
		sh.logger.Error("building snapshot", "error", err)
		return
	}
	defer sh.hub.detach(s)

	// The snapshot goes through the same channel as simulation
	// frames so there is exactly one writer on the connection.
	s.frames <- snapshot

	// Writer: pushes frames until the session ends.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for {
			select {
			case <-ctx.Done():
				return
			case frame := <-s.frames:
				if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	// Reader: applies control frames from the client.
	for {
		messageType, data, err := conn.Read(ctx)
		if err != nil {
			cancel()
			<-writeDone
			return
		}
		if messageType != websocket.MessageBinary {
			continue
		}

		control, err := telemetry.DecodeControl(data)
		if err != nil {
			sh.logger.Warn("dropping malformed control frame", "error", err)
			continue
		}

		var streamerID string
		if control.Type == telemetry.FrameSubscribe {
			streamerID = control.StreamerID
		}
		snapshot, err := sh.hub.setFilter(s, streamerID)
		if err != nil {
			sh.logger.Error("building snapshot", "error", err)
			continue
		}
		sh.logger.Info("filter updated", "streamer_id", streamerID)
		select {
		case s.frames <- snapshot:
		case <-ctx.Done():
			<-writeDone
			return
		}
	}
}
