// Copyright 2026 The Downlink Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/downlink-systems/downlink/telemetry"
)

// testScenario never finishes a job on its own, so tests control the
// simulation entirely through hub.step.
func testScenario() *Scenario {
	return &Scenario{
		Downloads: []ScenarioDownload{
			{StreamerID: "streamer-alpha", Engine: "ffmpeg", Duration: "1h", BytesPerSecond: 1_000_000},
			{StreamerID: "streamer-beta", Engine: "streamlink", Duration: "1h", BytesPerSecond: 500_000},
		},
		StartStagger: "1ms",
	}
}

func startMockServer(t *testing.T, h *hub, token string) string {
	t.Helper()
	server := httptest.NewServer(&streamHandler{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		hub:    h,
		token:  token,
	})
	t.Cleanup(server.Close)
	return server.URL
}

// readEvent reads frames until one decodes as an event of type E,
// skipping everything else (progress frames interleave freely).
func readEvent[E telemetry.Event](t *testing.T, ctx context.Context, transport telemetry.Transport) E {
	t.Helper()
	for {
		frame, err := transport.Read(ctx)
		if err != nil {
			t.Fatalf("reading frame: %v", err)
		}
		event, err := telemetry.DecodeEvent(frame)
		if err != nil {
			t.Fatalf("decoding frame %x: %v", frame, err)
		}
		if match, ok := event.(E); ok {
			return match
		}
	}
}

func TestHubStreamsOverWebSocket(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := newHub(logger, testScenario(), time.Second)
	baseURL := startMockServer(t, h, "")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url, err := telemetry.ServerEndpoint(baseURL)("")
	if err != nil {
		t.Fatalf("building URL: %v", err)
	}
	dialer := &telemetry.WebSocketDialer{}
	transport, err := dialer.Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer transport.Close()

	// The connection opens with a snapshot. Nothing has launched
	// yet, so it is empty.
	snapshot := readEvent[telemetry.SnapshotEvent](t, ctx, transport)
	if len(snapshot.Downloads) != 0 {
		t.Fatalf("initial snapshot has %d downloads, want 0", len(snapshot.Downloads))
	}

	// One step past the stagger launches both jobs.
	h.step(time.Now().Add(time.Second))

	seen := map[string]bool{}
	for len(seen) < 2 {
		started := readEvent[telemetry.StartedEvent](t, ctx, transport)
		seen[started.Download.StreamerID] = true
	}
	if !seen["streamer-alpha"] || !seen["streamer-beta"] {
		t.Fatalf("started events for %v, want both streamers", seen)
	}

	// Subscribing narrows the stream and yields a scoped snapshot.
	subscribe, err := telemetry.EncodeSubscribe("streamer-alpha")
	if err != nil {
		t.Fatalf("EncodeSubscribe: %v", err)
	}
	if err := transport.Write(ctx, subscribe); err != nil {
		t.Fatalf("writing subscribe: %v", err)
	}
	snapshot = readEvent[telemetry.SnapshotEvent](t, ctx, transport)
	if len(snapshot.Downloads) != 1 || snapshot.Downloads[0].StreamerID != "streamer-alpha" {
		t.Fatalf("scoped snapshot = %+v, want only streamer-alpha", snapshot.Downloads)
	}

	// Clearing the filter restores the full view.
	if err := transport.Write(ctx, telemetry.EncodeClearFilter()); err != nil {
		t.Fatalf("writing clear-filter: %v", err)
	}
	snapshot = readEvent[telemetry.SnapshotEvent](t, ctx, transport)
	if len(snapshot.Downloads) != 2 {
		t.Fatalf("full snapshot has %d downloads, want 2", len(snapshot.Downloads))
	}
}

func TestStreamHandlerRequiresToken(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := newHub(logger, testScenario(), time.Second)
	baseURL := startMockServer(t, h, "secret")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	endpoint := telemetry.ServerEndpoint(baseURL)
	dialer := &telemetry.WebSocketDialer{}

	wrongURL, err := endpoint("wrong")
	if err != nil {
		t.Fatalf("building URL: %v", err)
	}
	if _, err := dialer.Dial(ctx, wrongURL); err == nil {
		t.Fatal("dial with a bad token succeeded, want rejection")
	}

	goodURL, err := endpoint("secret")
	if err != nil {
		t.Fatalf("building URL: %v", err)
	}
	transport, err := dialer.Dial(ctx, goodURL)
	if err != nil {
		t.Fatalf("dial with the right token: %v", err)
	}
	defer transport.Close()

	// The handshake completes with the usual snapshot.
	readEvent[telemetry.SnapshotEvent](t, ctx, transport)
}

func TestSessionFilterMatching(t *testing.T) {
	t.Parallel()

	s := &session{frames: make(chan []byte, 1)}
	if !s.matches("anyone") {
		t.Error("empty filter should match every streamer")
	}

	s.filter = "streamer-alpha"
	if !s.matches("streamer-alpha") {
		t.Error("filter should match its own streamer")
	}
	if s.matches("streamer-beta") {
		t.Error("filter should exclude other streamers")
	}
}
