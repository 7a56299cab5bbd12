// Copyright 2026 The Downlink Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// wsTestServer runs handler for each WebSocket connection accepted on
// a httptest server and returns the ws:// URL.
func wsTestServer(t *testing.T, handler func(ctx context.Context, conn *websocket.Conn)) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		handler(r.Context(), conn)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWebSocketTransportRoundTrip(t *testing.T) {
	t.Parallel()

	url := wsTestServer(t, func(ctx context.Context, conn *websocket.Conn) {
		// Push one frame, then echo whatever the client sends.
		if err := conn.Write(ctx, websocket.MessageBinary, []byte{0x01, 0xAA}); err != nil {
			return
		}
		for {
			messageType, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if err := conn.Write(ctx, messageType, data); err != nil {
				return
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dialer := &WebSocketDialer{}
	transport, err := dialer.Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer transport.Close()

	frame, err := transport.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(frame, []byte{0x01, 0xAA}) {
		t.Errorf("first frame: got %x", frame)
	}

	sent, err := EncodeSubscribe("streamer-1")
	if err != nil {
		t.Fatalf("EncodeSubscribe: %v", err)
	}
	if err := transport.Write(ctx, sent); err != nil {
		t.Fatalf("Write: %v", err)
	}
	echoed, err := transport.Read(ctx)
	if err != nil {
		t.Fatalf("Read echo: %v", err)
	}
	if !bytes.Equal(echoed, sent) {
		t.Errorf("echo mismatch: sent %x, got %x", sent, echoed)
	}

	if err := transport.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestWebSocketTransportSkipsTextMessages(t *testing.T) {
	t.Parallel()

	url := wsTestServer(t, func(ctx context.Context, conn *websocket.Conn) {
		if err := conn.Write(ctx, websocket.MessageText, []byte("debug chatter")); err != nil {
			return
		}
		if err := conn.Write(ctx, websocket.MessageBinary, []byte{0x03, 0x42}); err != nil {
			return
		}
		// Hold the connection open until the client is done.
		conn.Read(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dialer := &WebSocketDialer{}
	transport, err := dialer.Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer transport.Close()

	frame, err := transport.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(frame, []byte{0x03, 0x42}) {
		t.Errorf("got %x, want the binary frame, not the text one", frame)
	}
}

func TestWebSocketTransportReadFailsAfterServerClose(t *testing.T) {
	t.Parallel()

	url := wsTestServer(t, func(ctx context.Context, conn *websocket.Conn) {
		conn.Close(websocket.StatusGoingAway, "shutting down")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dialer := &WebSocketDialer{}
	transport, err := dialer.Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer transport.Close()

	if _, err := transport.Read(ctx); err == nil {
		t.Error("expected read error after server close")
	}
}

func TestWebSocketDialFailure(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dialer := &WebSocketDialer{}
	if _, err := dialer.Dial(ctx, "ws://127.0.0.1:1/api/downloads/ws"); err == nil {
		t.Error("expected dial error for unreachable address")
	}
}
