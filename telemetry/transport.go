// Copyright 2026 The Downlink Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"nhooyr.io/websocket"
)

// maxFrameBytes caps the size of a single inbound frame. A snapshot
// of a few hundred downloads is well under a megabyte; 4 MB leaves
// ample headroom.
const maxFrameBytes = 4 * 1024 * 1024

// Transport is one established connection to the event stream. Read
// delivers whole binary frames in server order. Implementations must
// unblock pending reads when the context is cancelled or the
// transport is closed.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error

	// Ping probes connection liveness. Used by the optional client
	// heartbeat.
	Ping(ctx context.Context) error

	Close() error
}

// Dialer opens transports. The client uses a [WebSocketDialer] by
// default; tests substitute fakes.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WebSocketDialer dials the stream endpoint over WebSocket.
type WebSocketDialer struct {
	// HTTPClient overrides the client used for the opening
	// handshake. Nil means http.DefaultClient.
	HTTPClient *http.Client
}

// Dial opens a WebSocket connection to url.
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(maxFrameBytes)
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

// Read returns the next binary frame. Non-binary messages (the
// server only ever sends binary; text would be a foreign client's
// leak) are skipped rather than treated as protocol errors.
func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	for {
		messageType, data, err := t.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if messageType != websocket.MessageBinary {
			continue
		}
		return data, nil
	}
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageBinary, data)
}

func (t *wsTransport) Ping(ctx context.Context) error {
	return t.conn.Ping(ctx)
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "client closing")
}
