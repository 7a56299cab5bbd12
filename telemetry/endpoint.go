// Copyright 2026 The Downlink Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"fmt"
	"net/url"
)

// DefaultStreamPath is the recorder's download event stream route.
const DefaultStreamPath = "/api/downloads/ws"

// Endpoint builds a connectable URL for a credential. The client
// treats endpoint construction as opaque: it asks for a URL whenever
// it is about to dial, so a rotated token is picked up on the next
// attempt.
type Endpoint func(token string) (string, error)

// ServerEndpoint returns an Endpoint for a recorder at baseURL.
// http/https schemes convert to ws/wss; ws/wss pass through. If the
// base URL has no path, [DefaultStreamPath] is appended. The token
// travels as the `token` query parameter, which is how the recorder
// authenticates stream handshakes.
func ServerEndpoint(baseURL string) Endpoint {
	return func(token string) (string, error) {
		u, err := url.Parse(baseURL)
		if err != nil {
			return "", fmt.Errorf("parse base URL: %w", err)
		}
		switch u.Scheme {
		case "http":
			u.Scheme = "ws"
		case "https":
			u.Scheme = "wss"
		case "ws", "wss":
		default:
			return "", fmt.Errorf("base URL %q: unsupported scheme %q", baseURL, u.Scheme)
		}
		if u.Path == "" || u.Path == "/" {
			u.Path = DefaultStreamPath
		}
		query := u.Query()
		query.Set("token", token)
		u.RawQuery = query.Encode()
		return u.String(), nil
	}
}
