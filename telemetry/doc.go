// Copyright 2026 The Downlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry implements Downlink's live download-progress
// client: a persistent connection to a recorder's event stream,
// reduced into an always-consistent local projection of the active
// downloads.
//
// The package is organized around the synchronization data flow:
//
//   - protocol.go: wire format — one discriminator byte plus a CBOR
//     payload per frame, with the event and control codecs
//   - store.go: the projection, an insertion-ordered map of active
//     downloads folded from the event sequence
//   - subscription.go: the desired server-side delivery filter,
//     re-asserted after every successful connect
//   - client.go: connection lifecycle — dialing, the reconcile loop,
//     reconnect backoff, credential coupling, teardown
//   - transport.go: the connection abstraction and its WebSocket
//     implementation
//
// A [Client] owns one logical connection. All protocol state lives on
// a single reconcile goroutine fed by an ordered message channel;
// dial attempts and the transport read loop run on helper goroutines
// that only post messages into it, so the [Store] and the filter need
// no internal ordering logic of their own. The reconnect timer is the
// only independently scheduled activity, and it carries a generation
// counter so a timer that fires after a deliberate disconnect is
// ignored rather than resurrecting the connection.
//
// The projection survives a transient connection drop — the last
// known state stays visible, marked stale by the connection status —
// but is cleared on deliberate teardown: a revoked credential must
// not leave a logged-out session showing live downloads.
package telemetry
