// Copyright 2026 The Downlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Downlink's standard CBOR encoding
// configuration.
//
// Every frame payload on the telemetry wire, every journal record,
// and every scripted scenario value encodes through the modes defined
// here, so the whole module serializes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding
// (RFC 8949 §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. The same logical frame always produces
// identical bytes, which keeps journal checksums and test fixtures
// stable.
//
// The decoder ignores unknown fields, so a newer server may add
// payload fields without breaking older clients.
package codec
