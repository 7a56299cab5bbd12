// Copyright 2026 The Downlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for components that schedule work:
// reconnect timers, heartbeat tickers, synthetic event emitters.
//
// Production code injects [Real]. Tests inject [Fake] and drive it
// with Advance, which fires expired timers deterministically in
// deadline order. FakeClock.WaitForTimers closes the race between a
// goroutine registering a timer and the test advancing past it:
//
//	fake := clock.Fake(time.Unix(0, 0))
//	go worker(fake)
//	fake.WaitForTimers(1)
//	fake.Advance(time.Second)
//
// This package depends on no other Downlink packages.
package clock
