// Copyright 2026 The Downlink Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import "sync"

// CredentialSource supplies the bearer token used to open the event
// stream. The authentication layer owns the token's lifecycle; the
// client only observes it. Presence of a token drives connection
// attempts, absence drives teardown.
type CredentialSource interface {
	// Token returns the current credential. ok is false when no
	// session is active.
	Token() (token string, ok bool)

	// Subscribe registers f to run after every credential change.
	// The returned function unregisters it. f must not block.
	Subscribe(f func()) (unsubscribe func())
}

// StaticToken is a CredentialSource with a fixed token and no change
// notifications. An empty StaticToken means "never authenticated".
type StaticToken string

func (s StaticToken) Token() (string, bool) { return string(s), s != "" }

func (s StaticToken) Subscribe(func()) func() { return func() {} }

// TokenStore is a mutable CredentialSource for wiring into an
// authentication layer: Set on login or refresh, Clear on logout or
// revocation. Safe for concurrent use.
type TokenStore struct {
	mu          sync.Mutex
	token       string
	subscribers map[int]func()
	nextID      int
}

// NewTokenStore returns a TokenStore with no credential.
func NewTokenStore() *TokenStore {
	return &TokenStore{subscribers: make(map[int]func())}
}

// Set replaces the credential and notifies subscribers.
func (s *TokenStore) Set(token string) {
	s.mu.Lock()
	s.token = token
	notify := s.subscribersLocked()
	s.mu.Unlock()
	for _, f := range notify {
		f()
	}
}

// Clear removes the credential and notifies subscribers.
func (s *TokenStore) Clear() { s.Set("") }

// Token returns the current credential.
func (s *TokenStore) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.token != ""
}

// Subscribe registers f to run after every Set or Clear.
func (s *TokenStore) Subscribe(f func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = f
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// subscribersLocked snapshots the subscriber list so notifications
// run without holding the lock.
func (s *TokenStore) subscribersLocked() []func() {
	notify := make([]func(), 0, len(s.subscribers))
	for _, f := range s.subscribers {
		notify = append(notify, f)
	}
	return notify
}
