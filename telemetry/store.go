// Copyright 2026 The Downlink Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import "sync"

// Store is the projection: the client's reconstructed view of the
// server's active downloads, keyed by download ID and ordered by
// insertion. A download is present exactly when the server has
// reported it active, no terminal event for it has since arrived,
// and no snapshot has omitted it.
//
// All mutations are applied by the client's reconcile goroutine in
// strict arrival order, so the fold over the event sequence is
// well-defined. The mutex exists only so concurrent readers (the
// rendering layer) see consistent copies.
type Store struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]Download
}

// NewStore returns an empty projection.
func NewStore() *Store {
	return &Store{entries: make(map[string]Download)}
}

// ApplySnapshot replaces the projection wholesale with the server's
// full view. Output order follows the order the entries were
// received. Entries the server reports in a terminal state are not
// retained: the projection holds only live downloads.
func (s *Store) ApplySnapshot(downloads []Download) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = s.order[:0]
	clear(s.entries)
	for _, download := range downloads {
		if download.State.Terminal() || download.ID == "" {
			continue
		}
		if _, exists := s.entries[download.ID]; !exists {
			s.order = append(s.order, download.ID)
		}
		s.entries[download.ID] = download
	}
}

// ApplyStarted inserts a download. Inserting an ID that already
// exists overwrites the entry in place, keeping its original
// position — duplicate started events across a reconnect boundary
// are idempotent.
func (s *Store) ApplyStarted(download Download) {
	if download.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[download.ID]; !exists {
		s.order = append(s.order, download.ID)
	}
	s.entries[download.ID] = download
}

// ApplyProgress merges new metrics into an existing entry, leaving
// every identity field untouched. A progress update for an unknown
// ID is discarded and false is returned: metrics can only refine an
// already-known download, which guards against reordering artifacts
// across a reconnect boundary.
func (s *Store) ApplyProgress(id string, metrics Metrics) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[id]
	if !exists {
		return false
	}
	entry.Metrics = metrics
	s.entries[id] = entry
	return true
}

// ApplyTerminal removes the entry for id, if present. Removing an
// absent ID is a silent no-op, so duplicate terminal deliveries have
// no effect. Returns whether an entry was removed.
func (s *Store) ApplyTerminal(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[id]; !exists {
		return false
	}
	delete(s.entries, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Clear empties the projection.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = s.order[:0]
	clear(s.entries)
}

// Active returns a copy of the projection in insertion order.
func (s *Store) Active() []Download {
	s.mu.RLock()
	defer s.mu.RUnlock()

	downloads := make([]Download, 0, len(s.order))
	for _, id := range s.order {
		downloads = append(downloads, s.entries[id])
	}
	return downloads
}

// Get returns the entry for id.
func (s *Store) Get(id string) (Download, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	download, ok := s.entries[id]
	return download, ok
}

// Len returns the number of active downloads.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
