// Copyright 2026 The Downlink Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

// subscription tracks the desired server-side delivery scope: all
// downloads (the default) or a single streamer's. The server never
// remembers a filter across connections, so the client re-emits the
// current one after every successful open.
type subscription struct {
	streamerID string // empty means all
}

// set updates the desired filter. An empty streamerID clears it.
func (s *subscription) set(streamerID string) {
	s.streamerID = streamerID
}

// frame returns the control frame asserting the current filter.
func (s *subscription) frame() ([]byte, error) {
	if s.streamerID == "" {
		return EncodeClearFilter(), nil
	}
	return EncodeSubscribe(s.streamerID)
}
