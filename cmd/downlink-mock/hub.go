// Copyright 2026 The Downlink Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/downlink-systems/downlink/telemetry"
)

// hub owns the simulated download state and fans events out to
// connected sessions. One goroutine (run) drives the simulation; the
// session handlers only register, deregister, and change filters.
type hub struct {
	logger   *slog.Logger
	scenario *Scenario
	tick     time.Duration

	mu       sync.Mutex
	order    []string
	jobs     map[string]*job
	pending  []pendingStart
	sessions map[*session]struct{}
}

// job is one live simulated download.
type job struct {
	download telemetry.Download
	spec     ScenarioDownload
	endsAt   time.Time
}

// pendingStart is a scheduled job launch.
type pendingStart struct {
	spec ScenarioDownload
	at   time.Time
}

// session is one connected WebSocket client. Frames are pushed with
// non-blocking sends: a slow reader drops frames rather than stalling
// the simulation. The next snapshot resynchronizes it.
type session struct {
	frames chan []byte

	mu     sync.Mutex
	filter string // empty means all streamers
}

func newHub(logger *slog.Logger, scenario *Scenario, tick time.Duration) *hub {
	h := &hub{
		logger:   logger,
		scenario: scenario,
		tick:     tick,
		jobs:     make(map[string]*job),
		sessions: make(map[*session]struct{}),
	}

	now := time.Now()
	for i, spec := range scenario.Downloads {
		h.pending = append(h.pending, pendingStart{
			spec: spec,
			at:   now.Add(time.Duration(i) * scenario.stagger()),
		})
	}
	return h
}

// run drives the simulation until the context is cancelled.
func (h *hub) run(ctx context.Context) {
	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.step(now)
		}
	}
}

// step advances the simulation by one tick: launches due jobs,
// publishes progress and segment events, and terminates finished
// jobs.
func (h *hub) step(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Launch due jobs.
	var stillPending []pendingStart
	for _, start := range h.pending {
		if now.Before(start.at) {
			stillPending = append(stillPending, start)
			continue
		}
		h.launchLocked(start.spec, now)
	}
	h.pending = stillPending

	for _, id := range append([]string(nil), h.order...) {
		j := h.jobs[id]
		if !now.Before(j.endsAt) {
			h.finishLocked(j, now)
			continue
		}
		h.progressLocked(j, now)
	}
}

// launchLocked creates a new job and publishes its started event.
func (h *hub) launchLocked(spec ScenarioDownload, now time.Time) {
	sessionID := spec.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	download := telemetry.Download{
		ID:          uuid.NewString(),
		StreamerID:  spec.StreamerID,
		SessionID:   sessionID,
		Engine:      spec.Engine,
		State:       telemetry.StateDownloading,
		StartedAtMS: now.UnixMilli(),
	}

	j := &job{
		download: download,
		spec:     spec,
		endsAt:   now.Add(spec.duration()),
	}
	h.order = append(h.order, download.ID)
	h.jobs[download.ID] = j

	h.logger.Info("download started",
		"download_id", download.ID,
		"streamer_id", download.StreamerID,
		"outcome", spec.outcome(),
	)
	h.publishLocked(spec.StreamerID, telemetry.StartedEvent{Download: download})
}

// progressLocked advances a live job's metrics and publishes progress
// and any newly crossed segment boundaries.
func (h *hub) progressLocked(j *job, now time.Time) {
	elapsed := now.Sub(j.download.Started())
	total := j.spec.duration()

	// Jitter the byte rate slightly so the numbers look alive.
	rate := float64(j.spec.BytesPerSecond) * (0.9 + 0.2*rand.Float64())

	previousSegments := j.download.Metrics.SegmentsCompleted

	j.download.Metrics = telemetry.Metrics{
		BytesDownloaded:      uint64(elapsed.Seconds() * rate),
		DurationSeconds:      elapsed.Seconds(),
		SpeedBytesPerSec:     uint64(rate),
		SegmentsCompleted:    previousSegments,
		MediaDurationSeconds: elapsed.Seconds(),
		PlaybackRatio:        1.0,
	}

	if j.spec.Segments > 0 {
		segmentEvery := total / time.Duration(j.spec.Segments)
		due := uint64(elapsed / segmentEvery)
		for j.download.Metrics.SegmentsCompleted < due {
			j.download.Metrics.SegmentsCompleted++
			h.publishLocked(j.download.StreamerID, telemetry.SegmentEvent{
				DownloadID: j.download.ID,
				StreamerID: j.download.StreamerID,
				Path:       segmentPath(j.download, j.download.Metrics.SegmentsCompleted),
				Sequence:   j.download.Metrics.SegmentsCompleted,
			})
		}
	}

	h.publishLocked(j.download.StreamerID, telemetry.ProgressEvent{
		DownloadID: j.download.ID,
		StreamerID: j.download.StreamerID,
		SessionID:  j.download.SessionID,
		Metrics:    j.download.Metrics,
	})
}

// finishLocked removes a job and publishes its terminal event. With
// looping enabled the job is rescheduled after one stagger interval.
func (h *hub) finishLocked(j *job, now time.Time) {
	id := j.download.ID
	delete(h.jobs, id)
	for i, existing := range h.order {
		if existing == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}

	var event telemetry.Event
	switch j.spec.outcome() {
	case "failed":
		event = telemetry.FailedEvent{
			DownloadID: id,
			StreamerID: j.download.StreamerID,
			Reason:     j.spec.FailReason,
		}
	case "cancelled":
		event = telemetry.CancelledEvent{
			DownloadID: id,
			StreamerID: j.download.StreamerID,
		}
	default:
		event = telemetry.CompletedEvent{
			DownloadID: id,
			StreamerID: j.download.StreamerID,
		}
	}

	h.logger.Info("download finished",
		"download_id", id,
		"streamer_id", j.download.StreamerID,
		"outcome", j.spec.outcome(),
	)
	h.publishLocked(j.download.StreamerID, event)

	if h.scenario.Loop {
		h.pending = append(h.pending, pendingStart{
			spec: j.spec,
			at:   now.Add(h.scenario.stagger()),
		})
	}
}

// publishLocked encodes an event once and fans it out to every
// session whose filter matches the streamer.
func (h *hub) publishLocked(streamerID string, event telemetry.Event) {
	frame, err := telemetry.EncodeEvent(event)
	if err != nil {
		h.logger.Error("encoding event", "frame_type", event.FrameType(), "error", err)
		return
	}
	for s := range h.sessions {
		if !s.matches(streamerID) {
			continue
		}
		select {
		case s.frames <- frame:
		default:
		}
	}
}

// attach registers a session and returns its initial snapshot frame.
func (h *hub) attach(s *session) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s] = struct{}{}
	return h.snapshotLocked(s)
}

func (h *hub) detach(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, s)
}

// setFilter updates a session's filter and returns a fresh snapshot
// scoped to it. The client replaces its projection wholesale on
// snapshot, so this resynchronizes cleanly.
func (h *hub) setFilter(s *session, streamerID string) ([]byte, error) {
	s.mu.Lock()
	s.filter = streamerID
	s.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked(s)
}

// snapshotLocked builds the snapshot frame for a session, honoring
// its filter, in launch order.
func (h *hub) snapshotLocked(s *session) ([]byte, error) {
	downloads := make([]telemetry.Download, 0, len(h.order))
	for _, id := range h.order {
		j := h.jobs[id]
		if !s.matches(j.download.StreamerID) {
			continue
		}
		downloads = append(downloads, j.download)
	}
	return telemetry.EncodeEvent(telemetry.SnapshotEvent{Downloads: downloads})
}

func (s *session) matches(streamerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter == "" || s.filter == streamerID
}

func segmentPath(download telemetry.Download, sequence uint64) string {
	return fmt.Sprintf("/recordings/%s/%s/segment-%05d.ts",
		download.StreamerID, download.SessionID, sequence)
}
