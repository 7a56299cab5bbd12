// Copyright 2026 The Downlink Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tidwall/jsonc"
)

// Scenario describes the synthetic download workload. Scenario files
// are JSON with comments (JSONC) so they can document themselves.
type Scenario struct {
	// Downloads are the jobs the mock simulates, started in order.
	Downloads []ScenarioDownload `json:"downloads"`

	// StartStagger is the delay between successive job starts.
	StartStagger string `json:"start_stagger"`

	// Loop restarts each job after it reaches a terminal state, so
	// the stream never runs dry during UI development.
	Loop bool `json:"loop"`
}

// ScenarioDownload is one synthetic job.
type ScenarioDownload struct {
	StreamerID string `json:"streamer_id"`
	SessionID  string `json:"session_id"`
	Engine     string `json:"engine"`

	// Duration is how long the job runs before its outcome.
	Duration string `json:"duration"`

	// Segments is the number of segment-completed events spread
	// evenly across the job's lifetime.
	Segments int `json:"segments"`

	// BytesPerSecond drives the synthetic progress metrics.
	BytesPerSecond uint64 `json:"bytes_per_second"`

	// Outcome is the terminal event: completed, failed, or
	// cancelled. Defaults to completed.
	Outcome string `json:"outcome"`

	// FailReason is the reason attached to a failed outcome.
	FailReason string `json:"fail_reason"`
}

// DefaultScenario is used when no --scenario file is given: two
// looping jobs with different rates.
func DefaultScenario() *Scenario {
	return &Scenario{
		Downloads: []ScenarioDownload{
			{
				StreamerID:     "streamer-alpha",
				Engine:         "ffmpeg",
				Duration:       "45s",
				Segments:       9,
				BytesPerSecond: 2_500_000,
			},
			{
				StreamerID:     "streamer-beta",
				Engine:         "streamlink",
				Duration:       "30s",
				Segments:       6,
				BytesPerSecond: 800_000,
				Outcome:        "failed",
				FailReason:     "stream ended unexpectedly",
			},
		},
		StartStagger: "3s",
		Loop:         true,
	}
}

// LoadScenario reads and validates a JSONC scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var scenario Scenario
	if err := json.Unmarshal(jsonc.ToJSON(data), &scenario); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := scenario.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &scenario, nil
}

func (s *Scenario) validate() error {
	if len(s.Downloads) == 0 {
		return fmt.Errorf("scenario has no downloads")
	}
	if s.StartStagger != "" {
		if _, err := time.ParseDuration(s.StartStagger); err != nil {
			return fmt.Errorf("start_stagger: %w", err)
		}
	}
	for i, download := range s.Downloads {
		if download.StreamerID == "" {
			return fmt.Errorf("downloads[%d]: streamer_id is required", i)
		}
		if download.Duration != "" {
			if _, err := time.ParseDuration(download.Duration); err != nil {
				return fmt.Errorf("downloads[%d]: duration: %w", i, err)
			}
		}
		switch download.Outcome {
		case "", "completed", "failed", "cancelled":
		default:
			return fmt.Errorf("downloads[%d]: outcome must be completed, failed, or cancelled, got %q",
				i, download.Outcome)
		}
	}
	return nil
}

// stagger returns the parsed start stagger, defaulting to 2s.
func (s *Scenario) stagger() time.Duration {
	if s.StartStagger == "" {
		return 2 * time.Second
	}
	d, _ := time.ParseDuration(s.StartStagger)
	return d
}

// duration returns the parsed job duration, defaulting to 30s.
func (d *ScenarioDownload) duration() time.Duration {
	if d.Duration == "" {
		return 30 * time.Second
	}
	parsed, _ := time.ParseDuration(d.Duration)
	return parsed
}

// outcome returns the terminal outcome, defaulting to completed.
func (d *ScenarioDownload) outcome() string {
	if d.Outcome == "" {
		return "completed"
	}
	return d.Outcome
}
