// Copyright 2026 The Downlink Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"fmt"
	"time"

	"github.com/downlink-systems/downlink/lib/codec"
)

// FrameType is the leading discriminator byte of every wire frame.
// The transport delimits frames, so no length prefix is needed: a
// frame is the discriminator followed by the CBOR-encoded payload.
// These values are protocol constants — changing them breaks wire
// compatibility.
type FrameType byte

// Server→client frame types.
const (
	// FrameSnapshot carries the full set of active downloads. Sent
	// once immediately after connect and replaces the projection
	// wholesale whenever received.
	FrameSnapshot FrameType = 0x01

	// FrameStarted announces a newly started download.
	FrameStarted FrameType = 0x02

	// FrameProgress carries updated metrics for a known download.
	FrameProgress FrameType = 0x03

	// FrameSegmentCompleted reports a finished media segment.
	// Informational: does not mutate the projection.
	FrameSegmentCompleted FrameType = 0x04

	// FrameCompleted, FrameFailed, and FrameCancelled are the
	// terminal events: the download leaves the projection.
	FrameCompleted FrameType = 0x05
	FrameFailed    FrameType = 0x06
	FrameCancelled FrameType = 0x07

	// FrameRejected reports a download request the recorder refused
	// to start. Informational.
	FrameRejected FrameType = 0x08

	// FrameError carries a server-side error notice. Informational.
	FrameError FrameType = 0x09
)

// Client→server frame types.
const (
	// FrameSubscribe narrows delivery to one streamer's downloads.
	FrameSubscribe FrameType = 0x10

	// FrameClearFilter removes the filter: deliver everything.
	FrameClearFilter FrameType = 0x11
)

// String returns the frame type name used in logs and diagnostics.
func (t FrameType) String() string {
	switch t {
	case FrameSnapshot:
		return "snapshot"
	case FrameStarted:
		return "started"
	case FrameProgress:
		return "progress"
	case FrameSegmentCompleted:
		return "segment_completed"
	case FrameCompleted:
		return "completed"
	case FrameFailed:
		return "failed"
	case FrameCancelled:
		return "cancelled"
	case FrameRejected:
		return "rejected"
	case FrameError:
		return "error"
	case FrameSubscribe:
		return "subscribe"
	case FrameClearFilter:
		return "clear_filter"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// State is the lifecycle state the recorder reports for a download.
type State string

const (
	StateStarting    State = "starting"
	StateDownloading State = "downloading"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateCancelled   State = "cancelled"
)

// Terminal reports whether the state removes a download from the
// always-live projection.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Metrics are the numeric progress fields of a download. They update
// independently of the identity fields: a progress frame replaces a
// download's Metrics without touching anything else.
type Metrics struct {
	BytesDownloaded      uint64  `cbor:"bytes_downloaded"`
	DurationSeconds      float64 `cbor:"duration_secs"`
	SpeedBytesPerSec     uint64  `cbor:"speed_bytes_per_sec"`
	SegmentsCompleted    uint64  `cbor:"segments_completed"`
	MediaDurationSeconds float64 `cbor:"media_duration_secs"`
	PlaybackRatio        float64 `cbor:"playback_ratio"`
}

// Download is one tracked unit of work: an active recording job on
// the server. The ID is assigned by the server at creation time;
// StreamerID and SessionID are opaque correlation identifiers.
type Download struct {
	ID         string  `cbor:"download_id"`
	StreamerID string  `cbor:"streamer_id"`
	SessionID  string  `cbor:"session_id"`
	Engine     string  `cbor:"engine_type"`
	State      State   `cbor:"status"`
	Metrics    Metrics `cbor:"metrics"`

	// StartedAtMS is the server-assigned start time in Unix
	// milliseconds, carried as an integer on the wire.
	StartedAtMS int64 `cbor:"started_at_ms"`
}

// Started returns the download's start time.
func (d Download) Started() time.Time {
	return time.UnixMilli(d.StartedAtMS).UTC()
}

// Event is a decoded server→client frame. The concrete types are
// [SnapshotEvent], [StartedEvent], [ProgressEvent], [SegmentEvent],
// [CompletedEvent], [FailedEvent], [CancelledEvent], [RejectedEvent],
// and [ErrorEvent].
type Event interface {
	// FrameType returns the wire discriminator of the event.
	FrameType() FrameType
}

// SnapshotEvent replaces the projection with the server's full view
// of active downloads, in server order.
type SnapshotEvent struct {
	Downloads []Download `cbor:"downloads"`
}

// StartedEvent inserts a new download into the projection.
type StartedEvent struct {
	Download Download `cbor:"download"`
}

// ProgressEvent refines the metrics of an already-known download.
// A progress frame for an unknown ID is a benign reordering artifact
// and is discarded.
type ProgressEvent struct {
	DownloadID string  `cbor:"download_id"`
	StreamerID string  `cbor:"streamer_id"`
	SessionID  string  `cbor:"session_id"`
	Metrics    Metrics `cbor:"metrics"`
}

// SegmentEvent reports a completed media segment. Informational.
type SegmentEvent struct {
	DownloadID string `cbor:"download_id"`
	StreamerID string `cbor:"streamer_id"`
	Path       string `cbor:"path"`
	Sequence   uint64 `cbor:"sequence"`
}

// CompletedEvent removes a finished download from the projection.
type CompletedEvent struct {
	DownloadID string `cbor:"download_id"`
	StreamerID string `cbor:"streamer_id"`
}

// FailedEvent removes a failed download from the projection.
type FailedEvent struct {
	DownloadID string `cbor:"download_id"`
	StreamerID string `cbor:"streamer_id"`
	Reason     string `cbor:"reason"`
}

// CancelledEvent removes a cancelled download from the projection.
type CancelledEvent struct {
	DownloadID string `cbor:"download_id"`
	StreamerID string `cbor:"streamer_id"`
}

// RejectedEvent reports a refused download request. Informational.
type RejectedEvent struct {
	StreamerID string `cbor:"streamer_id"`
	Reason     string `cbor:"reason"`
}

// ErrorEvent carries a server-side error notice. Informational.
type ErrorEvent struct {
	Code    string `cbor:"code"`
	Message string `cbor:"message"`
}

func (SnapshotEvent) FrameType() FrameType  { return FrameSnapshot }
func (StartedEvent) FrameType() FrameType   { return FrameStarted }
func (ProgressEvent) FrameType() FrameType  { return FrameProgress }
func (SegmentEvent) FrameType() FrameType   { return FrameSegmentCompleted }
func (CompletedEvent) FrameType() FrameType { return FrameCompleted }
func (FailedEvent) FrameType() FrameType    { return FrameFailed }
func (CancelledEvent) FrameType() FrameType { return FrameCancelled }
func (RejectedEvent) FrameType() FrameType  { return FrameRejected }
func (ErrorEvent) FrameType() FrameType     { return FrameError }

// DecodeError reports a frame the codec could not decode. Decode
// failures are non-fatal: the caller drops the single frame and
// keeps the connection.
type DecodeError struct {
	// Frame is the discriminator byte of the offending frame, or 0
	// for an empty frame.
	Frame byte

	// Reason describes the failure.
	Reason string

	// Err is the underlying CBOR error, if any.
	Err error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode frame 0x%02x: %s: %v", e.Frame, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode frame 0x%02x: %s", e.Frame, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeEvent decodes a server→client frame. Unknown discriminators
// and malformed payloads yield a *DecodeError; DecodeEvent never
// panics past the caller.
func DecodeEvent(data []byte) (Event, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Reason: "empty frame"}
	}

	frameType := FrameType(data[0])
	payload := data[1:]

	decode := func(v any) error {
		if err := codec.Unmarshal(payload, v); err != nil {
			return &DecodeError{Frame: data[0], Reason: "malformed payload", Err: err}
		}
		return nil
	}

	switch frameType {
	case FrameSnapshot:
		var event SnapshotEvent
		if err := decode(&event); err != nil {
			return nil, err
		}
		return event, nil
	case FrameStarted:
		var event StartedEvent
		if err := decode(&event); err != nil {
			return nil, err
		}
		return event, nil
	case FrameProgress:
		var event ProgressEvent
		if err := decode(&event); err != nil {
			return nil, err
		}
		return event, nil
	case FrameSegmentCompleted:
		var event SegmentEvent
		if err := decode(&event); err != nil {
			return nil, err
		}
		return event, nil
	case FrameCompleted:
		var event CompletedEvent
		if err := decode(&event); err != nil {
			return nil, err
		}
		return event, nil
	case FrameFailed:
		var event FailedEvent
		if err := decode(&event); err != nil {
			return nil, err
		}
		return event, nil
	case FrameCancelled:
		var event CancelledEvent
		if err := decode(&event); err != nil {
			return nil, err
		}
		return event, nil
	case FrameRejected:
		var event RejectedEvent
		if err := decode(&event); err != nil {
			return nil, err
		}
		return event, nil
	case FrameError:
		var event ErrorEvent
		if err := decode(&event); err != nil {
			return nil, err
		}
		return event, nil
	default:
		return nil, &DecodeError{Frame: data[0], Reason: "unknown discriminator"}
	}
}

// EncodeEvent encodes a server→client frame. Used by the mock server
// and by tests; the client only decodes.
func EncodeEvent(event Event) ([]byte, error) {
	payload, err := codec.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event.FrameType(), err)
	}
	frame := make([]byte, 0, 1+len(payload))
	frame = append(frame, byte(event.FrameType()))
	return append(frame, payload...), nil
}

// subscribePayload is the payload of a Subscribe control frame.
type subscribePayload struct {
	StreamerID string `cbor:"streamer_id"`
}

// EncodeSubscribe builds the control frame narrowing delivery to one
// streamer's downloads.
func EncodeSubscribe(streamerID string) ([]byte, error) {
	payload, err := codec.Marshal(subscribePayload{StreamerID: streamerID})
	if err != nil {
		return nil, fmt.Errorf("encode subscribe payload: %w", err)
	}
	frame := make([]byte, 0, 1+len(payload))
	frame = append(frame, byte(FrameSubscribe))
	return append(frame, payload...), nil
}

// EncodeClearFilter builds the control frame removing the delivery
// filter. The payload is empty.
func EncodeClearFilter() []byte {
	return []byte{byte(FrameClearFilter)}
}

// Control is a decoded client→server frame. Used by the mock server.
type Control struct {
	Type FrameType

	// StreamerID is set for FrameSubscribe.
	StreamerID string
}

// DecodeControl decodes a client→server control frame.
func DecodeControl(data []byte) (Control, error) {
	if len(data) == 0 {
		return Control{}, &DecodeError{Reason: "empty frame"}
	}
	switch frameType := FrameType(data[0]); frameType {
	case FrameSubscribe:
		var payload subscribePayload
		if err := codec.Unmarshal(data[1:], &payload); err != nil {
			return Control{}, &DecodeError{Frame: data[0], Reason: "malformed payload", Err: err}
		}
		return Control{Type: FrameSubscribe, StreamerID: payload.StreamerID}, nil
	case FrameClearFilter:
		return Control{Type: FrameClearFilter}, nil
	default:
		return Control{}, &DecodeError{Frame: data[0], Reason: "unknown discriminator"}
	}
}
