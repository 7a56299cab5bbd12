// Copyright 2026 The Downlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package journal records telemetry frames to disk for later replay.
//
// A journal is a zstd-compressed stream of records, each carrying the
// arrival timestamp, the raw frame bytes, and a keyed BLAKE3 digest.
// The digest catches truncation and bit rot when a session is read
// back; a corrupt record ends the replay at that point rather than
// feeding garbage into the decoder.
package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// magic opens every journal stream, inside the compression layer.
// The trailing byte is the format version.
var magic = [8]byte{'D', 'L', 'J', 'R', 'N', 'L', 0, 1}

// maxRecordBytes bounds a single journaled frame. Anything larger is
// corruption, not data.
const maxRecordBytes = 8 << 20

// recordDomainKey is the BLAKE3 key for record digests: the ASCII
// domain name zero-padded to 32 bytes. Changing it invalidates every
// existing journal.
var recordDomainKey = [32]byte{
	'd', 'o', 'w', 'n', 'l', 'i', 'n', 'k', '.', 'j', 'o', 'u', 'r', 'n', 'a', 'l',
	'.', 'r', 'e', 'c', 'o', 'r', 'd', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// ErrCorrupt reports a record whose digest did not match its
// contents. Wrapped errors carry the record index.
var ErrCorrupt = errors.New("journal: corrupt record")

// Record is one journaled frame.
type Record struct {
	// Timestamp is the frame's arrival time, millisecond precision.
	Timestamp time.Time

	// Frame is the raw wire frame, discriminator byte included.
	Frame []byte
}

// digest computes the keyed BLAKE3 digest over a record's timestamp
// and frame bytes.
func digest(timestampMS int64, frame []byte) [32]byte {
	hasher, err := blake3.NewKeyed(recordDomainKey[:])
	if err != nil {
		panic("journal: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	var header [8]byte
	binary.BigEndian.PutUint64(header[:], uint64(timestampMS))
	hasher.Write(header[:])
	hasher.Write(frame)
	var sum [32]byte
	copy(sum[:], hasher.Sum(nil))
	return sum
}

// Writer appends records to a journal stream.
type Writer struct {
	encoder *zstd.Encoder
	closer  io.Closer // underlying file, when opened via Create
	err     error
}

// NewWriter starts a journal stream on w. The caller owns w; Close
// flushes the compression layer but does not close w.
func NewWriter(w io.Writer) (*Writer, error) {
	encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("journal: zstd encoder: %w", err)
	}
	if _, err := encoder.Write(magic[:]); err != nil {
		encoder.Close()
		return nil, fmt.Errorf("journal: writing header: %w", err)
	}
	return &Writer{encoder: encoder}, nil
}

// Create opens path for writing (truncating any existing file) and
// starts a journal stream on it. Close closes the file.
func Create(path string) (*Writer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	writer, err := NewWriter(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	writer.closer = file
	return writer, nil
}

// Append writes one record. After any error the writer is broken and
// every subsequent Append returns the same error.
func (w *Writer) Append(timestamp time.Time, frame []byte) error {
	if w.err != nil {
		return w.err
	}
	if len(frame) > maxRecordBytes {
		return fmt.Errorf("journal: frame of %d bytes exceeds record limit", len(frame))
	}

	timestampMS := timestamp.UnixMilli()
	sum := digest(timestampMS, frame)

	var header [12]byte
	binary.BigEndian.PutUint64(header[:8], uint64(timestampMS))
	binary.BigEndian.PutUint32(header[8:], uint32(len(frame)))

	for _, part := range [][]byte{header[:], frame, sum[:]} {
		if _, err := w.encoder.Write(part); err != nil {
			w.err = fmt.Errorf("journal: writing record: %w", err)
			return w.err
		}
	}
	return nil
}

// Close flushes the stream. When the writer was opened via Create,
// the underlying file is closed as well.
func (w *Writer) Close() error {
	err := w.encoder.Close()
	if w.closer != nil {
		if closeErr := w.closer.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}

// Reader replays records from a journal stream.
type Reader struct {
	decoder *zstd.Decoder
	closer  io.Closer
	index   int
}

// NewReader opens a journal stream on r and verifies its header.
func NewReader(r io.Reader) (*Reader, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("journal: zstd decoder: %w", err)
	}
	var header [8]byte
	if _, err := io.ReadFull(decoder, header[:]); err != nil {
		decoder.Close()
		return nil, fmt.Errorf("journal: reading header: %w", err)
	}
	if header != magic {
		decoder.Close()
		return nil, fmt.Errorf("journal: bad magic %x", header)
	}
	return &Reader{decoder: decoder}, nil
}

// Open opens the journal file at path. Close closes the file.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	reader, err := NewReader(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	reader.closer = file
	return reader, nil
}

// Next returns the next record. io.EOF signals a clean end of the
// journal; a digest mismatch returns an error wrapping ErrCorrupt.
func (r *Reader) Next() (Record, error) {
	var header [12]byte
	if _, err := io.ReadFull(r.decoder, header[:]); err != nil {
		if err == io.EOF {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("journal: record %d header: %w", r.index, err)
	}

	timestampMS := int64(binary.BigEndian.Uint64(header[:8]))
	length := binary.BigEndian.Uint32(header[8:])
	if length > maxRecordBytes {
		return Record{}, fmt.Errorf("%w: record %d claims %d bytes", ErrCorrupt, r.index, length)
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(r.decoder, frame); err != nil {
		return Record{}, fmt.Errorf("journal: record %d body: %w", r.index, err)
	}
	var sum [32]byte
	if _, err := io.ReadFull(r.decoder, sum[:]); err != nil {
		return Record{}, fmt.Errorf("journal: record %d digest: %w", r.index, err)
	}

	if digest(timestampMS, frame) != sum {
		return Record{}, fmt.Errorf("%w: record %d digest mismatch", ErrCorrupt, r.index)
	}

	r.index++
	return Record{
		Timestamp: time.UnixMilli(timestampMS).UTC(),
		Frame:     frame,
	}, nil
}

// Close releases the decoder. When the reader was opened via Open,
// the underlying file is closed as well.
func (r *Reader) Close() error {
	r.decoder.Close()
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
