// Copyright 2026 The Downlink Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestMarshalDeterministic(t *testing.T) {
	t.Parallel()
	value := map[string]any{
		"zebra":  1,
		"alpha":  2,
		"middle": 3,
	}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("same value produced different bytes:\n%x\n%x", first, second)
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	t.Parallel()
	type slim struct {
		ID string `cbor:"id"`
	}
	data, err := Marshal(map[string]any{"id": "d1", "future_field": 42})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got slim
	if err := Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ID != "d1" {
		t.Errorf("id: got %q, want %q", got.ID, "d1")
	}
}

func TestUnmarshalAnyUsesStringKeyedMaps(t *testing.T) {
	t.Parallel()
	data, err := Marshal(map[string]any{"nested": map[string]any{"k": "v"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got any
	if err := Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	top, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("top-level type: got %T, want map[string]any", got)
	}
	if _, ok := top["nested"].(map[string]any); !ok {
		t.Errorf("nested type: got %T, want map[string]any", top["nested"])
	}
}
