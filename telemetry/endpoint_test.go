// Copyright 2026 The Downlink Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import "testing"

func TestServerEndpoint(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		baseURL string
		token   string
		want    string
		wantErr bool
	}{
		{
			name:    "http converts to ws and gains default path",
			baseURL: "http://recorder.local:8080",
			token:   "tok",
			want:    "ws://recorder.local:8080/api/downloads/ws?token=tok",
		},
		{
			name:    "https converts to wss",
			baseURL: "https://recorder.example.com",
			token:   "tok",
			want:    "wss://recorder.example.com/api/downloads/ws?token=tok",
		},
		{
			name:    "explicit path preserved",
			baseURL: "https://recorder.example.com/custom/stream",
			token:   "tok",
			want:    "wss://recorder.example.com/custom/stream?token=tok",
		},
		{
			name:    "ws scheme passes through",
			baseURL: "ws://recorder.local/api/downloads/ws",
			token:   "abc",
			want:    "ws://recorder.local/api/downloads/ws?token=abc",
		},
		{
			name:    "token is escaped",
			baseURL: "http://recorder.local",
			token:   "a b&c",
			want:    "ws://recorder.local/api/downloads/ws?token=a+b%26c",
		},
		{
			name:    "unsupported scheme",
			baseURL: "ftp://recorder.local",
			token:   "tok",
			wantErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			endpoint := ServerEndpoint(test.baseURL)
			got, err := endpoint(test.token)
			if test.wantErr {
				if err == nil {
					t.Fatalf("want error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("endpoint: %v", err)
			}
			if got != test.want {
				t.Errorf("url: got %q, want %q", got, test.want)
			}
		})
	}
}

func TestTokenStoreNotifies(t *testing.T) {
	t.Parallel()
	store := NewTokenStore()

	if _, ok := store.Token(); ok {
		t.Fatal("fresh store reported a token")
	}

	notified := 0
	unsubscribe := store.Subscribe(func() { notified++ })

	store.Set("jwt-1")
	if token, ok := store.Token(); !ok || token != "jwt-1" {
		t.Errorf("token after Set: got %q, %v", token, ok)
	}
	store.Clear()
	if _, ok := store.Token(); ok {
		t.Error("token present after Clear")
	}
	if notified != 2 {
		t.Errorf("notifications: got %d, want 2", notified)
	}

	unsubscribe()
	store.Set("jwt-2")
	if notified != 2 {
		t.Errorf("notified after unsubscribe: got %d, want 2", notified)
	}
}
