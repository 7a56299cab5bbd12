// Copyright 2026 The Downlink Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	t.Parallel()
	fake := Fake(time.Unix(1000, 0))

	ch := fake.After(5 * time.Second)
	select {
	case <-ch:
		t.Fatal("channel fired before Advance")
	default:
	}

	fake.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("channel fired before deadline")
	default:
	}

	fake.Advance(time.Second)
	select {
	case got := <-ch:
		want := time.Unix(1005, 0)
		if !got.Equal(want) {
			t.Errorf("fire time: got %v, want %v", got, want)
		}
	default:
		t.Fatal("channel did not fire at deadline")
	}
}

func TestFakeAfterImmediateForNonPositive(t *testing.T) {
	t.Parallel()
	fake := Fake(time.Unix(0, 0))
	select {
	case <-fake.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}

func TestFakeAfterFuncOrderAndStop(t *testing.T) {
	t.Parallel()
	fake := Fake(time.Unix(0, 0))

	var order []string
	fake.AfterFunc(3*time.Second, func() { order = append(order, "late") })
	fake.AfterFunc(1*time.Second, func() { order = append(order, "early") })
	stopped := fake.AfterFunc(2*time.Second, func() { order = append(order, "stopped") })

	if !stopped.Stop() {
		t.Fatal("Stop on a pending timer returned false")
	}
	if stopped.Stop() {
		t.Error("second Stop returned true")
	}

	fake.Advance(5 * time.Second)

	if len(order) != 2 || order[0] != "early" || order[1] != "late" {
		t.Errorf("callback order: got %v, want [early late]", order)
	}
}

func TestFakeAfterFuncResetRearms(t *testing.T) {
	t.Parallel()
	fake := Fake(time.Unix(0, 0))

	fired := 0
	timer := fake.AfterFunc(time.Second, func() { fired++ })

	fake.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("first fire: got %d, want 1", fired)
	}

	if timer.Reset(time.Second) {
		t.Error("Reset after firing reported the timer as active")
	}
	fake.Advance(time.Second)
	if fired != 2 {
		t.Errorf("fire count after reset: got %d, want 2", fired)
	}
}

func TestFakeTickerFiresPerInterval(t *testing.T) {
	t.Parallel()
	fake := Fake(time.Unix(0, 0))
	ticker := fake.NewTicker(time.Second)
	defer ticker.Stop()

	ticks := 0
	for range 3 {
		fake.Advance(time.Second)
		select {
		case <-ticker.C:
			ticks++
		default:
		}
	}
	if ticks != 3 {
		t.Errorf("ticks: got %d, want 3", ticks)
	}

	ticker.Stop()
	fake.Advance(time.Second)
	select {
	case <-ticker.C:
		t.Error("tick delivered after Stop")
	default:
	}
}

func TestFakePendingCount(t *testing.T) {
	t.Parallel()
	fake := Fake(time.Unix(0, 0))

	if got := fake.PendingCount(); got != 0 {
		t.Fatalf("initial PendingCount: got %d, want 0", got)
	}
	timer := fake.AfterFunc(time.Minute, func() {})
	if got := fake.PendingCount(); got != 1 {
		t.Fatalf("PendingCount with one timer: got %d, want 1", got)
	}
	timer.Stop()
	if got := fake.PendingCount(); got != 0 {
		t.Fatalf("PendingCount after Stop: got %d, want 0", got)
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	t.Parallel()
	fake := Fake(time.Unix(0, 0))

	done := make(chan struct{})
	go func() {
		fake.After(time.Second)
		close(done)
	}()

	fake.WaitForTimers(1)
	<-done
	if got := fake.PendingCount(); got != 1 {
		t.Errorf("PendingCount after WaitForTimers: got %d, want 1", got)
	}
}
