// Copyright 2026 The Linkbot Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func testStart() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestFakeNowAdvance(t *testing.T) {
	c := Fake(testStart())
	if !c.Now().Equal(testStart()) {
		t.Fatalf("initial Now = %v, want %v", c.Now(), testStart())
	}
	c.Advance(90 * time.Second)
	want := testStart().Add(90 * time.Second)
	if !c.Now().Equal(want) {
		t.Fatalf("Now after advance = %v, want %v", c.Now(), want)
	}
}

func TestFakeAfterFiresAtDeadline(t *testing.T) {
	c := Fake(testStart())
	ch := c.After(10 * time.Second)

	c.Advance(9 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before its deadline")
	default:
	}

	c.Advance(time.Second)
	select {
	case fired := <-ch:
		want := testStart().Add(10 * time.Second)
		if !fired.Equal(want) {
			t.Fatalf("fired at %v, want %v", fired, want)
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestFakeAfterNonPositiveFiresImmediately(t *testing.T) {
	c := Fake(testStart())
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}

func TestFakeTickerFiresPerInterval(t *testing.T) {
	c := Fake(testStart())
	ticker := c.NewTicker(30 * time.Second)
	defer ticker.Stop()

	// A single large advance spans three intervals; the channel
	// buffer holds one tick, so overflow ticks are dropped — but the
	// ticker must keep firing on subsequent advances.
	c.Advance(95 * time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("ticker did not fire after spanning advance")
	}

	c.Advance(30 * time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("ticker did not fire on the next interval")
	}
}

func TestFakeTickerStop(t *testing.T) {
	c := Fake(testStart())
	ticker := c.NewTicker(time.Second)
	ticker.Stop()
	c.Advance(5 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker fired")
	default:
	}
	if c.PendingCount() != 0 {
		t.Fatalf("PendingCount = %d after stop, want 0", c.PendingCount())
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	c := Fake(testStart())
	registered := make(chan struct{})
	go func() {
		ch := c.After(time.Minute)
		close(registered)
		<-ch
	}()

	c.WaitForTimers(1)
	select {
	case <-registered:
	default:
		t.Fatal("WaitForTimers returned before the waiter registered")
	}
	c.Advance(time.Minute)
}
