// Package testutil provides shared test helpers for the crossposter packages.
package testutil

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// FakeClock provides deterministic time for testing.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewFakeClock creates a FakeClock set to the given time.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// FakeTimers is a manual time.AfterFunc replacement driven by a FakeClock.
// Callbacks run synchronously inside Advance.
type FakeTimers struct {
	clock *FakeClock

	mu     sync.Mutex
	timers []*FakeTimer
}

// FakeTimer is one registration made through FakeTimers.AfterFunc.
type FakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
	owner   *FakeTimers
}

// NewFakeTimers creates timers that fire relative to clock.
func NewFakeTimers(clock *FakeClock) *FakeTimers {
	return &FakeTimers{clock: clock}
}

// AfterFunc registers f to run once the clock has advanced by d.
func (ft *FakeTimers) AfterFunc(d time.Duration, f func()) *FakeTimer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &FakeTimer{at: ft.clock.Now().Add(d), f: f, owner: ft}
	ft.timers = append(ft.timers, t)
	return t
}

// Stop prevents the timer from firing. It reports whether the call stopped it.
func (t *FakeTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock and runs every timer that became due, earliest
// first. It returns the number of callbacks run.
func (ft *FakeTimers) Advance(d time.Duration) int {
	ft.clock.Advance(d)
	now := ft.clock.Now()

	ft.mu.Lock()
	var due []*FakeTimer
	for _, t := range ft.timers {
		if !t.stopped && !t.fired && !t.at.After(now) {
			t.fired = true
			due = append(due, t)
		}
	}
	ft.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
	return len(due)
}

// Pending returns the number of timers neither fired nor stopped.
func (ft *FakeTimers) Pending() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	n := 0
	for _, t := range ft.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// TestContext returns a context with a 5-second timeout.
// The context is cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// MustParseUUID parses a UUID string and panics on error.
// Only for use in tests.
func MustParseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		panic("testutil.MustParseUUID: " + err.Error())
	}
	return id
}

// PNG returns a small gradient image encoded as PNG.
func PNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 16), G: uint8(y * 16), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// Eventually polls cond until it returns true or the timeout expires.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
