package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/GanWeaving/social-cross-post/internal/testutil"
)

const key = "mastodon"

func newTestBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, *testutil.FakeClock) {
	clock := testutil.NewFakeClock(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(threshold, cooldown).WithClock(clock.Now), clock
}

func failN(cb *CircuitBreaker, k string, n int) {
	for i := 0; i < n; i++ {
		cb.RecordFailure(k)
	}
}

func TestAllow_UnknownKey_Allowed(t *testing.T) {
	cb, _ := newTestBreaker(3, 5*time.Second)
	if err := cb.Allow(key); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestAllow_BelowThreshold_Allowed(t *testing.T) {
	cb, _ := newTestBreaker(3, 5*time.Second)
	failN(cb, key, 2)
	if err := cb.Allow(key); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestAllow_AtThreshold_Open(t *testing.T) {
	cb, _ := newTestBreaker(3, 5*time.Second)
	failN(cb, key, 3)
	if err := cb.Allow(key); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if !cb.Open(key) {
		t.Fatal("expected Open to report true")
	}
}

func TestAllow_OpenAfterCooldown_HalfOpen(t *testing.T) {
	cb, clock := newTestBreaker(3, time.Minute)
	failN(cb, key, 3)
	clock.Advance(time.Minute)
	if err := cb.Allow(key); err != nil {
		t.Fatalf("expected nil (probe allowed), got %v", err)
	}
	if err := cb.Allow(key); err == nil {
		t.Fatal("expected ErrCircuitOpen while half-open probe in flight")
	}
}

func TestRecordSuccess_ResetsToClosed(t *testing.T) {
	cb, clock := newTestBreaker(3, time.Minute)
	failN(cb, key, 3)
	clock.Advance(2 * time.Minute)
	_ = cb.Allow(key)
	cb.RecordSuccess(key)
	if err := cb.Allow(key); err != nil {
		t.Fatalf("expected nil after reset, got %v", err)
	}
	if cb.Open(key) {
		t.Fatal("expected closed circuit")
	}
}

func TestRecordFailure_HalfOpenReOpens(t *testing.T) {
	cb, clock := newTestBreaker(3, time.Minute)
	failN(cb, key, 3)
	clock.Advance(time.Minute)
	_ = cb.Allow(key)
	cb.RecordFailure(key)
	if err := cb.Allow(key); err == nil {
		t.Fatal("expected ErrCircuitOpen after probe failure re-open")
	}
}

func TestRecordSuccess_ClosedState_NoOp(t *testing.T) {
	cb, _ := newTestBreaker(3, 5*time.Second)
	cb.RecordSuccess(key)
	if err := cb.Allow(key); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestIndependentKeys(t *testing.T) {
	cb, _ := newTestBreaker(2, 5*time.Second)
	failN(cb, "twitter", 2)
	if err := cb.Allow("twitter"); err == nil {
		t.Fatal("expected twitter open")
	}
	if err := cb.Allow("bluesky"); err != nil {
		t.Fatalf("expected bluesky allowed, got %v", err)
	}
}

func TestZeroThreshold_Disabled(t *testing.T) {
	cb, _ := newTestBreaker(0, time.Minute)
	failN(cb, key, 50)
	if err := cb.Allow(key); err != nil {
		t.Fatalf("expected disabled breaker to allow, got %v", err)
	}
}
