package breaker

import (
	"testing"
	"time"
)

func TestClosedAllowsUntilThresholdTripsOpen(t *testing.T) {
	cb := New("catalog", time.Minute, time.Millisecond, 0.5, 4)
	if cb.State() != Closed {
		t.Fatalf("expected initial state Closed")
	}
	// 2 failures out of 4 samples: rate 0.5 meets threshold, trips open.
	for i := 0; i < 2; i++ {
		if !cb.Allow() {
			t.Fatalf("expected Allow() while closed")
		}
		cb.Record(true)
	}
	for i := 0; i < 2; i++ {
		if !cb.Allow() {
			t.Fatalf("expected Allow() while closed")
		}
		cb.Record(false)
	}
	if cb.State() != Open {
		t.Fatalf("expected breaker tripped Open, got %v", cb.State())
	}
}

func TestOpenRejectsUntilCooldownThenHalfOpenProbes(t *testing.T) {
	cb := New("llm", time.Minute, 10*time.Millisecond, 0.5, 2)
	cb.Allow()
	cb.Record(false)
	cb.Allow()
	cb.Record(false)
	if cb.State() != Open {
		t.Fatalf("expected Open after consecutive failures")
	}
	if cb.Allow() {
		t.Fatalf("expected Open to reject immediately after tripping")
	}
	time.Sleep(15 * time.Millisecond)
	if !cb.Allow() {
		t.Fatalf("expected a half-open probe to be let through after cooldown")
	}
	if cb.State() != HalfOpen {
		t.Fatalf("expected HalfOpen after probe admitted, got %v", cb.State())
	}
	// a second concurrent probe must be rejected while one is in flight
	if cb.Allow() {
		t.Fatalf("expected only one half-open probe in flight at a time")
	}
}

func TestHalfOpenProbeSuccessCloses(t *testing.T) {
	cb := New("db", time.Minute, time.Millisecond, 0.5, 2)
	cb.Allow()
	cb.Record(false)
	cb.Allow()
	cb.Record(false)
	time.Sleep(5 * time.Millisecond)
	if !cb.Allow() {
		t.Fatalf("expected probe admitted")
	}
	cb.Record(true)
	if cb.State() != Closed {
		t.Fatalf("expected breaker to close after a successful probe, got %v", cb.State())
	}
}

func TestHalfOpenProbeFailureReopens(t *testing.T) {
	cb := New("db", time.Minute, time.Millisecond, 0.5, 2)
	cb.Allow()
	cb.Record(false)
	cb.Allow()
	cb.Record(false)
	time.Sleep(5 * time.Millisecond)
	if !cb.Allow() {
		t.Fatalf("expected probe admitted")
	}
	cb.Record(false)
	if cb.State() != Open {
		t.Fatalf("expected breaker to re-open after a failed probe, got %v", cb.State())
	}
}

func TestBelowMinSamplesNeverTrips(t *testing.T) {
	cb := New("catalog", time.Minute, time.Millisecond, 0.1, 10)
	for i := 0; i < 3; i++ {
		cb.Allow()
		cb.Record(false)
	}
	if cb.State() != Closed {
		t.Fatalf("expected breaker to stay closed below minSamples, got %v", cb.State())
	}
}
