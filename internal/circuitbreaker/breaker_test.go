package circuitbreaker

import (
	"testing"
	"time"
)

func TestBreaker_StartsClosed(t *testing.T) {
	b := New("test", 3, time.Second)

	if b.State() != StateClosed {
		t.Fatalf("state = %s, want closed", b.State())
	}
	if !b.Allow() {
		t.Fatal("closed breaker should allow requests")
	}
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := New("test", 3, time.Second)

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("state after 2 failures = %s, want closed", b.State())
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("state after 3 failures = %s, want open", b.State())
	}
	if b.Allow() {
		t.Fatal("open breaker should reject requests")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New("test", 3, time.Second)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if b.State() != StateClosed {
		t.Fatalf("state = %s, want closed (count reset by success)", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b := New("test", 1, 10*time.Millisecond)

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	time.Sleep(20 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("expected probe allowed after open duration")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %s, want half_open", b.State())
	}
	if b.Allow() {
		t.Fatal("second request during probe should be rejected")
	}
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	b := New("test", 1, 10*time.Millisecond)

	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	b.Allow() // move to half-open
	b.RecordSuccess()

	if b.State() != StateClosed {
		t.Fatalf("state = %s, want closed after successful probe", b.State())
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	b := New("test", 1, 10*time.Millisecond)

	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	b.Allow() // move to half-open
	b.RecordFailure()

	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open after failed probe", b.State())
	}
	if b.Allow() {
		t.Fatal("reopened breaker should reject requests")
	}
}
