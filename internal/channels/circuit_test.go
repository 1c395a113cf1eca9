package channels

import (
	"sync"
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewCircuitBreaker(3, time.Hour, nil)

	for i := 0; i < 2; i++ {
		b.Failure()
		if !b.Allow() {
			t.Fatalf("breaker opened after %d failures, threshold is 3", i+1)
		}
	}
	b.Failure()

	if b.State() != CircuitOpen {
		t.Errorf("state = %s after threshold failures, want open", b.State())
	}
	if b.Allow() {
		t.Error("open breaker admitted an attempt before cooldown")
	}
}

func TestCircuitBreaker_HalfOpenProbeAfterCooldown(t *testing.T) {
	b := NewCircuitBreaker(1, 10*time.Millisecond, nil)
	b.Failure()

	if b.Allow() {
		t.Fatal("breaker should reject during cooldown")
	}
	time.Sleep(20 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("breaker should admit one probe after cooldown")
	}
	if b.State() != CircuitHalfOpen {
		t.Errorf("state = %s, want half_open", b.State())
	}

	b.Success()
	if b.State() != CircuitClosed {
		t.Errorf("state = %s after successful probe, want closed", b.State())
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	b := NewCircuitBreaker(1, 10*time.Millisecond, nil)
	b.Failure()
	time.Sleep(20 * time.Millisecond)
	b.Allow() // → half-open
	b.Failure()

	if b.State() != CircuitOpen {
		t.Errorf("state = %s after failed probe, want open", b.State())
	}
	if b.Allow() {
		t.Error("reopened breaker admitted an attempt immediately")
	}
}

func TestCircuitBreaker_TransitionsReported(t *testing.T) {
	var mu sync.Mutex
	var transitions []string
	done := make(chan struct{}, 4)

	b := NewCircuitBreaker(1, 5*time.Millisecond, func(from, to CircuitState) {
		mu.Lock()
		transitions = append(transitions, string(from)+"→"+string(to))
		mu.Unlock()
		done <- struct{}{}
	})

	b.Failure() // closed→open
	time.Sleep(10 * time.Millisecond)
	b.Allow()   // open→half_open
	b.Success() // half_open→closed

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("missing transition callback %d", i+1)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"closed→open", "open→half_open", "half_open→closed"}
	for i, w := range want {
		if i >= len(transitions) || transitions[i] != w {
			t.Errorf("transitions = %v, want %v", transitions, want)
			break
		}
	}
}
