package typing

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestController_KeepaliveRefreshes(t *testing.T) {
	var calls atomic.Int32
	c := New(Options{
		MaxDuration:       time.Second,
		KeepaliveInterval: 10 * time.Millisecond,
		StartFn: func() error {
			calls.Add(1)
			return nil
		},
	})
	c.Start()
	time.Sleep(50 * time.Millisecond)
	c.Stop()

	if n := calls.Load(); n < 2 {
		t.Errorf("StartFn called %d times, want initial send plus keepalives", n)
	}
}

func TestController_StopHaltsKeepalive(t *testing.T) {
	var calls atomic.Int32
	c := New(Options{
		MaxDuration:       time.Second,
		KeepaliveInterval: 5 * time.Millisecond,
		StartFn: func() error {
			calls.Add(1)
			return nil
		},
	})
	c.Start()
	c.Stop()
	settled := calls.Load()
	time.Sleep(30 * time.Millisecond)

	// One tick may have been in flight at Stop; after that, silence.
	if n := calls.Load(); n > settled+1 {
		t.Errorf("keepalive kept firing after Stop: %d → %d", settled, n)
	}
}

func TestController_MaxDurationSafetyNet(t *testing.T) {
	var calls atomic.Int32
	c := New(Options{
		MaxDuration:       20 * time.Millisecond,
		KeepaliveInterval: 5 * time.Millisecond,
		StartFn: func() error {
			calls.Add(1)
			return nil
		},
	})
	c.Start()
	time.Sleep(60 * time.Millisecond)
	after := calls.Load()
	time.Sleep(30 * time.Millisecond)

	if n := calls.Load(); n > after {
		t.Errorf("indicator kept refreshing past MaxDuration: %d → %d", after, n)
	}
}

func TestController_StopBeforeStartIsSafe(t *testing.T) {
	c := New(Options{StartFn: func() error { return nil }})
	c.Stop()
	c.Start() // must not panic or fire after stop
	c.Stop()
}
