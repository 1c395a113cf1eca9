package bus

import (
	"sync"
	"testing"
	"time"
)

// TestInboundDebouncer_ZeroWindowFlushesImmediately verifies invariant #8: a
// window of 0 disables coalescing, so every Offer flushes synchronously in
// its own call.
func TestInboundDebouncer_ZeroWindowFlushesImmediately(t *testing.T) {
	var flushed []string
	var mu sync.Mutex

	d := NewInboundDebouncer(0, func(msg InboundMessage) {
		mu.Lock()
		flushed = append(flushed, msg.Content)
		mu.Unlock()
	})

	d.Offer("lane1", InboundMessage{SenderID: "u1", Content: "a"})
	d.Offer("lane1", InboundMessage{SenderID: "u1", Content: "b"})

	mu.Lock()
	defer mu.Unlock()
	if len(flushed) != 2 {
		t.Fatalf("got %d flushes, want 2 (no coalescing with zero window)", len(flushed))
	}
}

// TestInboundDebouncer_CoalescesWithinWindow verifies that rapid offers from
// the same sender on the same lane within the window are merged into a
// single flushed envelope.
func TestInboundDebouncer_CoalescesWithinWindow(t *testing.T) {
	done := make(chan InboundMessage, 1)
	d := NewInboundDebouncer(50*time.Millisecond, func(msg InboundMessage) {
		done <- msg
	})

	d.Offer("lane1", InboundMessage{SenderID: "u1", Content: "first"})
	d.Offer("lane1", InboundMessage{SenderID: "u1", Content: "second"})

	select {
	case msg := <-done:
		if msg.Content != "first\nsecond" {
			t.Fatalf("got content %q, want %q", msg.Content, "first\nsecond")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for coalesced flush")
	}
}

// TestInboundDebouncer_DifferentSendersDoNotInterpose verifies invariant #9:
// two senders on the same lane never merge into one envelope.
func TestInboundDebouncer_DifferentSendersDoNotInterpose(t *testing.T) {
	var mu sync.Mutex
	var flushed []InboundMessage

	d := NewInboundDebouncer(30*time.Millisecond, func(msg InboundMessage) {
		mu.Lock()
		flushed = append(flushed, msg)
		mu.Unlock()
	})

	d.Offer("lane1", InboundMessage{SenderID: "u1", Content: "from u1"})
	d.Offer("lane1", InboundMessage{SenderID: "u2", Content: "from u2"})

	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(flushed) != 2 {
		t.Fatalf("got %d flushes, want 2 (one per sender)", len(flushed))
	}
	for _, msg := range flushed {
		if msg.Content == "from u1\nfrom u2" || msg.Content == "from u2\nfrom u1" {
			t.Fatal("messages from different senders were merged")
		}
	}
}

// TestInboundDebouncer_Stop verifies that Stop flushes all pending entries
// immediately rather than waiting for their timers.
func TestInboundDebouncer_Stop(t *testing.T) {
	var mu sync.Mutex
	var flushed []string

	d := NewInboundDebouncer(time.Hour, func(msg InboundMessage) {
		mu.Lock()
		flushed = append(flushed, msg.Content)
		mu.Unlock()
	})

	d.Offer("lane1", InboundMessage{SenderID: "u1", Content: "pending"})
	d.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(flushed) != 1 || flushed[0] != "pending" {
		t.Fatalf("got %v, want a single flushed entry for %q", flushed, "pending")
	}
}

// TestMergeEnvelopes_UnionsMentions verifies mention lists are deduplicated
// while order-preserved across a merge.
func TestMergeEnvelopes_UnionsMentions(t *testing.T) {
	a := InboundMessage{Content: "a", Mentions: []string{"alice", "bob"}}
	b := InboundMessage{Content: "b", Mentions: []string{"bob", "carol"}}

	merged := mergeEnvelopes(a, b)

	want := []string{"alice", "bob", "carol"}
	if len(merged.Mentions) != len(want) {
		t.Fatalf("got mentions %v, want %v", merged.Mentions, want)
	}
	for i, m := range want {
		if merged.Mentions[i] != m {
			t.Fatalf("got mentions %v, want %v", merged.Mentions, want)
		}
	}
}
