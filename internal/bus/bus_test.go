package bus

import (
	"context"
	"testing"
	"time"
)

// TestMessageBus_InboundRoundTrip verifies a published inbound envelope is
// delivered to a single consumer in order.
func TestMessageBus_InboundRoundTrip(t *testing.T) {
	b := New()
	b.PublishInbound(InboundMessage{Channel: "telegram", SenderID: "u1", Content: "hi"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected a message, got none")
	}
	if msg.Content != "hi" {
		t.Fatalf("got content %q, want %q", msg.Content, "hi")
	}
}

// TestMessageBus_OutboundRoundTrip mirrors the inbound test for the outbound
// side of the bus.
func TestMessageBus_OutboundRoundTrip(t *testing.T) {
	b := New()
	b.PublishOutbound(OutboundMessage{Channel: "discord", ChatID: "c1", Content: "reply"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, ok := b.SubscribeOutbound(ctx)
	if !ok {
		t.Fatal("expected a message, got none")
	}
	if msg.ChatID != "c1" {
		t.Fatalf("got chat id %q, want %q", msg.ChatID, "c1")
	}
}

// TestMessageBus_ConsumeInbound_ContextCancelled verifies ConsumeInbound
// returns promptly with ok=false when the context is cancelled before any
// message arrives.
func TestMessageBus_ConsumeInbound_ContextCancelled(t *testing.T) {
	b := New()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := b.ConsumeInbound(ctx)
	if ok {
		t.Fatal("expected ok=false after context cancellation")
	}
}

// TestMessageBus_NewWithCapacity_NonPositiveDefaults verifies a non-positive
// capacity falls back to the default queue size rather than producing an
// unbuffered (or negative-capacity) channel.
func TestMessageBus_NewWithCapacity_NonPositiveDefaults(t *testing.T) {
	b := NewWithCapacity(0)
	if cap(b.inbound) != defaultQueueSize {
		t.Fatalf("got inbound capacity %d, want %d", cap(b.inbound), defaultQueueSize)
	}
}
