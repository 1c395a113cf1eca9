package bus

import (
	"strings"
	"sync"
	"time"
)

// FlushFunc is invoked with the (possibly coalesced) envelope once a
// debounce window closes.
type FlushFunc func(InboundMessage)

// InboundDebouncer coalesces rapid consecutive inbound messages from the
// same sender on the same lane into a single envelope, so a burst of
// half-typed lines becomes one agent turn. A window of 0 disables
// coalescing entirely — every Offer flushes immediately.
type InboundDebouncer struct {
	window time.Duration
	flush  FlushFunc

	mu      sync.Mutex
	pending map[string]*pendingEntry
}

type pendingEntry struct {
	msg   InboundMessage
	timer *time.Timer
}

// NewInboundDebouncer creates a debouncer with the given coalescing window.
// flush is called exactly once per coalesced group: from the window timer's
// goroutine, or on the caller's goroutine when the window is 0, when another
// sender's message closes the group (Offer), or on Stop.
func NewInboundDebouncer(window time.Duration, flush FlushFunc) *InboundDebouncer {
	return &InboundDebouncer{
		window:  window,
		flush:   flush,
		pending: make(map[string]*pendingEntry),
	}
}

// Offer submits an inbound envelope for debouncing. The lane key must
// already reflect (channel, account, chat[, topic]) — sender identity is
// folded in here so that a different sender's message on the same lane
// never interposes into another sender's coalescing group (invariant #9).
func (d *InboundDebouncer) Offer(laneKey string, msg InboundMessage) {
	if d.window <= 0 {
		d.flush(msg)
		return
	}

	lanePrefix := laneKey + "\x00"
	key := lanePrefix + msg.SenderID

	d.mu.Lock()
	// A message from another sender closes every open group on this lane,
	// so no coalesced envelope ever spans an interposed message.
	var interposed []InboundMessage
	for k, e := range d.pending {
		if k != key && strings.HasPrefix(k, lanePrefix) {
			e.timer.Stop()
			delete(d.pending, k)
			interposed = append(interposed, e.msg)
		}
	}

	if existing, ok := d.pending[key]; ok {
		existing.timer.Stop()
		existing.msg = mergeEnvelopes(existing.msg, msg)
		existing.timer = time.AfterFunc(d.window, func() { d.fire(key) })
	} else {
		entry := &pendingEntry{msg: msg}
		entry.timer = time.AfterFunc(d.window, func() { d.fire(key) })
		d.pending[key] = entry
	}
	d.mu.Unlock()

	for _, m := range interposed {
		d.flush(m)
	}
}

func (d *InboundDebouncer) fire(key string) {
	d.mu.Lock()
	entry, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
	}
	d.mu.Unlock()

	if ok {
		d.flush(entry.msg)
	}
}

// Stop cancels all pending timers and flushes whatever was coalesced so far
// for each, in no particular order. Used on graceful shutdown.
func (d *InboundDebouncer) Stop() {
	d.mu.Lock()
	pending := d.pending
	d.pending = make(map[string]*pendingEntry)
	d.mu.Unlock()

	for _, entry := range pending {
		entry.timer.Stop()
		d.flush(entry.msg)
	}
}

// mergeEnvelopes coalesces b into a: bodies are newline-joined, mentions are
// unioned, and b's metadata/timestamp win (latest envelope's metadata).
func mergeEnvelopes(a, b InboundMessage) InboundMessage {
	merged := b
	if a.Content != "" && b.Content != "" {
		merged.Content = a.Content + "\n" + b.Content
	} else if a.Content != "" {
		merged.Content = a.Content
	}
	merged.Mentions = unionStrings(a.Mentions, b.Mentions)
	return merged
}

func unionStrings(a, b []string) []string {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
