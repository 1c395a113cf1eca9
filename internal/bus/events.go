package bus

import (
	"sync"
	"sync/atomic"
)

// DiagnosticEvent is a tagged variant published onto the process-wide
// diagnostics bus. Kind is one of the Diagnostic* constants below.
type DiagnosticEvent struct {
	Kind    string      `json:"kind"`
	Payload interface{} `json:"payload,omitempty"`
}

// Diagnostic event kinds.
const (
	DiagnosticModelUsage       = "model.usage"
	DiagnosticWebhookReceived  = "webhook.received"
	DiagnosticWebhookProcessed = "webhook.processed"
	DiagnosticWebhookError     = "webhook.error"
	DiagnosticMessageQueued    = "message.queued"
	DiagnosticMessageProcessed = "message.processed"
	DiagnosticQueueLaneEnqueue = "queue.lane.enqueue"
	DiagnosticQueueLaneDequeue = "queue.lane.dequeue"
	DiagnosticSessionState     = "session.state"
	DiagnosticSessionStuck     = "session.stuck"
	DiagnosticRunAttempt       = "run.attempt"
	DiagnosticHeartbeat        = "diagnostic.heartbeat"
)

// LaneEventPayload accompanies queue.lane.enqueue / queue.lane.dequeue.
type LaneEventPayload struct {
	Lane      string `json:"lane"`
	QueueSize int    `json:"queueSize"`
	WaitMs    int64  `json:"waitMs,omitempty"` // dequeue only
}

// SessionStatePayload accompanies session.state.
type SessionStatePayload struct {
	SessionKey string `json:"sessionKey"`
	State      string `json:"state"` // "processing" or "idle"
}

// SessionStuckPayload accompanies session.stuck.
type SessionStuckPayload struct {
	SessionKey string `json:"sessionKey"`
	State      string `json:"state"`
	AgeMs      int64  `json:"ageMs"`
	QueueDepth int    `json:"queueDepth"`
}

// MessageEventPayload accompanies message.queued / message.processed.
type MessageEventPayload struct {
	MessageID  string `json:"messageId,omitempty"`
	Channel    string `json:"channel"`
	SessionKey string `json:"sessionKey,omitempty"`
	Outcome    string `json:"outcome,omitempty"` // processed only: "ok", "error", "cancelled", "duplicate", ...
}

// ModelUsagePayload accompanies model.usage, published after each turn.
type ModelUsagePayload struct {
	SessionKey   string `json:"sessionKey"`
	Model        string `json:"model,omitempty"`
	InputTokens  int    `json:"inputTokens,omitempty"`
	OutputTokens int    `json:"outputTokens,omitempty"`
	DurationMs   int64  `json:"durationMs"`
}

// SendFailurePayload accompanies webhook.error for failed outbound sends.
type SendFailurePayload struct {
	Channel string `json:"channel"`
	Stage   string `json:"stage"` // "text", "media", "reaction"
	Error   string `json:"error"`
}

// DiagnosticHandler receives published diagnostic events. Must not block.
type DiagnosticHandler func(DiagnosticEvent)

const defaultSubscriberBuffer = 64

// subscriber pairs a registered handler with its own delivery queue, so a
// slow handler only drops its own events rather than stalling Emit for
// everyone else.
type subscriber struct {
	handler DiagnosticHandler
	queue   chan DiagnosticEvent
	done    chan struct{}
}

// EventBus is a best-effort, bounded, process-wide publish/subscribe
// fan-out for DiagnosticEvent.
// Emitters never block: a full subscriber queue drops the event and
// increments Dropped, so observability never back-pressures the dispatch
// path.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	dropped     atomic.Int64
}

// NewEventBus creates an empty EventBus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers handler under id, replacing any prior subscriber with
// the same id. handler runs on a dedicated goroutine fed by a bounded queue.
func (b *EventBus) Subscribe(id string, handler DiagnosticHandler) {
	sub := &subscriber{
		handler: handler,
		queue:   make(chan DiagnosticEvent, defaultSubscriberBuffer),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if old, ok := b.subscribers[id]; ok {
		close(old.done)
	}
	b.subscribers[id] = sub
	b.mu.Unlock()

	go func() {
		for {
			select {
			case event := <-sub.queue:
				handler(event)
			case <-sub.done:
				return
			}
		}
	}()
}

// Unsubscribe removes the subscriber registered under id and stops its
// delivery goroutine.
func (b *EventBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(sub.done)
	}
}

// Emit publishes an event to every subscriber. Never blocks.
func (b *EventBus) Emit(event DiagnosticEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		select {
		case sub.queue <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the number of events dropped due to full subscriber
// queues since process start.
func (b *EventBus) Dropped() int64 {
	return b.dropped.Load()
}
