// Package scheduler serializes agent turns per conversation. Every
// conversation maps to exactly one lane (keyed by its session key); a lane
// runs at most one turn at a time and drains its queue in FIFO order, while
// lanes of different conversations run in parallel up to a global cap.
// Lane selection round-robins across channel classes so a burst on one
// channel cannot starve the others.
package scheduler

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/goclaw/gateway/internal/bus"
)

// RunFunc executes one agent turn for a dequeued envelope. It must honor
// ctx cancellation between message-producing steps.
type RunFunc func(ctx context.Context, req RunRequest) (*RunResult, error)

// RunRequest is one unit of lane work.
type RunRequest struct {
	SessionKey string
	// ChannelClass groups lanes for round-robin fairness; usually the
	// channel name ("telegram", "discord", ...).
	ChannelClass string
	RunID        string
	Message      bus.InboundMessage
}

// RunResult is what a completed turn hands back for outbound delivery.
type RunResult struct {
	Content      string
	Media        []bus.MediaAttachment
	Model        string
	InputTokens  int
	OutputTokens int
	DurationMs   int64
}

// Outcome is delivered exactly once on the channel returned by Schedule.
type Outcome struct {
	Result *RunResult
	Err    error
}

// Config tunes the scheduler. Zero values select defaults, except
// StuckGrace, where 0 disables force-cancel.
type Config struct {
	// MaxConcurrent caps turns running across all lanes.
	MaxConcurrent int
	// StuckThreshold is how long a turn may run before the lane is
	// reported stuck.
	StuckThreshold time.Duration
	// StuckGrace is how much longer a reported-stuck turn gets before
	// force-cancellation. 0 disables force-cancel.
	StuckGrace time.Duration
	// LaneIdle is how long an empty, inactive lane survives before its
	// state is dropped.
	LaneIdle time.Duration
	// SweepInterval is how often the stuck/idle sweep runs.
	SweepInterval time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  runtime.NumCPU() * 2,
		StuckThreshold: 10 * time.Minute,
		StuckGrace:     time.Minute,
		LaneIdle:       5 * time.Minute,
		SweepInterval:  time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.StuckThreshold <= 0 {
		c.StuckThreshold = d.StuckThreshold
	}
	if c.LaneIdle <= 0 {
		c.LaneIdle = d.LaneIdle
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	return c
}

// item is one queued turn.
type item struct {
	req       RunRequest
	outcome   chan Outcome
	enqueueAt time.Time

	// set while the item is active
	cancel        context.CancelFunc
	startedAt     time.Time
	stuckReported bool
}

// lane is the single-slot FIFO queue for one session key.
type lane struct {
	key      string
	class    string
	queue    []*item
	active   *item
	draining bool
	lastUsed time.Time
	ready    bool // queued in the scheduler's ready ring
}

// Scheduler owns the lane table and the dispatch loop.
type Scheduler struct {
	cfg    Config
	run    RunFunc
	events *bus.EventBus

	mu      sync.Mutex
	cond    *sync.Cond
	lanes   map[string]*lane
	readyBy map[string][]*lane // channel class → FIFO of runnable lanes
	classes []string           // round-robin order over readyBy keys
	rr      int
	running int
	stopped bool

	sweepDone chan struct{}
}

// New creates and starts a Scheduler. events may be nil.
func New(cfg Config, events *bus.EventBus, run RunFunc) *Scheduler {
	s := &Scheduler{
		cfg:       cfg.withDefaults(),
		run:       run,
		events:    events,
		lanes:     make(map[string]*lane),
		readyBy:   make(map[string][]*lane),
		sweepDone: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.dispatch()
	go s.sweep()
	return s
}

// Schedule enqueues req on its session lane and returns a buffered channel
// that receives exactly one Outcome when the turn completes (or is
// cancelled, or dropped at shutdown).
func (s *Scheduler) Schedule(ctx context.Context, req RunRequest) <-chan Outcome {
	it := &item{
		req:       req,
		outcome:   make(chan Outcome, 1),
		enqueueAt: time.Now(),
	}
	it.req.Message.EnqueueAtMs = it.enqueueAt.UnixMilli()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		it.outcome <- Outcome{Err: context.Canceled}
		return it.outcome
	}

	ln := s.lanes[req.SessionKey]
	if ln == nil {
		ln = &lane{key: req.SessionKey, class: req.ChannelClass}
		s.lanes[req.SessionKey] = ln
	}
	if ln.draining {
		s.mu.Unlock()
		it.outcome <- Outcome{Err: context.Canceled}
		return it.outcome
	}
	ln.queue = append(ln.queue, it)
	ln.lastUsed = time.Now()
	queueSize := len(ln.queue)
	s.markReadyLocked(ln)
	s.mu.Unlock()

	s.emit(bus.DiagnosticMessageQueued, bus.MessageEventPayload{
		MessageID:  req.Message.MessageID,
		Channel:    req.Message.Channel,
		SessionKey: req.SessionKey,
	})
	s.emit(bus.DiagnosticQueueLaneEnqueue, bus.LaneEventPayload{
		Lane:      req.SessionKey,
		QueueSize: queueSize,
	})
	s.cond.Signal()
	return it.outcome
}

// markReadyLocked queues ln into the ready ring if it can run now.
func (s *Scheduler) markReadyLocked(ln *lane) {
	if ln.ready || ln.active != nil || len(ln.queue) == 0 {
		return
	}
	if _, ok := s.readyBy[ln.class]; !ok {
		s.classes = append(s.classes, ln.class)
	}
	s.readyBy[ln.class] = append(s.readyBy[ln.class], ln)
	ln.ready = true
}

// nextReadyLocked pops the next runnable lane, rotating across classes.
func (s *Scheduler) nextReadyLocked() *lane {
	for i := 0; i < len(s.classes); i++ {
		class := s.classes[(s.rr+i)%len(s.classes)]
		queue := s.readyBy[class]
		if len(queue) == 0 {
			continue
		}
		ln := queue[0]
		s.readyBy[class] = queue[1:]
		ln.ready = false
		s.rr = (s.rr + i + 1) % len(s.classes)
		return ln
	}
	return nil
}

// dispatch is the single goroutine that moves items from ready lanes into
// running turns, bounded by MaxConcurrent.
func (s *Scheduler) dispatch() {
	for {
		s.mu.Lock()
		var ln *lane
		for {
			if s.stopped {
				s.mu.Unlock()
				return
			}
			if s.running < s.cfg.MaxConcurrent {
				if ln = s.nextReadyLocked(); ln != nil {
					// A cancel may have drained the queue after the lane
					// was marked ready.
					if len(ln.queue) == 0 {
						ln = nil
						continue
					}
					break
				}
			}
			s.cond.Wait()
		}

		it := ln.queue[0]
		ln.queue = ln.queue[1:]
		ln.active = it
		ln.lastUsed = time.Now()
		s.running++

		ctx, cancel := context.WithCancel(context.Background())
		it.cancel = cancel
		it.startedAt = time.Now()
		queueSize := len(ln.queue)
		s.mu.Unlock()

		s.emit(bus.DiagnosticQueueLaneDequeue, bus.LaneEventPayload{
			Lane:      ln.key,
			QueueSize: queueSize,
			WaitMs:    time.Since(it.enqueueAt).Milliseconds(),
		})
		s.emit(bus.DiagnosticSessionState, bus.SessionStatePayload{
			SessionKey: ln.key,
			State:      "processing",
		})

		go s.runItem(ctx, ln, it)
	}
}

func (s *Scheduler) runItem(ctx context.Context, ln *lane, it *item) {
	started := time.Now()
	result, err := s.run(ctx, it.req)
	ctxErr := ctx.Err()
	it.cancel()

	outcome := "ok"
	switch {
	case errors.Is(err, context.Canceled) || ctxErr != nil:
		outcome = "cancelled"
		if err == nil {
			err = context.Canceled
		}
	case err != nil:
		outcome = "error"
	}
	if result != nil && result.DurationMs == 0 {
		result.DurationMs = time.Since(started).Milliseconds()
	}

	s.mu.Lock()
	ln.active = nil
	ln.lastUsed = time.Now()
	s.running--
	s.markReadyLocked(ln)
	s.mu.Unlock()

	s.emit(bus.DiagnosticSessionState, bus.SessionStatePayload{
		SessionKey: ln.key,
		State:      "idle",
	})
	s.emit(bus.DiagnosticMessageProcessed, bus.MessageEventPayload{
		MessageID:  it.req.Message.MessageID,
		Channel:    it.req.Message.Channel,
		SessionKey: ln.key,
		Outcome:    outcome,
	})
	if result != nil {
		s.emit(bus.DiagnosticModelUsage, bus.ModelUsagePayload{
			SessionKey:   ln.key,
			Model:        result.Model,
			InputTokens:  result.InputTokens,
			OutputTokens: result.OutputTokens,
			DurationMs:   result.DurationMs,
		})
	}

	it.outcome <- Outcome{Result: result, Err: err}
	s.cond.Broadcast()
}

// CancelOneSession cancels the active turn on key's lane, preserving the
// queue. Returns false if nothing was active.
func (s *Scheduler) CancelOneSession(key string) bool {
	s.mu.Lock()
	ln := s.lanes[key]
	var cancel context.CancelFunc
	if ln != nil && ln.active != nil {
		cancel = ln.active.cancel
	}
	s.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// CancelSession cancels the active turn on key's lane and drains its
// queue; every queued item's Outcome reports cancellation. Returns true if
// any work was cancelled or dropped.
func (s *Scheduler) CancelSession(key string) bool {
	s.mu.Lock()
	ln := s.lanes[key]
	if ln == nil {
		s.mu.Unlock()
		return false
	}
	drained := ln.queue
	ln.queue = nil
	var cancel context.CancelFunc
	if ln.active != nil {
		cancel = ln.active.cancel
	}
	s.mu.Unlock()

	for _, it := range drained {
		it.outcome <- Outcome{Err: context.Canceled}
	}
	if cancel != nil {
		cancel()
	}
	return cancel != nil || len(drained) > 0
}

// Drain marks key's lane as draining: the active turn completes, queued
// items still run, but new Schedule calls are refused.
func (s *Scheduler) Drain(key string) {
	s.mu.Lock()
	if ln := s.lanes[key]; ln != nil {
		ln.draining = true
	}
	s.mu.Unlock()
}

// QueueDepth reports how many items are queued (not active) on key's lane.
func (s *Scheduler) QueueDepth(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ln := s.lanes[key]; ln != nil {
		return len(ln.queue)
	}
	return 0
}

// Stop shuts the scheduler down: cancels every active turn, drops every
// queued item with a cancellation outcome, and stops the dispatch and
// sweep goroutines.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	var cancels []context.CancelFunc
	var dropped []*item
	for _, ln := range s.lanes {
		if ln.active != nil {
			cancels = append(cancels, ln.active.cancel)
		}
		dropped = append(dropped, ln.queue...)
		ln.queue = nil
		ln.ready = false
	}
	s.readyBy = make(map[string][]*lane)
	s.mu.Unlock()

	s.cond.Broadcast()
	close(s.sweepDone)
	for _, cancel := range cancels {
		cancel()
	}
	for _, it := range dropped {
		it.outcome <- Outcome{Err: context.Canceled}
	}
}

// sweep periodically reports stuck lanes, force-cancels them past the
// grace window, and evicts idle lane state.
func (s *Scheduler) sweep() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.sweepDone:
			return
		case <-ticker.C:
			s.sweepOnce(time.Now())
		}
	}
}

func (s *Scheduler) sweepOnce(now time.Time) {
	type stuck struct {
		payload bus.SessionStuckPayload
		cancel  context.CancelFunc
	}
	var reports []stuck

	s.mu.Lock()
	for key, ln := range s.lanes {
		if ln.active != nil {
			age := now.Sub(ln.active.startedAt)
			if age < s.cfg.StuckThreshold {
				continue
			}
			report := stuck{payload: bus.SessionStuckPayload{
				SessionKey: key,
				State:      "processing",
				AgeMs:      age.Milliseconds(),
				QueueDepth: len(ln.queue),
			}}
			if !ln.active.stuckReported {
				ln.active.stuckReported = true
			} else if s.cfg.StuckGrace > 0 && age >= s.cfg.StuckThreshold+s.cfg.StuckGrace {
				report.cancel = ln.active.cancel
			}
			reports = append(reports, report)
			continue
		}
		if len(ln.queue) == 0 && now.Sub(ln.lastUsed) > s.cfg.LaneIdle {
			delete(s.lanes, key)
		}
	}
	s.mu.Unlock()

	for _, r := range reports {
		s.emit(bus.DiagnosticSessionStuck, r.payload)
		if r.cancel != nil {
			r.cancel()
		}
	}
}

func (s *Scheduler) emit(kind string, payload interface{}) {
	if s.events != nil {
		s.events.Emit(bus.DiagnosticEvent{Kind: kind, Payload: payload})
	}
}
