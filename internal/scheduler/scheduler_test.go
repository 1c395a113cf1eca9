package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goclaw/gateway/internal/bus"
)

func testConfig() Config {
	return Config{
		MaxConcurrent:  4,
		StuckThreshold: time.Hour,
		LaneIdle:       time.Hour,
		SweepInterval:  time.Hour,
	}
}

func req(key, class, msgID string) RunRequest {
	return RunRequest{
		SessionKey:   key,
		ChannelClass: class,
		Message:      bus.InboundMessage{MessageID: msgID, Channel: class, Content: "hi"},
	}
}

func TestScheduler_FIFOWithinLane(t *testing.T) {
	var mu sync.Mutex
	var order []string
	var inFlight, maxInFlight int

	sched := New(testConfig(), nil, func(ctx context.Context, r RunRequest) (*RunResult, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		order = append(order, r.Message.MessageID)
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return &RunResult{Content: "done"}, nil
	})
	defer sched.Stop()

	var outs []<-chan Outcome
	for _, id := range []string{"m1", "m2", "m3"} {
		outs = append(outs, sched.Schedule(context.Background(), req("agent:default:telegram:direct:u1", "telegram", id)))
	}
	for _, out := range outs {
		if o := <-out; o.Err != nil {
			t.Fatalf("unexpected error: %v", o.Err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if maxInFlight != 1 {
		t.Errorf("expected at most one concurrent turn per lane, saw %d", maxInFlight)
	}
	want := []string{"m1", "m2", "m3"}
	for i, id := range want {
		if order[i] != id {
			t.Errorf("turn order[%d] = %s, want %s", i, order[i], id)
		}
	}
}

func TestScheduler_ParallelAcrossLanes(t *testing.T) {
	started := make(chan string, 2)
	release := make(chan struct{})

	sched := New(testConfig(), nil, func(ctx context.Context, r RunRequest) (*RunResult, error) {
		started <- r.SessionKey
		<-release
		return &RunResult{}, nil
	})
	defer sched.Stop()

	out1 := sched.Schedule(context.Background(), req("agent:default:telegram:direct:u1", "telegram", "m1"))
	out2 := sched.Schedule(context.Background(), req("agent:default:discord:direct:u2", "discord", "m2"))

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("lanes did not run in parallel")
		}
	}
	close(release)
	<-out1
	<-out2
}

func TestScheduler_CancelOneSessionPreservesQueue(t *testing.T) {
	key := "agent:default:telegram:direct:u1"
	running := make(chan struct{})

	sched := New(testConfig(), nil, func(ctx context.Context, r RunRequest) (*RunResult, error) {
		if r.Message.MessageID == "m1" {
			close(running)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &RunResult{Content: "second"}, nil
	})
	defer sched.Stop()

	out1 := sched.Schedule(context.Background(), req(key, "telegram", "m1"))
	out2 := sched.Schedule(context.Background(), req(key, "telegram", "m2"))

	<-running
	if !sched.CancelOneSession(key) {
		t.Fatal("expected an active turn to cancel")
	}

	if o := <-out1; !errors.Is(o.Err, context.Canceled) {
		t.Errorf("first turn error = %v, want context.Canceled", o.Err)
	}
	if o := <-out2; o.Err != nil || o.Result == nil || o.Result.Content != "second" {
		t.Errorf("queued turn should survive cancel, got %+v", o)
	}
}

func TestScheduler_CancelSessionDrainsQueue(t *testing.T) {
	key := "agent:default:telegram:direct:u1"
	running := make(chan struct{})

	sched := New(testConfig(), nil, func(ctx context.Context, r RunRequest) (*RunResult, error) {
		close(running)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	defer sched.Stop()

	out1 := sched.Schedule(context.Background(), req(key, "telegram", "m1"))
	out2 := sched.Schedule(context.Background(), req(key, "telegram", "m2"))

	<-running
	if !sched.CancelSession(key) {
		t.Fatal("expected cancellation to report work")
	}

	for i, out := range []<-chan Outcome{out1, out2} {
		if o := <-out; !errors.Is(o.Err, context.Canceled) {
			t.Errorf("turn %d error = %v, want context.Canceled", i+1, o.Err)
		}
	}
	if depth := sched.QueueDepth(key); depth != 0 {
		t.Errorf("queue depth after drain = %d, want 0", depth)
	}
}

func TestScheduler_StuckLaneReportedThenForceCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.StuckThreshold = 20 * time.Millisecond
	cfg.StuckGrace = 20 * time.Millisecond

	events := bus.NewEventBus()
	stuck := make(chan bus.SessionStuckPayload, 8)
	events.Subscribe("test", func(ev bus.DiagnosticEvent) {
		if ev.Kind == bus.DiagnosticSessionStuck {
			stuck <- ev.Payload.(bus.SessionStuckPayload)
		}
	})

	sched := New(cfg, events, func(ctx context.Context, r RunRequest) (*RunResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	defer sched.Stop()

	key := "agent:default:telegram:direct:u1"
	out := sched.Schedule(context.Background(), req(key, "telegram", "m1"))

	time.Sleep(30 * time.Millisecond)
	sched.sweepOnce(time.Now())

	select {
	case p := <-stuck:
		if p.SessionKey != key || p.State != "processing" {
			t.Errorf("stuck payload = %+v", p)
		}
		if p.AgeMs < cfg.StuckThreshold.Milliseconds() {
			t.Errorf("stuck ageMs = %d, want >= %d", p.AgeMs, cfg.StuckThreshold.Milliseconds())
		}
	case <-time.After(time.Second):
		t.Fatal("no session.stuck event after threshold")
	}

	// Second sweep past the grace window force-cancels the turn.
	time.Sleep(30 * time.Millisecond)
	sched.sweepOnce(time.Now())

	select {
	case o := <-out:
		if !errors.Is(o.Err, context.Canceled) {
			t.Errorf("force-cancelled turn error = %v, want context.Canceled", o.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("stuck turn was not force-cancelled after grace")
	}
}

func TestScheduler_RoundRobinAcrossChannelClasses(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 1

	var mu sync.Mutex
	var order []string
	gate := make(chan struct{})
	first := make(chan struct{})
	var firstOnce sync.Once

	sched := New(cfg, nil, func(ctx context.Context, r RunRequest) (*RunResult, error) {
		firstOnce.Do(func() {
			close(first)
			<-gate
		})
		mu.Lock()
		order = append(order, r.ChannelClass)
		mu.Unlock()
		return &RunResult{}, nil
	})
	defer sched.Stop()

	var outs []<-chan Outcome
	outs = append(outs, sched.Schedule(context.Background(), req("agent:default:telegram:direct:u1", "telegram", "t0")))
	<-first

	// While telegram's first turn blocks, pile up both classes.
	outs = append(outs, sched.Schedule(context.Background(), req("agent:default:telegram:direct:u1", "telegram", "t1")))
	outs = append(outs, sched.Schedule(context.Background(), req("agent:default:telegram:direct:u1", "telegram", "t2")))
	outs = append(outs, sched.Schedule(context.Background(), req("agent:default:discord:direct:u2", "discord", "d1")))
	close(gate)

	for _, out := range outs {
		<-out
	}

	mu.Lock()
	defer mu.Unlock()
	// Discord's lone turn must not be starved behind telegram's backlog.
	for i, class := range order {
		if class == "discord" {
			if i == len(order)-1 {
				t.Errorf("discord turn ran last (%v); round-robin should interleave it", order)
			}
			return
		}
	}
	t.Fatalf("discord turn never ran: %v", order)
}

func TestScheduler_EmitsQueuedAndProcessedOnce(t *testing.T) {
	events := bus.NewEventBus()
	type seen struct {
		kind    string
		payload bus.MessageEventPayload
	}
	got := make(chan seen, 8)
	events.Subscribe("test", func(ev bus.DiagnosticEvent) {
		if ev.Kind == bus.DiagnosticMessageQueued || ev.Kind == bus.DiagnosticMessageProcessed {
			got <- seen{ev.Kind, ev.Payload.(bus.MessageEventPayload)}
		}
	})

	sched := New(testConfig(), events, func(ctx context.Context, r RunRequest) (*RunResult, error) {
		return &RunResult{Content: "ok"}, nil
	})
	defer sched.Stop()

	out := sched.Schedule(context.Background(), req("agent:default:telegram:direct:u1", "telegram", "m1"))
	<-out

	var queued, processed int
	deadline := time.After(time.Second)
	for queued == 0 || processed == 0 {
		select {
		case ev := <-got:
			if ev.payload.MessageID != "m1" {
				t.Errorf("event message id = %s, want m1", ev.payload.MessageID)
			}
			switch ev.kind {
			case bus.DiagnosticMessageQueued:
				queued++
			case bus.DiagnosticMessageProcessed:
				processed++
				if ev.payload.Outcome != "ok" {
					t.Errorf("processed outcome = %s, want ok", ev.payload.Outcome)
				}
			}
		case <-deadline:
			t.Fatalf("missing events: queued=%d processed=%d", queued, processed)
		}
	}
	if queued != 1 || processed != 1 {
		t.Errorf("queued=%d processed=%d, want exactly one each", queued, processed)
	}
}
