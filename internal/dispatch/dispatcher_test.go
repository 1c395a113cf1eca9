package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goclaw/gateway/internal/bus"
)

// recordingTransport captures every call for assertions.
type recordingTransport struct {
	mu        sync.Mutex
	texts     []string
	media     []bus.MediaAttachment
	captions  []string
	reactions []string
	typing    []bool
	textErr   error
}

func (r *recordingTransport) SendText(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.textErr != nil {
		return r.textErr
	}
	r.texts = append(r.texts, text)
	return nil
}

func (r *recordingTransport) SendMedia(ctx context.Context, item bus.MediaAttachment, caption string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.media = append(r.media, item)
	r.captions = append(r.captions, caption)
	return nil
}

func (r *recordingTransport) SendReaction(ctx context.Context, target, emoji string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reactions = append(r.reactions, target+":"+emoji)
	return nil
}

func (r *recordingTransport) SendTyping(ctx context.Context, composing bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typing = append(r.typing, composing)
	return nil
}

func newTestDispatcher(tr Transport, opts Options) *Dispatcher {
	if opts.Channel == "" {
		opts.Channel = "telegram"
	}
	if opts.Backoff.MaxAttempts == 0 {
		opts.Backoff = BackoffConfig{Base: time.Millisecond, MaxAttempts: 1}
	}
	return New(context.Background(), tr, opts)
}

func TestDispatcher_BuffersUntilFinalize(t *testing.T) {
	tr := &recordingTransport{}
	d := newTestDispatcher(tr, Options{FlushInterval: time.Hour})

	d.SendBlock("part one. ")
	d.SendBlock("part two.")

	tr.mu.Lock()
	sent := len(tr.texts)
	tr.mu.Unlock()
	if sent != 0 {
		t.Fatalf("text sent before finalize: %v", tr.texts)
	}

	if err := d.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.texts) != 1 || tr.texts[0] != "part one. part two." {
		t.Errorf("flushed %v, want one concatenated message", tr.texts)
	}
}

func TestDispatcher_FlushesWhenBufferExceedsLimit(t *testing.T) {
	tr := &recordingTransport{}
	d := newTestDispatcher(tr, Options{
		Chunker:       &Chunker{Limit: 20, Measure: RuneCount},
		FlushInterval: time.Hour,
	})

	d.SendBlock(strings.Repeat("a", 25))

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.texts) == 0 {
		t.Fatal("buffer over the limit should flush immediately")
	}
	for _, msg := range tr.texts {
		if len(msg) > 20 {
			t.Errorf("sent chunk of %d chars, over limit 20", len(msg))
		}
	}
}

func TestDispatcher_MediaFlushesTextFirstAndCaptionsFirstItemOnly(t *testing.T) {
	tr := &recordingTransport{}
	d := newTestDispatcher(tr, Options{FlushInterval: time.Hour})

	d.SendBlock("look at these:")
	items := []bus.MediaAttachment{
		{URL: "https://example.com/a.jpg", ContentType: "image/jpeg"},
		{URL: "https://example.com/b.jpg", ContentType: "image/jpeg"},
	}
	if err := d.SendMedia(items, "two photos"); err != nil {
		t.Fatalf("send media: %v", err)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.texts) != 1 || tr.texts[0] != "look at these:" {
		t.Errorf("buffered text should flush before media, got %v", tr.texts)
	}
	if len(tr.media) != 2 {
		t.Fatalf("media sent = %d, want 2", len(tr.media))
	}
	if tr.captions[0] != "two photos" || tr.captions[1] != "" {
		t.Errorf("captions = %v, want caption on first item only", tr.captions)
	}
}

func TestDispatcher_ReactionGateProducesPermanentError(t *testing.T) {
	tr := &recordingTransport{}
	d := newTestDispatcher(tr, Options{ReactionsEnabled: false})

	err := d.SendReaction("msg-1", "👍")
	if !IsPermanent(err) {
		t.Errorf("gated reaction error = %v, want permanent", err)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.reactions) != 0 {
		t.Errorf("gated reaction reached the transport: %v", tr.reactions)
	}
	if d.LastError() == nil {
		t.Error("gated reaction should be recorded for diagnostics")
	}
}

func TestDispatcher_ReactionAllowedWhenEnabled(t *testing.T) {
	tr := &recordingTransport{}
	d := newTestDispatcher(tr, Options{ReactionsEnabled: true})

	if err := d.SendReaction("msg-1", "👍"); err != nil {
		t.Fatalf("reaction: %v", err)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.reactions) != 1 || tr.reactions[0] != "msg-1:👍" {
		t.Errorf("reactions = %v", tr.reactions)
	}
}

func TestDispatcher_TypingClearedOnFinalize(t *testing.T) {
	tr := &recordingTransport{}
	d := newTestDispatcher(tr, Options{FlushInterval: time.Hour})

	d.SendBlock(strings.Repeat("long reply text ", 10))
	d.Finalize()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.typing) < 2 {
		t.Fatalf("typing calls = %v, want composing then idle", tr.typing)
	}
	if tr.typing[0] != true {
		t.Error("typing should start composing before a non-trivial flush")
	}
	if tr.typing[len(tr.typing)-1] != false {
		t.Error("typing should clear after the final chunk")
	}
}

func TestDispatcher_PermanentSendRecordedNotRetried(t *testing.T) {
	tr := &recordingTransport{textErr: Permanentf("blocked by provider")}
	events := bus.NewEventBus()
	failures := make(chan bus.SendFailurePayload, 1)
	events.Subscribe("test", func(ev bus.DiagnosticEvent) {
		if ev.Kind == bus.DiagnosticWebhookError {
			failures <- ev.Payload.(bus.SendFailurePayload)
		}
	})

	d := newTestDispatcher(tr, Options{Events: events, FlushInterval: time.Hour})
	d.SendBlock("hello")
	err := d.Finalize()

	if !IsPermanent(err) {
		t.Errorf("finalize error = %v, want permanent", err)
	}
	if !errors.Is(d.LastError(), err) {
		t.Error("permanent failure should be recorded as the last error")
	}
	select {
	case f := <-failures:
		if f.Stage != "text" {
			t.Errorf("failure stage = %s, want text", f.Stage)
		}
	case <-time.After(time.Second):
		t.Fatal("no diagnostic emitted for permanent send failure")
	}
}

func TestDispatcher_IntervalFlush(t *testing.T) {
	tr := &recordingTransport{}
	d := newTestDispatcher(tr, Options{FlushInterval: 20 * time.Millisecond})

	d.SendBlock("streamed piece")

	deadline := time.After(time.Second)
	for {
		tr.mu.Lock()
		n := len(tr.texts)
		tr.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("interval flush never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
