// Package dispatch renders agent-produced reply artifacts into channel
// sends: it buffers streamed text blocks, rewrites markdown tables for the
// target channel, chunks to provider limits without breaking code fences,
// retries transient failures, and keeps the typing indicator honest.
package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/goclaw/gateway/internal/bus"
)

// TurnResult carries the usage statistics one agent turn reports back.
type TurnResult struct {
	Model        string
	InputTokens  int
	OutputTokens int
	DurationMs   int64
}

// ReplySink is the surface a running turn writes its artifacts to. The
// dispatcher is the production implementation; tests substitute their own.
type ReplySink interface {
	// SendBlock appends streamed text to the reply buffer; delivery
	// happens on flush (limit reached, flush interval elapsed, or
	// Finalize).
	SendBlock(text string) error

	// SendMedia delivers attachments, flushing buffered text first so
	// ordering is preserved. Caption accompanies only the first item.
	SendMedia(items []bus.MediaAttachment, caption string) error

	// SendReaction asks the channel to react to an earlier message.
	// Subject to the per-channel reactions gate.
	SendReaction(targetMessageID, emoji string) error

	// SendTyping toggles the channel's typing indicator.
	SendTyping(composing bool) error

	// Finalize flushes any remaining buffered text and clears the typing
	// indicator. The turn is done producing output.
	Finalize() error
}

// TurnRunner executes one agent turn. The agent runtime behind it is an
// external collaborator; the gateway only depends on this contract.
type TurnRunner interface {
	RunTurn(ctx context.Context, sessionKey string, msg bus.InboundMessage, reply ReplySink) (*TurnResult, error)
}

// TurnRunnerFunc adapts a function to TurnRunner.
type TurnRunnerFunc func(ctx context.Context, sessionKey string, msg bus.InboundMessage, reply ReplySink) (*TurnResult, error)

func (f TurnRunnerFunc) RunTurn(ctx context.Context, sessionKey string, msg bus.InboundMessage, reply ReplySink) (*TurnResult, error) {
	return f(ctx, sessionKey, msg, reply)
}

// Transport is the adapter-facing half of the dispatcher: one conversation
// on one channel.
type Transport interface {
	SendText(ctx context.Context, text string) error
	SendMedia(ctx context.Context, item bus.MediaAttachment, caption string) error
	SendReaction(ctx context.Context, targetMessageID, emoji string) error
	SendTyping(ctx context.Context, composing bool) error
}

// TransportFuncs implements Transport from plain functions; nil fields
// mean the channel lacks that capability.
type TransportFuncs struct {
	Text     func(ctx context.Context, text string) error
	Media    func(ctx context.Context, item bus.MediaAttachment, caption string) error
	Reaction func(ctx context.Context, targetMessageID, emoji string) error
	Typing   func(ctx context.Context, composing bool) error
}

func (t TransportFuncs) SendText(ctx context.Context, text string) error {
	if t.Text == nil {
		return Permanentf("channel does not support text sends")
	}
	return t.Text(ctx, text)
}

func (t TransportFuncs) SendMedia(ctx context.Context, item bus.MediaAttachment, caption string) error {
	if t.Media == nil {
		return Permanentf("channel does not support media sends")
	}
	return t.Media(ctx, item, caption)
}

func (t TransportFuncs) SendReaction(ctx context.Context, target, emoji string) error {
	if t.Reaction == nil {
		return Permanentf("channel does not support reactions")
	}
	return t.Reaction(ctx, target, emoji)
}

func (t TransportFuncs) SendTyping(ctx context.Context, composing bool) error {
	if t.Typing == nil {
		return nil // typing is best-effort everywhere
	}
	return t.Typing(ctx, composing)
}

// Options configures a Dispatcher for one conversation.
type Options struct {
	Channel          string
	Chunker          *Chunker
	TableMode        TableMode
	FlushInterval    time.Duration
	MediaMaxBytes    int64
	ReactionsEnabled bool
	SanitizeImages   bool
	Backoff          BackoffConfig
	Events           *bus.EventBus
}

// typingMinChars is the buffer size past which a flush is "non-trivial"
// enough to warrant a typing indicator.
const typingMinChars = 40

// Dispatcher implements ReplySink over a Transport for one conversation.
// It is driven by the lane worker that owns the active turn, so calls are
// already serialized; the mutex only covers the flush timer's access.
type Dispatcher struct {
	ctx       context.Context
	transport Transport
	opts      Options

	mu         sync.Mutex
	buf        strings.Builder
	flushTimer *time.Timer
	typing     bool
	finalized  bool
	lastErr    error
}

// New creates a Dispatcher. ctx bounds every send it performs.
func New(ctx context.Context, transport Transport, opts Options) *Dispatcher {
	if opts.Chunker == nil {
		opts.Chunker = NewChunker(opts.Channel, ChunkLimitFor(opts.Channel, nil))
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}
	if opts.Backoff.MaxAttempts == 0 {
		opts.Backoff = DefaultBackoff()
	}
	return &Dispatcher{ctx: ctx, transport: transport, opts: opts}
}

// SendBlock buffers text, flushing when the buffer outgrows the channel
// limit, and arms the interval flush otherwise.
func (d *Dispatcher) SendBlock(text string) error {
	d.mu.Lock()
	if d.finalized {
		d.mu.Unlock()
		return Permanentf("reply already finalized")
	}
	d.buf.WriteString(text)
	over := d.opts.Chunker.Limit > 0 && d.opts.Chunker.Measure(d.buf.String()) >= d.opts.Chunker.Limit
	if !over {
		if d.flushTimer == nil {
			d.flushTimer = time.AfterFunc(d.opts.FlushInterval, func() { d.Flush() })
		} else {
			d.flushTimer.Reset(d.opts.FlushInterval)
		}
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()
	return d.Flush()
}

// Flush delivers the buffered text now.
func (d *Dispatcher) Flush() error {
	d.mu.Lock()
	text := d.buf.String()
	d.buf.Reset()
	if d.flushTimer != nil {
		d.flushTimer.Stop()
		d.flushTimer = nil
	}
	d.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		return nil
	}

	if len(text) >= typingMinChars {
		d.setTyping(true)
	}

	text = RewriteTables(text, d.opts.TableMode)
	for _, chunk := range d.opts.Chunker.Split(text) {
		if err := d.sendWithRetry(func() error {
			return d.transport.SendText(d.ctx, chunk)
		}); err != nil {
			d.recordError("text", err)
			return err
		}
	}
	return nil
}

// SendMedia flushes buffered text, then delivers each attachment. Caption
// rides on the first item only.
func (d *Dispatcher) SendMedia(items []bus.MediaAttachment, caption string) error {
	if err := d.Flush(); err != nil {
		return err
	}

	for i, item := range items {
		path := item.URL
		if d.opts.SanitizeImages && !strings.Contains(path, "://") {
			sanitized, err := SanitizeImage(path, item.ContentType)
			if err != nil {
				d.recordError("media", err)
				return err
			}
			path = sanitized
		}
		if !strings.Contains(path, "://") {
			if err := ValidateMedia(path, d.opts.MediaMaxBytes); err != nil {
				d.recordError("media", err)
				return err
			}
		}

		itemCaption := ""
		if i == 0 {
			itemCaption = caption
		}
		send := item
		send.URL = path
		if err := d.sendWithRetry(func() error {
			return d.transport.SendMedia(d.ctx, send, itemCaption)
		}); err != nil {
			d.recordError("media", err)
			return err
		}
	}
	return nil
}

// SendReaction honors the per-channel reactions gate: a gated directive is
// a PermanentError the operator can see, not a silent drop.
func (d *Dispatcher) SendReaction(targetMessageID, emoji string) error {
	if !d.opts.ReactionsEnabled {
		err := Permanentf("reactions disabled for channel %s", d.opts.Channel)
		d.recordError("reaction", err)
		return err
	}
	if err := d.sendWithRetry(func() error {
		return d.transport.SendReaction(d.ctx, targetMessageID, emoji)
	}); err != nil {
		d.recordError("reaction", err)
		return err
	}
	return nil
}

// SendTyping toggles the indicator directly; the dispatcher also manages
// it implicitly around flushes.
func (d *Dispatcher) SendTyping(composing bool) error {
	d.setTyping(composing)
	return nil
}

// Finalize flushes whatever is left and clears the typing indicator.
func (d *Dispatcher) Finalize() error {
	err := d.Flush()
	d.setTyping(false)
	d.mu.Lock()
	d.finalized = true
	if d.flushTimer != nil {
		d.flushTimer.Stop()
		d.flushTimer = nil
	}
	d.mu.Unlock()
	return err
}

// LastError returns the most recent send failure, if any. Permanent
// failures park here for diagnostics instead of killing the lane.
func (d *Dispatcher) LastError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

func (d *Dispatcher) sendWithRetry(fn func() error) error {
	return Retry(d.ctx, d.opts.Backoff, fn)
}

func (d *Dispatcher) setTyping(composing bool) {
	d.mu.Lock()
	if d.typing == composing {
		d.mu.Unlock()
		return
	}
	d.typing = composing
	d.mu.Unlock()

	if err := d.transport.SendTyping(d.ctx, composing); err != nil {
		slog.Debug("typing indicator failed", "channel", d.opts.Channel, "error", err)
	}
}

func (d *Dispatcher) recordError(stage string, err error) {
	d.mu.Lock()
	d.lastErr = err
	d.mu.Unlock()

	slog.Warn("outbound send failed", "channel", d.opts.Channel, "stage", stage, "error", err)
	if d.opts.Events != nil {
		d.opts.Events.Emit(bus.DiagnosticEvent{
			Kind: bus.DiagnosticWebhookError,
			Payload: bus.SendFailurePayload{
				Channel: d.opts.Channel,
				Stage:   stage,
				Error:   err.Error(),
			},
		})
	}
}
