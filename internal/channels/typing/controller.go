// Package typing implements the keepalive loop behind a channel's "user is
// typing" indicator: most platforms expire the indicator after a few
// seconds, so it has to be re-sent periodically for the duration of a
// pending agent turn, but never forever — a stuck turn must not leave the
// indicator spinning indefinitely.
package typing

import (
	"sync"
	"time"
)

// Options configures a Controller.
type Options struct {
	// MaxDuration is the safety-net ceiling: the controller stops itself
	// after this long even if Stop is never called.
	MaxDuration time.Duration
	// KeepaliveInterval is how often StartFn is re-invoked to refresh the
	// platform's typing indicator before it expires.
	KeepaliveInterval time.Duration
	// StartFn sends one "typing" signal to the platform. Errors are
	// logged by the caller's choosing; the controller itself ignores them
	// and keeps ticking.
	StartFn func() error
}

// Controller runs StartFn immediately, then again every KeepaliveInterval,
// until Stop is called or MaxDuration elapses.
type Controller struct {
	opts Options

	mu      sync.Mutex
	started bool
	stopped bool
	done    chan struct{}
}

// New creates a Controller without starting it; call Start to fire the
// first signal and begin the keepalive ticker (kept separate from New so
// adapters can construct a Controller ahead of the point they want typing
// to begin).
func New(opts Options) *Controller {
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 60 * time.Second
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = 9 * time.Second
	}
	return &Controller{opts: opts, done: make(chan struct{})}
}

// Start sends the first typing signal and begins the keepalive loop in a
// background goroutine. Safe to call once; subsequent calls are no-ops.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.stopped || c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	if c.opts.StartFn != nil {
		c.opts.StartFn()
	}

	go c.loop()
}

func (c *Controller) loop() {
	ticker := time.NewTicker(c.opts.KeepaliveInterval)
	defer ticker.Stop()

	deadline := time.NewTimer(c.opts.MaxDuration)
	defer deadline.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-deadline.C:
			c.Stop()
			return
		case <-ticker.C:
			if c.opts.StartFn != nil {
				c.opts.StartFn()
			}
		}
	}
}

// Stop ends the keepalive loop. Safe to call multiple times and safe to
// call even if Start was never called.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.done)
}
