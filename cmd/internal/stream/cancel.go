package stream

import (
	"context"
	"sync"
)

// CancelReason records which trigger cancelled a session first.
type CancelReason uint8

const (
	ReasonNone CancelReason = iota
	// ReasonCaller is an explicit Session.Cancel.
	ReasonCaller
	// ReasonLifecycle is a signal bound with Session.CancelOn.
	ReasonLifecycle
	// ReasonContext is the expiry of a context passed to Start or Next.
	ReasonContext

	// reasonRelease tears resources down after the session already ended on
	// its own (interruption, failed setup). It is not a cancellation request.
	reasonRelease
)

func (r CancelReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonCaller:
		return "caller"
	case ReasonLifecycle:
		return "lifecycle"
	case ReasonContext:
		return "context"
	case reasonRelease:
		return "release"
	default:
		return "unknown"
	}
}

// CancellationController binds one cancellation to the teardown of the
// resources registered with it. The first Cancel wins; later calls are no-ops.
type CancellationController struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	fired    bool
	reason   CancelReason
	teardown []func()
}

// NewCancellationController returns a controller in the not-cancelled state.
func NewCancellationController() *CancellationController {
	ctx, cancel := context.WithCancel(context.Background())
	return &CancellationController{ctx: ctx, cancel: cancel}
}

// Cancel fires the controller: the context is cancelled and every bound
// teardown runs (last bound first). It reports whether this call was the one
// that fired.
func (c *CancellationController) Cancel(reason CancelReason) bool {
	c.mu.Lock()
	if c.fired {
		c.mu.Unlock()
		return false
	}
	c.fired = true
	c.reason = reason
	fns := c.teardown
	c.teardown = nil
	c.mu.Unlock()

	c.cancel()
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
	return true
}

// Bind registers fn to run on cancellation. If the controller already fired,
// fn runs immediately on the calling goroutine. This closes the window where a
// connection finishes its handshake just after cancellation was requested.
func (c *CancellationController) Bind(fn func()) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	if c.fired {
		c.mu.Unlock()
		fn()
		return
	}
	c.teardown = append(c.teardown, fn)
	c.mu.Unlock()
}

// Context is cancelled when the controller fires.
func (c *CancellationController) Context() context.Context { return c.ctx }

// Done is closed when the controller fires.
func (c *CancellationController) Done() <-chan struct{} { return c.ctx.Done() }

// Fired reports whether the controller fired for any reason.
func (c *CancellationController) Fired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired
}

// Requested reports whether a cancellation was requested, as opposed to an
// internal release after the session ended by itself.
func (c *CancellationController) Requested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired && c.reason != reasonRelease
}

// Reason returns the reason of the first Cancel, or ReasonNone.
func (c *CancellationController) Reason() CancelReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}
