package realtime

import (
	"sync"
	"sync/atomic"

	v1 "arcfeed/shared/contracts/realtime/v1"
)

// Client represents one connected websocket session.
//
// Send is never closed by the server so concurrent broadcasters cannot
// panic; done signals the session goroutines to stop. A client that falls
// behind the fan-out is evicted rather than silently skipped.
type Client struct {
	SessionID   string
	UserID      string
	DisplayName string
	Send        chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
	evicted   atomic.Bool
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(userID, displayName, sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID:   sessionID,
		UserID:      userID,
		DisplayName: displayName,
		Send:        make(chan v1.Envelope, sendQueueSize),
		done:        make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Evict closes the client because its send queue overflowed.
func (c *Client) Evict() {
	if c == nil {
		return
	}
	c.evicted.Store(true)
	c.Close()
}

// Evicted reports whether the client was closed by Evict.
func (c *Client) Evicted() bool {
	return c != nil && c.evicted.Load()
}
