package stream

import "context"

// LiveFeedSource opens the long-lived connection that delivers new messages
// for one room.
//
// Open must honor ctx for the whole handshake: if ctx is cancelled before the
// feed is established, Open returns an error and leaves nothing open.
type LiveFeedSource interface {
	Open(ctx context.Context, room RoomID, credential string) (Feed, error)
}

// LiveFeedSourceFunc adapts a function to LiveFeedSource.
type LiveFeedSourceFunc func(ctx context.Context, room RoomID, credential string) (Feed, error)

// Open calls f.
func (f LiveFeedSourceFunc) Open(ctx context.Context, room RoomID, credential string) (Feed, error) {
	return f(ctx, room, credential)
}

// Feed is an opened live connection. It is not restartable.
//
// Next blocks until a message arrives, ctx is done, or the connection fails.
// It reads at most one message per call, so a slow consumer applies
// backpressure to the transport instead of causing drops. A remote close is
// reported as an error matching ErrStreamInterrupted.
//
// Close must be safe to call concurrently with Next and more than once; it
// unblocks a pending Next.
type Feed interface {
	Next(ctx context.Context) (Message, error)
	Close() error
}
