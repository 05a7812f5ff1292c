package stream

import (
	"context"
	"iter"
	"sync"
)

// Sequence is the live message sequence of a started Session. It yields
// messages strictly after the history window, in arrival order, without
// repeating the window tail.
//
// A Sequence has a single consumer: Next must not be called concurrently.
type Sequence struct {
	s     *Session
	merge *mergeSequencer

	mu       sync.Mutex
	finished bool
	err      error
}

// Next blocks until the next live message is available and returns it. It
// returns false once the sequence has ended: after cancellation (Err is nil)
// or an interruption (Err matches ErrStreamInterrupted). Cancelling ctx
// cancels the whole session.
func (q *Sequence) Next(ctx context.Context) (Message, bool) {
	if q.isFinished() {
		return Message{}, false
	}
	if q.s.ctrl.Fired() {
		q.finish(q.s.endAfterFire())
		return Message{}, false
	}

	if ctx != nil {
		stop := context.AfterFunc(ctx, func() { q.s.cancel(ReasonContext) })
		defer stop()
	}

	msg, err := q.merge.next(q.s.ctrl.Context())
	if err != nil {
		q.finish(q.s.endFeed(err))
		return Message{}, false
	}

	// A message that raced with cancellation is never delivered.
	if q.s.ctrl.Fired() {
		q.finish(q.s.endAfterFire())
		return Message{}, false
	}

	q.s.observer.MessageDelivered(q.s.room)
	return msg, true
}

// Err returns the reason the sequence ended: nil for cancellation, an
// ErrStreamInterrupted error for an abnormal end of the feed.
func (q *Sequence) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// All returns an iterator over the remaining messages. Check Err after the
// loop ends.
func (q *Sequence) All(ctx context.Context) iter.Seq[Message] {
	return func(yield func(Message) bool) {
		for {
			msg, ok := q.Next(ctx)
			if !ok || !yield(msg) {
				return
			}
		}
	}
}

// Session returns the session the sequence belongs to.
func (q *Sequence) Session() *Session { return q.s }

func (q *Sequence) isFinished() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.finished
}

func (q *Sequence) finish(err error) {
	q.mu.Lock()
	if !q.finished {
		q.finished = true
		q.err = err
	}
	q.mu.Unlock()
}
