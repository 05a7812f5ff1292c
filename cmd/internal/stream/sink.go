package stream

import (
	"context"
	"fmt"
)

// UpdateSink receives batches of messages to display. Update is called from a
// single goroutine; the slice must not be retained after it returns.
type UpdateSink interface {
	Update(ctx context.Context, msgs []Message) error
}

// SinkFunc adapts a function to UpdateSink.
type SinkFunc func(ctx context.Context, msgs []Message) error

// Update calls f.
func (f SinkFunc) Update(ctx context.Context, msgs []Message) error { return f(ctx, msgs) }

// Pump delivers the history window to sink as one batch and then every live
// message one at a time, until the sequence ends. Pump does not read ahead:
// the next live message is requested only after the sink accepted the
// previous one.
//
// With WithHistoryReplay the window already flows through seq, so the
// separate history batch is skipped.
//
// It returns the sequence error (nil after cancellation). If the sink fails,
// the session is cancelled and the sink error is returned.
func Pump(ctx context.Context, history HistoryWindow, seq *Sequence, sink UpdateSink) error {
	if !seq.s.replay {
		if err := sink.Update(ctx, history); err != nil {
			seq.s.Cancel()
			return fmt.Errorf("stream: sink history update: %w", err)
		}
	}

	batch := make([]Message, 1)
	for msg := range seq.All(ctx) {
		batch[0] = msg
		if err := sink.Update(ctx, batch); err != nil {
			seq.s.Cancel()
			return fmt.Errorf("stream: sink live update: %w", err)
		}
	}
	return seq.Err()
}
