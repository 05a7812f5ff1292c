package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

var errRemoteClosed = errors.New("remote closed")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func msg(seq int64) Message {
	return Message{
		ID:                fmt.Sprintf("m%d", seq),
		Seq:               seq,
		RoomID:            "room-1",
		AuthorDisplayName: "alice",
		Text:              "text",
		SentAt:            time.Unix(1700000000+seq, 0).UTC(),
	}
}

func seqs(msgs []Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Seq)
	}
	return out
}

func fixedHistory(msgs ...Message) HistoryFetcher {
	return HistoryFetcherFunc(func(_ context.Context, _ RoomID, _ string, limit int) ([]Message, error) {
		if len(msgs) > limit {
			return msgs[len(msgs)-limit:], nil
		}
		return msgs, nil
	})
}

// fakeFeed delivers queued messages, then either blocks until closed or
// fails with endErr once the queue is drained.
type fakeFeed struct {
	ch     chan Message
	endErr error

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newFakeFeed(endErr error, msgs ...Message) *fakeFeed {
	f := &fakeFeed{ch: make(chan Message, 64), endErr: endErr, done: make(chan struct{})}
	for _, m := range msgs {
		f.ch <- m
	}
	return f
}

func (f *fakeFeed) push(m Message) { f.ch <- m }

func (f *fakeFeed) Next(ctx context.Context) (Message, error) {
	select {
	case m := <-f.ch:
		return m, nil
	default:
	}
	if f.endErr != nil {
		return Message{}, f.endErr
	}
	select {
	case m := <-f.ch:
		return m, nil
	case <-f.done:
		return Message{}, errFeedClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

var errFeedClosed = errors.New("use of closed connection")

func (f *fakeFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

func (f *fakeFeed) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeSource hands out one feed. If gate is set, Open waits for it (or ctx)
// before completing, which models a slow handshake.
type fakeSource struct {
	feed    *fakeFeed
	openErr error
	gate    chan struct{}
	opened  chan struct{}

	mu    sync.Mutex
	calls int
}

func (s *fakeSource) Open(ctx context.Context, _ RoomID, _ string) (Feed, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.opened != nil {
		close(s.opened)
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.feed, nil
}

type countingObserver struct {
	mu         sync.Mutex
	started    int
	delivered  int
	duplicates int
	ended      []State
}

func (o *countingObserver) SessionStarted(RoomID, int) {
	o.mu.Lock()
	o.started++
	o.mu.Unlock()
}

func (o *countingObserver) MessageDelivered(RoomID) {
	o.mu.Lock()
	o.delivered++
	o.mu.Unlock()
}

func (o *countingObserver) BoundaryDuplicate(RoomID) {
	o.mu.Lock()
	o.duplicates++
	o.mu.Unlock()
}

func (o *countingObserver) SessionEnded(_ RoomID, st State) {
	o.mu.Lock()
	o.ended = append(o.ended, st)
	o.mu.Unlock()
}

// rangedHistory is a HistoryFetcher and RangeFetcher over a mutable message
// log. afterSnapshot runs once the history window was taken, which models a
// post landing between the snapshot and the live join. late is added to the
// log after the first FetchAfter call.
type rangedHistory struct {
	afterSnapshot func(h *rangedHistory)
	late          []Message
	afterErr      error

	mu         sync.Mutex
	log        []Message
	afterCalls int
}

func newRangedHistory(msgs ...Message) *rangedHistory {
	return &rangedHistory{log: msgs}
}

func (h *rangedHistory) add(msgs ...Message) {
	h.mu.Lock()
	h.log = append(h.log, msgs...)
	h.mu.Unlock()
}

func (h *rangedHistory) FetchHistory(_ context.Context, _ RoomID, _ string, limit int) ([]Message, error) {
	h.mu.Lock()
	out := append([]Message(nil), h.log...)
	h.mu.Unlock()
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	if h.afterSnapshot != nil {
		h.afterSnapshot(h)
	}
	return out, nil
}

func (h *rangedHistory) FetchAfter(_ context.Context, _ RoomID, _ string, afterSeq int64, limit int) ([]Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.afterCalls++
	if h.afterErr != nil {
		return nil, h.afterErr
	}
	var out []Message
	for _, m := range h.log {
		if m.Seq > afterSeq && len(out) < limit {
			out = append(out, m)
		}
	}
	if h.afterCalls == 1 {
		h.log = append(h.log, h.late...)
	}
	return out, nil
}

func (h *rangedHistory) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.afterCalls
}
