package stream

import (
	"context"
	"fmt"
	"time"
)

// boundary remembers the newest message delivered before the live feed so the
// head of the feed can be reconciled against it exactly once.
type boundary struct {
	id     string
	seq    int64
	sentAt time.Time
}

func boundaryAt(m Message) *boundary {
	return &boundary{id: m.ID, seq: m.Seq, sentAt: m.SentAt}
}

func newBoundary(window HistoryWindow) *boundary {
	last, ok := window.Last()
	if !ok {
		return nil
	}
	return boundaryAt(last)
}

// covers reports whether m was already delivered before the live feed: same
// id, or it precedes the boundary.
func (b *boundary) covers(m Message) bool {
	if m.ID != "" && m.ID == b.id {
		return true
	}
	if m.Seq > 0 && b.seq > 0 {
		return m.Seq <= b.seq
	}
	if m.SentAt.IsZero() || b.sentAt.IsZero() {
		return false
	}
	return m.SentAt.Before(b.sentAt)
}

// gapAt returns the first missing seq when m does not directly follow the
// boundary, or 0.
func (b *boundary) gapAt(m Message) int64 {
	if b.seq <= 0 || m.Seq <= 0 || m.Seq <= b.seq+1 {
		return 0
	}
	return b.seq + 1
}

// gapFiller returns the messages with afterSeq < Seq < beforeSeq, oldest-first.
type gapFiller func(ctx context.Context, afterSeq, beforeSeq int64) ([]Message, error)

// mergeSequencer yields the (optional) history replay, then the messages
// caught up after the window, then the live feed. Live messages already
// delivered are dropped, and a seq gap at the head of the feed is backfilled
// through fill or ends the feed with ErrSequenceGap.
type mergeSequencer struct {
	replay []Message
	queue  []Message
	feed   Feed
	edge   *boundary
	fill   gapFiller
	onDrop func(Message)
}

func newMergeSequencer(window HistoryWindow, feed Feed, replay bool, onDrop func(Message)) *mergeSequencer {
	m := &mergeSequencer{
		feed:   feed,
		edge:   newBoundary(window),
		onDrop: onDrop,
	}
	if replay {
		m.replay = window
	}
	return m
}

// catchUp queues messages posted after the window but before the feed joined.
// They are delivered ahead of the feed and move the boundary to their tail.
func (m *mergeSequencer) catchUp(msgs []Message) {
	if len(msgs) == 0 {
		return
	}
	m.queue = append(m.queue, msgs...)
	m.edge = boundaryAt(msgs[len(msgs)-1])
}

func (m *mergeSequencer) next(ctx context.Context) (Message, error) {
	if len(m.replay) > 0 {
		msg := m.replay[0]
		m.replay = m.replay[1:]
		return msg, nil
	}
	if len(m.queue) > 0 {
		msg := m.queue[0]
		m.queue = m.queue[1:]
		return msg, nil
	}

	for {
		msg, err := m.feed.Next(ctx)
		if err != nil {
			return Message{}, err
		}
		if m.edge == nil {
			return msg, nil
		}
		if m.edge.covers(msg) {
			if m.onDrop != nil {
				m.onDrop(msg)
			}
			continue
		}

		// First genuinely new message: the boundary is settled for good.
		edge := m.edge
		m.edge = nil
		missing := edge.gapAt(msg)
		if missing == 0 {
			return msg, nil
		}
		if m.fill == nil {
			return Message{}, fmt.Errorf("%w: want seq %d, feed resumed at %d", ErrSequenceGap, missing, msg.Seq)
		}
		gap, err := m.fill(ctx, edge.seq, msg.Seq)
		if err != nil {
			return Message{}, fmt.Errorf("%w: backfill after seq %d: %w", ErrSequenceGap, edge.seq, err)
		}
		if len(gap) == 0 {
			return msg, nil
		}
		m.queue = append(append(m.queue, gap[1:]...), msg)
		return gap[0], nil
	}
}
