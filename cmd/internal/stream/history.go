package stream

import (
	"context"
	"sort"
)

// HistoryFetcher retrieves the most recent messages of a room.
//
// Implementations return at most limit messages, oldest-first. A failure must
// be returned as an error; an empty result means the room has no history.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, room RoomID, credential string, limit int) ([]Message, error)
}

// HistoryFetcherFunc adapts a function to HistoryFetcher.
type HistoryFetcherFunc func(ctx context.Context, room RoomID, credential string, limit int) ([]Message, error)

// FetchHistory calls f.
func (f HistoryFetcherFunc) FetchHistory(ctx context.Context, room RoomID, credential string, limit int) ([]Message, error) {
	return f(ctx, room, credential, limit)
}

// RangeFetcher is implemented by history sources that can page forward from
// a sequence number. Sessions use it to fetch messages posted between the
// history snapshot and the live join, and to backfill a sequence gap at the
// head of the live feed.
//
// FetchAfter returns at most limit messages with Seq > afterSeq, oldest-first.
type RangeFetcher interface {
	FetchAfter(ctx context.Context, room RoomID, credential string, afterSeq int64, limit int) ([]Message, error)
}

// normalizeWindow orders msgs oldest-first, drops repeated ids and keeps the
// newest limit entries. The input slice is not modified.
func normalizeWindow(msgs []Message, limit int) HistoryWindow {
	if len(msgs) == 0 {
		return HistoryWindow{}
	}

	out := make([]Message, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if m.ID != "" {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
		}
		out = append(out, m)
	}

	// Seq only orders the window when every message carries one; a mixed
	// comparison would not be transitive.
	bySeq := true
	for _, m := range out {
		if m.Seq <= 0 {
			bySeq = false
			break
		}
	}
	if bySeq {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	} else {
		sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	}

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return HistoryWindow(out[:len(out):len(out)])
}
