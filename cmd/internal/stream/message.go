package stream

import "time"

// RoomID is an opaque, already-resolved room identifier.
type RoomID string

// Message is one chat message as delivered to the consumer.
//
// Seq is the room-scoped sequence number assigned by the server (0 if the
// source does not carry one). Text may be empty for attachment-only messages.
type Message struct {
	ID                string
	Seq               int64
	RoomID            RoomID
	AuthorDisplayName string
	Text              string
	MediaID           string
	SentAt            time.Time
}

// HistoryWindow is the oldest-first snapshot fetched once at session start.
// It must be treated as read-only once returned.
type HistoryWindow []Message

// Last returns the newest message in the window.
func (w HistoryWindow) Last() (Message, bool) {
	if len(w) == 0 {
		return Message{}, false
	}
	return w[len(w)-1], true
}
