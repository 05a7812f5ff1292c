package realtime

import (
	"context"
	"errors"
	"time"

	v1 "arcfeed/shared/contracts/realtime/v1"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// ErrInvalidMessage is returned by stores for structurally invalid appends.
var ErrInvalidMessage = errors.New("realtime: invalid message")

// StoredMessage is the canonical persisted message representation.
type StoredMessage struct {
	ConversationID string
	ClientMsgID    string
	ServerMsgID    string
	Seq            int64
	SenderID       string
	SenderName     string
	Text           string
	MediaID        string
	ServerTS       time.Time
}

// Payload renders m as a message_new payload.
func (m StoredMessage) Payload() v1.MessageNewPayload {
	return v1.MessageNewPayload{
		ConversationID: m.ConversationID,
		ClientMsgID:    m.ClientMsgID,
		ServerMsgID:    m.ServerMsgID,
		Seq:            m.Seq,
		Sender:         m.SenderID,
		SenderName:     m.SenderName,
		Text:           m.Text,
		MediaID:        m.MediaID,
		ServerTS:       m.ServerTS,
	}
}

// MessageStore persists and queries room messages.
//
// Requirements:
//   - Idempotency per (conversation_id, client_msg_id)
//   - Monotonic seq per conversation (no gaps for duplicates)
//   - History ordered by seq ASC, either after a cursor or the latest window
type MessageStore interface {
	AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error)
	FetchHistory(ctx context.Context, in FetchHistoryInput) (FetchHistoryResult, error)
	Close() error
}

// AppendMessageInput describes a message append request. A message carries
// text, a media reference, or both.
type AppendMessageInput struct {
	ConversationID string
	ClientMsgID    string
	SenderID       string
	SenderName     string
	Text           string
	MediaID        string
	Now            time.Time
}

func (in AppendMessageInput) validate() error {
	if in.ConversationID == "" || in.ClientMsgID == "" || in.SenderID == "" {
		return ErrInvalidMessage
	}
	if in.Text == "" && in.MediaID == "" {
		return ErrInvalidMessage
	}
	return nil
}

// AppendMessageResult is the append operation result.
type AppendMessageResult struct {
	Stored     StoredMessage
	Duplicated bool
}

// FetchHistoryInput describes a history query.
//
// With Latest set the newest Limit messages are returned (still seq ASC) and
// AfterSeq is ignored; HasMore then reports older messages.
type FetchHistoryInput struct {
	ConversationID string
	AfterSeq       *int64
	Limit          int
	Latest         bool
}

func (in FetchHistoryInput) limit() int {
	switch {
	case in.Limit <= 0:
		return defaultHistoryLimit
	case in.Limit > maxHistoryLimit:
		return maxHistoryLimit
	default:
		return in.Limit
	}
}

// FetchHistoryResult contains the retrieved history window.
type FetchHistoryResult struct {
	Messages []StoredMessage
	HasMore  bool
}
