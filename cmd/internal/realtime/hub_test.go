package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	v1 "arcfeed/shared/contracts/realtime/v1"
)

// stallingStore holds the first append back after it was stored, so a
// concurrent append gets the next seq while the first one is still
// unpublished.
type stallingStore struct {
	MessageStore
	stall time.Duration
}

func (s stallingStore) AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error) {
	res, err := s.MessageStore.AppendMessage(ctx, in)
	if err == nil && res.Stored.Seq == 1 {
		time.Sleep(s.stall)
	}
	return res, err
}

func TestHub_AppendAndPublishKeepsSeqOrder(t *testing.T) {
	t.Parallel()

	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	member := NewClient("u9", "Watcher", "s-watch", 16)
	hub.GetOrCreateConversation("r").Join(member)

	store := stallingStore{MessageStore: NewInMemoryStore(), stall: 30 * time.Millisecond}
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := hub.AppendAndPublish(ctx, store, AppendMessageInput{
				ConversationID: "r",
				ClientMsgID:    fmt.Sprintf("c%d", i),
				SenderID:       "u1",
				Text:           "hi",
				Now:            time.Now().UTC(),
			})
			if err != nil {
				t.Errorf("append: %v", err)
			}
		}()
	}
	wg.Wait()

	var got []int64
	for len(got) < 4 {
		select {
		case env := <-member.Send:
			var p v1.MessageNewPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				t.Fatalf("decode payload: %v", err)
			}
			got = append(got, p.Seq)
		default:
			t.Fatalf("broadcasts=%v want 4", got)
		}
	}
	for i, seq := range got {
		if seq != int64(i+1) {
			t.Fatalf("broadcast order=%v want [1 2 3 4]", got)
		}
	}
}

func TestHub_AppendAndPublishSkipsDuplicate(t *testing.T) {
	t.Parallel()

	obs := &recordingHubObserver{}
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), obs)
	member := NewClient("u9", "Watcher", "s-watch", 4)
	hub.GetOrCreateConversation("r").Join(member)
	store := NewInMemoryStore()

	in := AppendMessageInput{ConversationID: "r", ClientMsgID: "same", SenderID: "u1", Text: "hi", Now: time.Now().UTC()}
	if _, n, err := hub.AppendAndPublish(context.Background(), store, in); err != nil || n != 1 {
		t.Fatalf("first append delivered=%d err=%v", n, err)
	}
	res, n, err := hub.AppendAndPublish(context.Background(), store, in)
	if err != nil || !res.Duplicated || n != 0 {
		t.Fatalf("retry duplicated=%v delivered=%d err=%v", res.Duplicated, n, err)
	}
	if len(member.Send) != 1 {
		t.Fatalf("member got %d broadcasts, want 1", len(member.Send))
	}
}
