package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"arcfeed/cmd/internal/auth"
	"arcfeed/cmd/internal/realtime"
	"arcfeed/cmd/internal/rooms"
	"arcfeed/cmd/internal/security/token"
	"arcfeed/cmd/internal/stream"
)

// startRoomServer runs the real gateway and rooms API in-process.
func startRoomServer(t *testing.T) *Client {
	t.Helper()

	log := discardLogger()
	dir := rooms.NewMemoryDirectory(rooms.Room{ID: "r1", Ref: "gitter.im/org/room"})
	authn := auth.NewStaticAuthenticator(token.NewHasher(nil), map[string]auth.Principal{
		"tok-alice": {UserID: "alice", DisplayName: "Alice"},
		"tok-bob":   {UserID: "bob", DisplayName: "Bob"},
	})
	store := realtime.NewInMemoryStore()
	hub := realtime.NewHub(log, nil)

	h, err := rooms.NewHandler(log, dir, store, hub, authn, nil)
	if err != nil {
		t.Fatalf("rooms handler: %v", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/ws", realtime.NewWSGateway(log, hub, store, authn, dir, realtime.GatewayConfig{}))
	h.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, WithLogger(log))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestEndToEnd_HistoryThenLive(t *testing.T) {
	t.Parallel()

	c := startRoomServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	room, err := c.Resolve(ctx, "https://gitter.im/org/room", "tok-alice")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for _, text := range []string{"one", "two", "three"} {
		if _, err := c.SendText(ctx, room, "tok-alice", text); err != nil {
			t.Fatalf("send %q: %v", text, err)
		}
	}

	s := stream.NewSession(room, c, c, stream.WithLogger(discardLogger()))
	history, seq, err := s.Start(ctx, "tok-bob", 2)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(history) != 2 || history[0].Text != "two" || history[1].Text != "three" {
		t.Fatalf("history=%+v", history)
	}

	media, err := c.SendMedia(ctx, room, "tok-alice", "image/png", []byte("png"))
	if err != nil || media.StatusCode != http.StatusOK || media.Size != 3 {
		t.Fatalf("media=%+v err=%v", media, err)
	}
	if _, err := c.SendText(ctx, room, "tok-alice", "four"); err != nil {
		t.Fatalf("send four: %v", err)
	}

	first, ok := seq.Next(ctx)
	if !ok || first.MediaID != media.MediaID || first.AuthorDisplayName != "Alice" {
		t.Fatalf("first=%+v ok=%v err=%v", first, ok, seq.Err())
	}
	second, ok := seq.Next(ctx)
	if !ok || second.Text != "four" || second.Seq != 5 {
		t.Fatalf("second=%+v ok=%v err=%v", second, ok, seq.Err())
	}

	s.Cancel()
	if _, ok := seq.Next(ctx); ok {
		t.Fatalf("expected end after cancel")
	}
	if seq.Err() != nil || s.State() != stream.StateCancelled {
		t.Fatalf("err=%v state=%v", seq.Err(), s.State())
	}
}

// snapshotHook runs after each history snapshot. The embedded Client keeps
// serving FetchAfter.
type snapshotHook struct {
	*Client
	after func()
}

func (h snapshotHook) FetchHistory(ctx context.Context, room stream.RoomID, credential string, limit int) ([]stream.Message, error) {
	msgs, err := h.Client.FetchHistory(ctx, room, credential, limit)
	if err == nil {
		h.after()
	}
	return msgs, err
}

// gatedSource delays the live join until gate is closed.
type gatedSource struct {
	*Client
	gate <-chan struct{}
}

func (g gatedSource) Open(ctx context.Context, room stream.RoomID, credential string) (stream.Feed, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.Client.Open(ctx, room, credential)
}

func TestEndToEnd_PostDuringSetupIsDelivered(t *testing.T) {
	t.Parallel()

	c := startRoomServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	room, err := c.Resolve(ctx, "gitter.im/org/room", "tok-alice")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := c.SendText(ctx, room, "tok-alice", "before"); err != nil {
		t.Fatalf("send before: %v", err)
	}

	// "gap" lands after the history snapshot and before the live join.
	posted := make(chan struct{})
	history := snapshotHook{Client: c, after: func() {
		if _, err := c.SendText(ctx, room, "tok-alice", "gap"); err != nil {
			t.Errorf("send gap: %v", err)
		}
		close(posted)
	}}
	s := stream.NewSession(room, history, gatedSource{Client: c, gate: posted}, stream.WithLogger(discardLogger()))

	window, seq, err := s.Start(ctx, "tok-bob", 10)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Cancel()
	if len(window) != 1 || window[0].Text != "before" {
		t.Fatalf("window=%+v", window)
	}

	if _, err := c.SendText(ctx, room, "tok-alice", "after"); err != nil {
		t.Fatalf("send after: %v", err)
	}

	var got []string
	for len(got) < 2 {
		m, ok := seq.Next(ctx)
		if !ok {
			t.Fatalf("sequence ended after %v: %v", got, seq.Err())
		}
		got = append(got, m.Text)
	}
	if got[0] != "gap" || got[1] != "after" {
		t.Fatalf("delivered=%v want=[gap after]", got)
	}
}

func TestEndToEnd_UnknownRoom(t *testing.T) {
	t.Parallel()

	c := startRoomServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := c.Resolve(ctx, "gitter://org/missing", "tok-alice"); !stream.IsResolution(err) {
		t.Fatalf("err=%v", err)
	}
}
