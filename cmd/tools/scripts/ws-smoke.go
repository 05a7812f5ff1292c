// Package main provides a CI-friendly smoke test for a running Arc room
// server, driven through the streaming engine.
//
// It validates:
//   - room reference resolution
//   - two concurrent sessions (history window + live feed each)
//   - fanout of a REST-posted message to both live sequences
//   - media upload delivered live as an attachment message
//   - history ordering after the fact
//   - clean cancellation of both sessions
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"arcfeed/cmd/internal/client"
	"arcfeed/cmd/internal/stream"

	"github.com/spf13/pflag"
)

type smokeSession struct {
	name string
	sess *stream.Session
	seq  *stream.Sequence
}

func main() {
	var (
		baseURL = pflag.String("url", "http://127.0.0.1:8080", "room server base URL")
		origin  = pflag.String("origin", "", "Origin header for the websocket handshake (default: base URL)")
		ref     = pflag.String("ref", "org/room", "room reference to resolve")
		tokenA  = pflag.String("token-a", "", "bearer token for session A")
		tokenB  = pflag.String("token-b", "", "bearer token for session B (default: token-a)")
		text    = pflag.String("text", "hello arc 👋", "message text to send")
		timeout = pflag.Duration("timeout", 7*time.Second, "per-step timeout")
		verbose = pflag.BoolP("verbose", "v", false, "verbose output")
	)
	pflag.Parse()

	if strings.TrimSpace(*tokenA) == "" {
		fatalf("--token-a is required")
	}
	if *tokenB == "" {
		*tokenB = *tokenA
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	c, err := client.New(*baseURL,
		client.WithLogger(log),
		client.WithOrigin(*origin),
		client.WithHTTPClient(&http.Client{Timeout: *timeout}),
	)
	if err != nil {
		fatalf("client: %v", err)
	}

	root := context.Background()
	room := mustResolve(root, c, *ref, *tokenA, *timeout)

	a := mustStart(root, "A", c, room, *tokenA, log, *timeout)
	defer a.sess.Cancel()
	b := mustStart(root, "B", c, room, *tokenB, log, *timeout)
	defer b.sess.Cancel()

	sent := mustSend(root, c, room, *tokenA, *text, *timeout)
	mustReceive(root, a, sent.ID, *timeout)
	mustReceive(root, b, sent.ID, *timeout)

	media := mustUpload(root, c, room, *tokenB, *timeout)
	got := mustReceive(root, a, media.Message.ID, *timeout)
	if got.MediaID != media.MediaID {
		fatalf("media: live message carries %q, upload returned %q", got.MediaID, media.MediaID)
	}

	mustHistoryTail(root, c, room, *tokenA, []string{sent.ID, media.Message.ID}, *timeout)

	for _, s := range []*smokeSession{a, b} {
		s.sess.Cancel()
		<-s.sess.Done()
		if st := s.sess.State(); st != stream.StateCancelled || s.sess.Err() != nil {
			fatalf("cancel %s: state=%s err=%v", s.name, st, s.sess.Err())
		}
	}

	if *verbose {
		fmt.Printf("media: id=%s size=%d\n", media.MediaID, media.Size)
	}
	fmt.Printf("OK: room=%s text_seq=%d media_seq=%d\n", room, sent.Seq, media.Message.Seq)
}

func mustResolve(parent context.Context, c *client.Client, ref, tok string, stepTimeout time.Duration) stream.RoomID {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	room, err := c.Resolve(ctx, ref, tok)
	if err != nil {
		fatalf("resolve %q: %v", ref, err)
	}
	return room
}

func mustStart(parent context.Context, name string, c *client.Client, room stream.RoomID, tok string, log *slog.Logger, stepTimeout time.Duration) *smokeSession {
	sess := stream.NewSession(room, c, c, stream.WithLogger(log.With("session", name)))

	// Start's ctx outlives the step; the timer only guards the handshake.
	timer := time.AfterFunc(stepTimeout, sess.Cancel)
	window, seq, err := sess.Start(parent, tok, 10)
	timer.Stop()
	if err != nil {
		fatalf("start %s: %v", name, err)
	}
	if len(window) > 10 {
		fatalf("start %s: history window has %d messages, limit 10", name, len(window))
	}
	return &smokeSession{name: name, sess: sess, seq: seq}
}

func mustSend(parent context.Context, c *client.Client, room stream.RoomID, tok, text string, stepTimeout time.Duration) stream.Message {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	msg, err := c.SendText(ctx, room, tok, text)
	if err != nil {
		fatalf("send: %v", err)
	}
	if msg.Seq <= 0 || msg.ID == "" {
		fatalf("send: stored message missing seq/id: %+v", msg)
	}
	return msg
}

func mustUpload(parent context.Context, c *client.Client, room stream.RoomID, tok string, stepTimeout time.Duration) client.MediaResult {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	data := []byte(fmt.Sprintf("smoke %d", time.Now().UnixNano()))
	res, err := c.SendMedia(ctx, room, tok, "text/plain", data)
	if err != nil {
		fatalf("failed to upload media, response: %s (%v)", res.Body, err)
	}
	return res
}

// mustReceive reads the next live message of s and requires it to be id.
// A timeout cancels the session, which ends Next.
func mustReceive(parent context.Context, s *smokeSession, id string, stepTimeout time.Duration) stream.Message {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	msg, ok := s.seq.Next(ctx)
	if !ok {
		fatalf("%s: sequence ended (state=%s err=%v)", s.name, s.sess.State(), s.seq.Err())
	}
	if msg.ID != id {
		fatalf("%s: got message %s (seq %d), want %s", s.name, msg.ID, msg.Seq, id)
	}
	return msg
}

func mustHistoryTail(parent context.Context, c *client.Client, room stream.RoomID, tok string, ids []string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	msgs, err := c.FetchHistory(ctx, room, tok, len(ids))
	if err != nil {
		fatalf("history: %v", err)
	}
	if len(msgs) != len(ids) {
		fatalf("history: got %d messages, want %d", len(msgs), len(ids))
	}
	for i, m := range msgs {
		if m.ID != ids[i] {
			fatalf("history[%d]: got %s, want %s", i, m.ID, ids[i])
		}
		if i > 0 && m.Seq <= msgs[i-1].Seq {
			fatalf("history: seq not increasing at %d (%d after %d)", i, m.Seq, msgs[i-1].Seq)
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
