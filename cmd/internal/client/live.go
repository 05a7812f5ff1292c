package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"arcfeed/cmd/internal/stream"
	v1 "arcfeed/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	maxFrameBytes     = 64 << 10
	handshakeMaxReads = 16
	writeTimeout      = 5 * time.Second
)

var errFeedClosed = errors.New("client: live feed closed")

// Open implements stream.LiveFeedSource. It dials the websocket gateway,
// completes the hello and join handshake for room, and returns a LiveFeed.
// Nothing stays open when Open fails.
func (c *Client) Open(ctx context.Context, room stream.RoomID, credential string) (stream.Feed, error) {
	h := http.Header{}
	h.Set("Origin", c.origin)
	if credential != "" {
		h.Set("Authorization", "Bearer "+credential)
	}

	// websocket.Dial rejects clients with a Timeout; ctx bounds the handshake.
	hc := *c.httpClient
	hc.Timeout = 0

	conn, resp, err := websocket.Dial(ctx, c.wsURL(), &websocket.DialOptions{
		HTTPClient:   &hc,
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, fmt.Errorf("client: dial websocket: %w", &APIError{StatusCode: resp.StatusCode, Message: err.Error()})
		}
		return nil, fmt.Errorf("client: dial websocket: %w", err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("client: server negotiated subprotocol %q, want %q", got, v1.Subprotocol)
	}
	conn.SetReadLimit(maxFrameBytes)

	f := &LiveFeed{conn: conn, room: room}
	if err := f.handshake(ctx); err != nil {
		_ = conn.CloseNow()
		return nil, err
	}
	c.log.Debug("client.feed.open", "room_id", string(room), "session_id", f.sessionID)
	return f, nil
}

func (c *Client) wsURL() string {
	switch {
	case strings.HasPrefix(c.baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.baseURL, "https://") + "/ws"
	default:
		return "ws://" + strings.TrimPrefix(c.baseURL, "http://") + "/ws"
	}
}

// LiveFeed is an established live connection for one room. It implements
// stream.Feed.
type LiveFeed struct {
	conn      *websocket.Conn
	room      stream.RoomID
	sessionID string

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// SessionID returns the server-assigned session id.
func (f *LiveFeed) SessionID() string { return f.sessionID }

func (f *LiveFeed) handshake(ctx context.Context) error {
	if err := f.write(ctx, v1.TypeHello, v1.HelloPayload{}); err != nil {
		return fmt.Errorf("client: send hello: %w", err)
	}
	ack, err := f.awaitType(ctx, v1.TypeHelloAck)
	if err != nil {
		return fmt.Errorf("client: await hello_ack: %w", err)
	}
	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		return fmt.Errorf("client: decode hello_ack: %w", err)
	}
	f.sessionID = p.SessionID

	if err := f.write(ctx, v1.TypeConversationJoin, v1.ConversationJoinPayload{ConversationID: string(f.room)}); err != nil {
		return fmt.Errorf("client: send join: %w", err)
	}
	if _, err := f.awaitType(ctx, v1.TypeConversationJoin); err != nil {
		return fmt.Errorf("client: join %s: %w", f.room, err)
	}
	return nil
}

// awaitType reads until an envelope of type typ arrives. An error envelope
// fails the wait.
func (f *LiveFeed) awaitType(ctx context.Context, typ string) (v1.Envelope, error) {
	for i := 0; i < handshakeMaxReads; i++ {
		env, err := f.read(ctx)
		if err != nil {
			return v1.Envelope{}, err
		}
		switch env.Type {
		case typ:
			return env, nil
		case v1.TypeError:
			return v1.Envelope{}, serverError(env)
		}
	}
	return v1.Envelope{}, fmt.Errorf("no %s after %d frames", typ, handshakeMaxReads)
}

// Next implements stream.Feed. It reads frames until a message for the
// joined room arrives. Server error envelopes and connection closes end the
// feed with stream.ErrStreamInterrupted.
func (f *LiveFeed) Next(ctx context.Context) (stream.Message, error) {
	for {
		env, err := f.read(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return stream.Message{}, ctxErr
			}
			if f.isClosed() {
				return stream.Message{}, errFeedClosed
			}
			return stream.Message{}, stream.Interrupted("client.LiveFeed.Next", f.room, err)
		}

		switch env.Type {
		case v1.TypeMessageNew:
			var p v1.MessageNewPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return stream.Message{}, stream.Interrupted("client.LiveFeed.Next", f.room, fmt.Errorf("decode message_new: %w", err))
			}
			if p.ConversationID != string(f.room) {
				continue
			}
			return toMessage(p), nil
		case v1.TypeError:
			return stream.Message{}, stream.Interrupted("client.LiveFeed.Next", f.room, serverError(env))
		default:
			continue
		}
	}
}

// Close implements stream.Feed. It tears the connection down without a
// close handshake so a blocked Next returns promptly.
func (f *LiveFeed) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		_ = f.conn.CloseNow()
	})
	return nil
}

func (f *LiveFeed) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *LiveFeed) read(ctx context.Context) (v1.Envelope, error) {
	_, data, err := f.conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

func (f *LiveFeed) write(parent context.Context, typ string, payload any) error {
	env, err := v1.NewEnvelope(typ, uuid.NewString(), time.Now().UTC(), payload)
	if err != nil {
		return err
	}
	if typ == v1.TypeConversationJoin {
		env.ConvID = string(f.room)
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(parent, writeTimeout)
	defer cancel()
	return f.conn.Write(ctx, websocket.MessageText, b)
}

func serverError(env v1.Envelope) error {
	var p v1.ErrorPayload
	_ = json.Unmarshal(env.Payload, &p)
	if p.Code == "" {
		p.Code = "unknown"
	}
	return fmt.Errorf("server error %s: %s", p.Code, p.Message)
}
