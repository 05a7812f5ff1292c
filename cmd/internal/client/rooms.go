package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"arcfeed/cmd/internal/stream"
	realtimev1 "arcfeed/shared/contracts/realtime/v1"
	roomsv1 "arcfeed/shared/contracts/rooms/v1"

	"github.com/google/uuid"
)

// Resolve maps a room reference ("gitter://org/room", "org/room", ...) to a
// room id. An unknown reference is reported as stream.ErrResolution.
func (c *Client) Resolve(ctx context.Context, reference, credential string) (stream.RoomID, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return "", &stream.OpError{Op: "client.Resolve", Kind: stream.ErrResolution}
	}

	body, err := c.doRequest(ctx, http.MethodGet, "/v1/rooms/resolve", credential, nil, url.Values{"ref": {reference}})
	if err != nil {
		if IsNotFound(err) {
			return "", &stream.OpError{Op: "client.Resolve", Kind: stream.ErrResolution, Err: err}
		}
		return "", &stream.OpError{Op: "client.Resolve", Kind: stream.ErrTransport, Err: err}
	}

	var resp roomsv1.ResolveResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &stream.OpError{Op: "client.Resolve", Kind: stream.ErrTransport, Err: fmt.Errorf("decode resolve response: %w", err)}
	}
	if resp.RoomID == "" {
		return "", &stream.OpError{Op: "client.Resolve", Kind: stream.ErrResolution}
	}
	return stream.RoomID(resp.RoomID), nil
}

// FetchHistory implements stream.HistoryFetcher: it returns the newest limit
// messages of room, oldest-first.
func (c *Client) FetchHistory(ctx context.Context, room stream.RoomID, credential string, limit int) ([]stream.Message, error) {
	return c.listMessages(ctx, room, credential, url.Values{"limit": {strconv.Itoa(limit)}})
}

// FetchAfter implements stream.RangeFetcher: it returns up to limit messages
// of room with a seq above afterSeq, oldest-first.
func (c *Client) FetchAfter(ctx context.Context, room stream.RoomID, credential string, afterSeq int64, limit int) ([]stream.Message, error) {
	return c.listMessages(ctx, room, credential, url.Values{
		"after_seq": {strconv.FormatInt(afterSeq, 10)},
		"limit":     {strconv.Itoa(limit)},
	})
}

func (c *Client) listMessages(ctx context.Context, room stream.RoomID, credential string, query url.Values) ([]stream.Message, error) {
	path := "/v1/rooms/" + url.PathEscape(string(room)) + "/messages"
	body, err := c.doRequest(ctx, http.MethodGet, path, credential, nil, query)
	if err != nil {
		return nil, fmt.Errorf("client: fetch history: %w", err)
	}

	var resp roomsv1.ListMessagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("client: decode history: %w", err)
	}
	out := make([]stream.Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		out = append(out, toMessage(m))
	}
	return out, nil
}

// SendText posts a text message to room and returns the stored message.
func (c *Client) SendText(ctx context.Context, room stream.RoomID, credential, text string) (stream.Message, error) {
	path := "/v1/rooms/" + url.PathEscape(string(room)) + "/messages"
	body, err := c.doRequest(ctx, http.MethodPost, path, credential, roomsv1.PostMessageRequest{
		ClientMsgID: uuid.NewString(),
		Text:        text,
	}, nil)
	if err != nil {
		return stream.Message{}, fmt.Errorf("client: send text: %w", err)
	}

	var resp roomsv1.PostMessageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return stream.Message{}, fmt.Errorf("client: decode send response: %w", err)
	}
	return toMessage(resp.Message), nil
}

// MediaResult describes a media upload attempt.
type MediaResult struct {
	StatusCode  int
	MediaID     string
	ContentType string
	Size        int64
	Message     stream.Message
	// Body is the raw response body.
	Body string
}

// SendMedia uploads data to room. A non-200 response yields an *APIError; the
// returned MediaResult still carries the status and body.
func (c *Client) SendMedia(ctx context.Context, room stream.RoomID, credential, contentType string, data []byte) (MediaResult, error) {
	path := "/v1/rooms/" + url.PathEscape(string(room)) + "/media"
	body, status, err := c.doRequestRaw(ctx, http.MethodPost, path, credential, contentType, bytes.NewReader(data))
	res := MediaResult{StatusCode: status, Body: string(body)}
	if err != nil {
		return res, fmt.Errorf("client: upload media: %w", err)
	}
	if status != http.StatusOK {
		return res, fmt.Errorf("client: upload media: %w", newAPIError(status, body))
	}

	var resp roomsv1.MediaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return res, fmt.Errorf("client: decode media response: %w", err)
	}
	res.MediaID = resp.MediaID
	res.ContentType = resp.ContentType
	res.Size = resp.Size
	res.Message = toMessage(resp.Message)
	return res, nil
}

func toMessage(p realtimev1.MessageNewPayload) stream.Message {
	name := p.SenderName
	if name == "" {
		name = p.Sender
	}
	return stream.Message{
		ID:                p.ServerMsgID,
		Seq:               p.Seq,
		RoomID:            stream.RoomID(p.ConversationID),
		AuthorDisplayName: name,
		Text:              p.Text,
		MediaID:           p.MediaID,
		SentAt:            p.ServerTS,
	}
}
