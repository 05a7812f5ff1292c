package rooms

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"arcfeed/cmd/internal/auth"
	"arcfeed/cmd/internal/realtime"
	"arcfeed/cmd/internal/security/token"
	v1 "arcfeed/shared/contracts/realtime/v1"
	roomsv1 "arcfeed/shared/contracts/rooms/v1"
)

type testEnv struct {
	srv   *httptest.Server
	hub   *realtime.Hub
	store *realtime.InMemoryStore
}

func newTestEnv(t *testing.T, mediaMax int64) testEnv {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := NewMemoryDirectory(
		Room{ID: "r1", Ref: "gitter.im/org/room"},
		Room{ID: "r2", Ref: "staff", Visibility: VisibilityPrivate, Members: []string{"alice"}},
	)
	authn := auth.NewStaticAuthenticator(token.NewHasher(nil), map[string]auth.Principal{
		"tok-alice": {UserID: "alice", DisplayName: "Alice"},
		"tok-bob":   {UserID: "bob", DisplayName: "Bob"},
	})
	store := realtime.NewInMemoryStore()
	hub := realtime.NewHub(log, nil)

	h, err := NewHandler(log, dir, store, hub, authn, NewMediaStore(mediaMax),
		WithClock(func() time.Time { return time.Unix(1700000000, 0) }))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return testEnv{srv: srv, hub: hub, store: store}
}

func doReq(t *testing.T, method, url, tok, contentType string, body []byte) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestHandler_Resolve(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 0)

	resp := doReq(t, http.MethodGet, env.srv.URL+"/v1/rooms/resolve?ref=gitter%3A%2F%2Forg%2Froom", "tok-bob", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	got := decodeBody[roomsv1.ResolveResponse](t, resp)
	if got.RoomID != "r1" || got.Ref != "org/room" {
		t.Fatalf("got=%+v", got)
	}

	resp = doReq(t, http.MethodGet, env.srv.URL+"/v1/rooms/resolve?ref=unknown", "tok-bob", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown status=%d", resp.StatusCode)
	}
	if e := decodeBody[roomsv1.ErrorResponse](t, resp); e.Error.Code != roomsv1.CodeNotFound {
		t.Fatalf("error=%+v", e)
	}

	resp = doReq(t, http.MethodGet, env.srv.URL+"/v1/rooms/resolve?ref=lobby", "", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous status=%d", resp.StatusCode)
	}
}

func TestHandler_PostThenList(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 0)

	listener := realtime.NewClient("bob", "Bob", "sess-1", 4)
	env.hub.GetOrCreateConversation("r1").Join(listener)

	for _, text := range []string{"one", "two", "three"} {
		body, _ := json.Marshal(roomsv1.PostMessageRequest{Text: text})
		resp := doReq(t, http.MethodPost, env.srv.URL+"/v1/rooms/r1/messages", "tok-alice", "application/json", body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("post %q status=%d", text, resp.StatusCode)
		}
		got := decodeBody[roomsv1.PostMessageResponse](t, resp)
		if got.Message.Text != text || got.Message.SenderName != "Alice" || got.Message.ClientMsgID == "" {
			t.Fatalf("posted=%+v", got.Message)
		}
	}

	select {
	case got := <-listener.Send:
		if got.Type != v1.TypeMessageNew || got.ConvID != "r1" {
			t.Fatalf("broadcast=%+v", got)
		}
	default:
		t.Fatalf("expected broadcast to joined member")
	}

	resp := doReq(t, http.MethodGet, env.srv.URL+"/v1/rooms/r1/messages?limit=2", "tok-bob", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status=%d", resp.StatusCode)
	}
	list := decodeBody[roomsv1.ListMessagesResponse](t, resp)
	if len(list.Messages) != 2 || list.Messages[0].Text != "two" || list.Messages[1].Text != "three" || !list.HasMore {
		t.Fatalf("list=%+v", list)
	}

	resp = doReq(t, http.MethodGet, env.srv.URL+"/v1/rooms/r1/messages?limit=zero", "tok-bob", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status=%d", resp.StatusCode)
	}
}

func TestHandler_ListAfterSeq(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 0)

	for _, text := range []string{"one", "two", "three", "four"} {
		body, _ := json.Marshal(roomsv1.PostMessageRequest{Text: text})
		if resp := doReq(t, http.MethodPost, env.srv.URL+"/v1/rooms/r1/messages", "tok-alice", "application/json", body); resp.StatusCode != http.StatusOK {
			t.Fatalf("post %q status=%d", text, resp.StatusCode)
		}
	}

	resp := doReq(t, http.MethodGet, env.srv.URL+"/v1/rooms/r1/messages?after_seq=1&limit=2", "tok-bob", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	page := decodeBody[roomsv1.ListMessagesResponse](t, resp)
	if len(page.Messages) != 2 || page.Messages[0].Seq != 2 || page.Messages[1].Seq != 3 || !page.HasMore {
		t.Fatalf("page=%+v", page)
	}

	resp = doReq(t, http.MethodGet, env.srv.URL+"/v1/rooms/r1/messages?after_seq=4", "tok-bob", "", nil)
	if tail := decodeBody[roomsv1.ListMessagesResponse](t, resp); len(tail.Messages) != 0 || tail.HasMore {
		t.Fatalf("tail=%+v", tail)
	}

	for _, raw := range []string{"-1", "x"} {
		resp = doReq(t, http.MethodGet, env.srv.URL+"/v1/rooms/r1/messages?after_seq="+raw, "tok-bob", "", nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("after_seq=%s status=%d", raw, resp.StatusCode)
		}
	}
}

func TestHandler_PostIdempotent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 0)

	body := []byte(`{"client_msg_id":"c-1","text":"hi"}`)
	first := decodeBody[roomsv1.PostMessageResponse](t,
		doReq(t, http.MethodPost, env.srv.URL+"/v1/rooms/r1/messages", "tok-alice", "application/json", body))
	second := decodeBody[roomsv1.PostMessageResponse](t,
		doReq(t, http.MethodPost, env.srv.URL+"/v1/rooms/r1/messages", "tok-alice", "application/json", body))

	if first.Duplicated || !second.Duplicated || first.Message.Seq != second.Message.Seq {
		t.Fatalf("first=%+v second=%+v", first, second)
	}
}

func TestHandler_PostValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 0)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"blank text", `{"text":"   "}`, http.StatusBadRequest},
		{"unknown field", `{"text":"x","extra":1}`, http.StatusBadRequest},
		{"trailing data", `{"text":"x"}{}`, http.StatusBadRequest},
		{"too long", `{"text":"` + strings.Repeat("a", realtime.MaxMessageChars+1) + `"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		resp := doReq(t, http.MethodPost, env.srv.URL+"/v1/rooms/r1/messages", "tok-alice", "application/json", []byte(tc.body))
		if resp.StatusCode != tc.want {
			t.Errorf("%s: status=%d want %d", tc.name, resp.StatusCode, tc.want)
		}
	}
}

func TestHandler_PrivateRoomHidden(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 0)

	resp := doReq(t, http.MethodGet, env.srv.URL+"/v1/rooms/r2/messages", "tok-bob", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("non-member status=%d", resp.StatusCode)
	}
	resp = doReq(t, http.MethodGet, env.srv.URL+"/v1/rooms/r2/messages", "tok-alice", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("member status=%d", resp.StatusCode)
	}
}

func TestHandler_UploadMedia(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 8)

	resp := doReq(t, http.MethodPost, env.srv.URL+"/v1/rooms/r1/media", "tok-alice", "image/png", []byte("pngdata"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status=%d", resp.StatusCode)
	}
	got := decodeBody[roomsv1.MediaResponse](t, resp)
	if len(got.MediaID) != 64 || got.Size != 7 || got.ContentType != "image/png" {
		t.Fatalf("media=%+v", got)
	}
	if got.Message.MediaID != got.MediaID || got.Message.Text != "" {
		t.Fatalf("message=%+v", got.Message)
	}

	raw := doReq(t, http.MethodGet, env.srv.URL+"/v1/media/"+got.MediaID, "tok-bob", "", nil)
	data, _ := io.ReadAll(raw.Body)
	if raw.StatusCode != http.StatusOK || string(data) != "pngdata" || raw.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("fetch status=%d body=%q", raw.StatusCode, data)
	}

	resp = doReq(t, http.MethodPost, env.srv.URL+"/v1/rooms/r1/media", "tok-alice", "image/png", []byte("way too large"))
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversize status=%d", resp.StatusCode)
	}
	if e := decodeBody[roomsv1.ErrorResponse](t, resp); e.Error.Code != roomsv1.CodeTooLarge {
		t.Fatalf("error=%+v", e)
	}

	resp = doReq(t, http.MethodPost, env.srv.URL+"/v1/rooms/r1/media", "tok-alice", "image/png", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty status=%d", resp.StatusCode)
	}
}
