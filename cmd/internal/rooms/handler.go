package rooms

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"arcfeed/cmd/internal/auth"
	"arcfeed/cmd/internal/realtime"
	roomsv1 "arcfeed/shared/contracts/rooms/v1"

	"github.com/google/uuid"
)

const (
	maxJSONBodyBytes        = 16 << 10
	defaultMaxMediaBytes    = 8 << 20
	defaultListLimit        = 50
	defaultOperationTimeout = 5 * time.Second
)

// RouteGetMedia serves stored uploads.
const RouteGetMedia = "GET /v1/media/{id}"

// Handler serves the rooms REST API.
type Handler struct {
	log     *slog.Logger
	dir     Directory
	store   realtime.MessageStore
	hub     *realtime.Hub
	authn   auth.Authenticator
	media   *MediaStore
	timeout time.Duration
	now     func() time.Time
}

// HandlerOption configures optional Handler behaviour.
type HandlerOption func(*Handler)

// WithOperationTimeout bounds each store or directory call.
func WithOperationTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs a Handler. media may be nil, in which case uploads
// are stored with the default size cap.
func NewHandler(log *slog.Logger, dir Directory, store realtime.MessageStore, hub *realtime.Hub, authn auth.Authenticator, media *MediaStore, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if dir == nil || store == nil || authn == nil {
		return nil, errors.New("rooms: directory, store and authenticator are required")
	}
	if media == nil {
		media = NewMediaStore(defaultMaxMediaBytes)
	}
	h := &Handler{
		log:     log,
		dir:     dir,
		store:   store,
		hub:     hub,
		authn:   authn,
		media:   media,
		timeout: defaultOperationTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register wires room routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc(roomsv1.RouteResolve, h.handleResolve)
	mux.HandleFunc(roomsv1.RouteListMessages, h.handleListMessages)
	mux.HandleFunc(roomsv1.RoutePostMessage, h.handlePostMessage)
	mux.HandleFunc(roomsv1.RouteUploadMedia, h.handleUploadMedia)
	mux.HandleFunc(RouteGetMedia, h.handleGetMedia)
}

// ---- handlers ----

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAuth(w, r); !ok {
		return
	}
	ref := strings.TrimSpace(r.URL.Query().Get("ref"))
	if ref == "" {
		writeError(w, http.StatusBadRequest, roomsv1.CodeInvalid, "missing ref")
		return
	}

	ctx, cancel := h.opContext(r.Context())
	defer cancel()

	room, err := h.dir.Resolve(ctx, ref)
	switch {
	case errors.Is(err, ErrRoomNotFound):
		writeError(w, http.StatusNotFound, roomsv1.CodeNotFound, "room not found")
		return
	case err != nil:
		h.log.Error("rooms.resolve.fail", "ref", ref, "err", err)
		writeError(w, http.StatusInternalServerError, roomsv1.CodeServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, roomsv1.ResolveResponse{RoomID: room.ID, Ref: room.Ref})
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	roomID, ok := h.requireMember(w, r, p)
	if !ok {
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, roomsv1.CodeInvalid, "limit must be a positive integer")
			return
		}
		limit = n
	}

	// Without after_seq the newest page is returned; with it, the page
	// starting right after that seq.
	in := realtime.FetchHistoryInput{ConversationID: roomID, Limit: limit, Latest: true}
	if raw := r.URL.Query().Get("after_seq"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, roomsv1.CodeInvalid, "after_seq must be a non-negative integer")
			return
		}
		in.AfterSeq = &n
		in.Latest = false
	}

	ctx, cancel := h.opContext(r.Context())
	defer cancel()

	res, err := h.store.FetchHistory(ctx, in)
	if err != nil {
		h.log.Error("rooms.history.fail", "room_id", roomID, "err", err)
		writeError(w, http.StatusInternalServerError, roomsv1.CodeServerError, "server error")
		return
	}

	out := roomsv1.ListMessagesResponse{
		RoomID:   roomID,
		Messages: make([]roomsv1.Message, 0, len(res.Messages)),
		HasMore:  res.HasMore,
	}
	for _, m := range res.Messages {
		out.Messages = append(out.Messages, m.Payload())
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	roomID, ok := h.requireMember(w, r, p)
	if !ok {
		return
	}

	var req roomsv1.PostMessageRequest
	if err := decodeJSON(w, r, maxJSONBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, roomsv1.CodeInvalid, "invalid json body")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, roomsv1.CodeInvalid, "text is required")
		return
	}
	if utf8.RuneCountInString(text) > realtime.MaxMessageChars {
		writeError(w, http.StatusBadRequest, roomsv1.CodeTooLarge, "text too long")
		return
	}
	clientMsgID := strings.TrimSpace(req.ClientMsgID)
	if clientMsgID == "" {
		clientMsgID = uuid.NewString()
	}

	res, ok := h.appendAndPublish(r.Context(), w, realtime.AppendMessageInput{
		ConversationID: roomID,
		ClientMsgID:    clientMsgID,
		SenderID:       p.UserID,
		SenderName:     p.DisplayName,
		Text:           text,
		Now:            h.now().UTC(),
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, roomsv1.PostMessageResponse{
		Message:    res.Stored.Payload(),
		Duplicated: res.Duplicated,
	})
}

func (h *Handler) handleUploadMedia(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	roomID, ok := h.requireMember(w, r, p)
	if !ok {
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, _, err := mime.ParseMediaType(contentType); err != nil {
		writeError(w, http.StatusBadRequest, roomsv1.CodeInvalid, "invalid content type")
		return
	}

	var body io.Reader = r.Body
	if limit := h.media.MaxBytes(); limit > 0 {
		body = http.MaxBytesReader(w, r.Body, limit)
	}
	data, err := io.ReadAll(body)
	_ = r.Body.Close()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, roomsv1.CodeTooLarge, "media too large")
			return
		}
		writeError(w, http.StatusBadRequest, roomsv1.CodeInvalid, "unreadable body")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, roomsv1.CodeInvalid, "empty body")
		return
	}

	now := h.now().UTC()
	obj, err := h.media.Put(r.Context(), contentType, data, now)
	switch {
	case errors.Is(err, ErrMediaTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, roomsv1.CodeTooLarge, "media too large")
		return
	case err != nil:
		h.log.Error("rooms.media.store.fail", "room_id", roomID, "err", err)
		writeError(w, http.StatusInternalServerError, roomsv1.CodeServerError, "server error")
		return
	}

	// One message per upload; re-uploading identical bytes still posts.
	res, ok := h.appendAndPublish(r.Context(), w, realtime.AppendMessageInput{
		ConversationID: roomID,
		ClientMsgID:    uuid.NewString(),
		SenderID:       p.UserID,
		SenderName:     p.DisplayName,
		MediaID:        obj.ID,
		Now:            now,
	})
	if !ok {
		return
	}

	h.log.Info("rooms.media.upload", "room_id", roomID, "media_id", obj.ID, "size", obj.Size)
	writeJSON(w, http.StatusOK, roomsv1.MediaResponse{
		MediaID:     obj.ID,
		ContentType: obj.ContentType,
		Size:        obj.Size,
		Message:     res.Stored.Payload(),
		StoredAt:    obj.StoredAt,
	})
}

func (h *Handler) handleGetMedia(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAuth(w, r); !ok {
		return
	}
	obj, err := h.media.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, roomsv1.CodeNotFound, "media not found")
		return
	}
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Data)
}

// ---- helpers ----

func (h *Handler) opContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, h.timeout)
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, err := auth.FromRequest(r.Context(), h.authn, r)
	if err != nil {
		if !errors.Is(err, auth.ErrUnauthenticated) {
			h.log.Error("rooms.auth.fail", "err", err)
		}
		writeError(w, http.StatusUnauthorized, roomsv1.CodeUnauthorized, "unauthorized")
		return auth.Principal{}, false
	}
	return p, true
}

// requireMember resolves the {id} path value and checks that p may read and
// write the room. Unknown rooms and non-members both get 404 so room ids are
// not enumerable.
func (h *Handler) requireMember(w http.ResponseWriter, r *http.Request, p auth.Principal) (string, bool) {
	roomID := strings.TrimSpace(r.PathValue("id"))
	if roomID == "" {
		writeError(w, http.StatusBadRequest, roomsv1.CodeInvalid, "missing room id")
		return "", false
	}

	ctx, cancel := h.opContext(r.Context())
	defer cancel()

	ok, err := h.dir.IsMember(ctx, p.UserID, roomID)
	if err != nil {
		h.log.Error("rooms.membership.fail", "room_id", roomID, "user_id", p.UserID, "err", err)
		writeError(w, http.StatusInternalServerError, roomsv1.CodeServerError, "server error")
		return "", false
	}
	if !ok {
		writeError(w, http.StatusNotFound, roomsv1.CodeNotFound, "room not found")
		return "", false
	}
	return roomID, true
}

func (h *Handler) appendAndPublish(parent context.Context, w http.ResponseWriter, in realtime.AppendMessageInput) (realtime.AppendMessageResult, bool) {
	ctx, cancel := h.opContext(parent)
	defer cancel()

	var (
		res       realtime.AppendMessageResult
		delivered int
		err       error
	)
	if h.hub != nil {
		res, delivered, err = h.hub.AppendAndPublish(ctx, h.store, in)
	} else {
		res, err = h.store.AppendMessage(ctx, in)
	}
	switch {
	case errors.Is(err, realtime.ErrInvalidMessage):
		writeError(w, http.StatusBadRequest, roomsv1.CodeInvalid, "invalid message")
		return res, false
	case err != nil:
		h.log.Error("rooms.append.fail", "room_id", in.ConversationID, "err", err)
		writeError(w, http.StatusInternalServerError, roomsv1.CodeServerError, "server error")
		return res, false
	case !res.Duplicated:
		h.log.Debug("rooms.publish", "room_id", in.ConversationID, "seq", res.Stored.Seq, "delivered", delivered)
	}
	return res, true
}
