package realtime

import (
	"context"
	"log/slog"
	"sync"

	v1 "arcfeed/shared/contracts/realtime/v1"
)

// HubObserver receives fan-out events, typically for metrics.
type HubObserver interface {
	Broadcast(conversationID string, delivered int)
	Evicted(conversationID string)
}

// Hub owns in-memory conversations and provides stable conversation handles.
// Persistence lives behind MessageStore.
type Hub struct {
	log *slog.Logger
	obs HubObserver

	mu            sync.RWMutex
	conversations map[string]*Conversation
	appendLocks   map[string]*sync.Mutex
}

// NewHub constructs a Hub instance. obs may be nil.
func NewHub(log *slog.Logger, obs HubObserver) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:           log,
		obs:           obs,
		conversations: make(map[string]*Conversation),
		appendLocks:   make(map[string]*sync.Mutex),
	}
}

// GetOrCreateConversation returns a stable in-memory conversation handle.
func (h *Hub) GetOrCreateConversation(conversationID string) *Conversation {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.conversations[conversationID]; ok {
		return c
	}

	c := NewConversation(h.log, conversationID, "room")
	if h.obs != nil {
		obs := h.obs
		c.onEvict = func(*Client) { obs.Evicted(conversationID) }
	}
	h.conversations[conversationID] = c
	return c
}

// Publish broadcasts env to the members of conversationID, if any are
// connected. It returns the number of members that received it.
func (h *Hub) Publish(conversationID string, env v1.Envelope) int {
	h.mu.RLock()
	c := h.conversations[conversationID]
	h.mu.RUnlock()

	n := 0
	if c != nil {
		n = c.Broadcast(env)
	}
	if h.obs != nil {
		h.obs.Broadcast(conversationID, n)
	}
	return n
}

// PublishMessage broadcasts a stored message as message_new.
func (h *Hub) PublishMessage(m StoredMessage) (int, error) {
	env, err := newEnvelope(v1.TypeMessageNew, m.Payload(), m.ServerTS)
	if err != nil {
		return 0, err
	}
	env.ConvID = m.ConversationID
	return h.Publish(m.ConversationID, env), nil
}

// AppendAndPublish appends in to store and broadcasts the stored message. A
// per-conversation lock spans both steps, so members observe message_new in
// seq order. A duplicate append is not broadcast again. A broadcast failure
// is logged; the message stays stored and members read it from history.
func (h *Hub) AppendAndPublish(ctx context.Context, store MessageStore, in AppendMessageInput) (AppendMessageResult, int, error) {
	mu := h.appendLock(in.ConversationID)
	mu.Lock()
	defer mu.Unlock()

	res, err := store.AppendMessage(ctx, in)
	if err != nil || res.Duplicated {
		return res, 0, err
	}
	n, err := h.PublishMessage(res.Stored)
	if err != nil {
		h.log.Error("hub.publish.fail", "conversation_id", in.ConversationID, "seq", res.Stored.Seq, "err", err)
	}
	return res, n, nil
}

func (h *Hub) appendLock(conversationID string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	mu, ok := h.appendLocks[conversationID]
	if !ok {
		mu = &sync.Mutex{}
		h.appendLocks[conversationID] = mu
	}
	return mu
}
