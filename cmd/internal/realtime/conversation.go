package realtime

import (
	"log/slog"
	"sync"

	v1 "arcfeed/shared/contracts/realtime/v1"
)

// Conversation is the in-memory member set and broadcast fan-out of one room.
//
// Join/Leave are safe under concurrent Broadcast. Broadcast never blocks: a
// member whose queue is full is evicted, so it observes a closed connection
// instead of a silent gap in the sequence.
type Conversation struct {
	log  *slog.Logger
	ID   string
	Kind string

	mu      sync.RWMutex
	members map[string]*Client

	onEvict func(*Client)
}

// NewConversation constructs a conversation.
func NewConversation(log *slog.Logger, id, kind string) *Conversation {
	return &Conversation{
		log:     log,
		ID:      id,
		Kind:    kind,
		members: make(map[string]*Client),
	}
}

// Join adds a client to membership.
func (c *Conversation) Join(client *Client) {
	if c == nil || client == nil || client.SessionID == "" {
		return
	}

	c.mu.Lock()
	c.members[client.SessionID] = client
	c.mu.Unlock()

	c.log.Info("conversation.member.join", "conversation_id", c.ID, "session_id", client.SessionID, "user_id", client.UserID)
}

// Leave removes a client from membership. The client itself stays open; its
// session decides when to shut down.
func (c *Conversation) Leave(sessionID string) {
	if c == nil || sessionID == "" {
		return
	}

	c.mu.Lock()
	_, ok := c.members[sessionID]
	delete(c.members, sessionID)
	c.mu.Unlock()

	if ok {
		c.log.Info("conversation.member.leave", "conversation_id", c.ID, "session_id", sessionID)
	}
}

// Len returns the current member count.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

// Broadcast fans env out to all members and returns how many received it.
func (c *Conversation) Broadcast(env v1.Envelope) int {
	if c == nil {
		return 0
	}

	var evicted []*Client
	delivered := 0

	c.mu.RLock()
	for _, m := range c.members {
		if m == nil {
			continue
		}

		select {
		case <-m.Done():
			continue
		default:
		}

		select {
		case m.Send <- env:
			delivered++
		default:
			evicted = append(evicted, m)
		}
	}
	c.mu.RUnlock()

	for _, m := range evicted {
		c.Leave(m.SessionID)
		m.Evict()
		c.log.Warn("conversation.member.evict", "conversation_id", c.ID, "session_id", m.SessionID, "queue", cap(m.Send))
		if c.onEvict != nil {
			c.onEvict(m)
		}
	}
	return delivered
}
