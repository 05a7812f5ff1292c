package realtime

import "context"

// MembershipStore defines the authorization boundary for room membership.
type MembershipStore interface {
	// IsMember reports whether userID may read and post in conversationID.
	IsMember(ctx context.Context, userID, conversationID string) (bool, error)
}

// MembershipFunc adapts a function to MembershipStore.
type MembershipFunc func(ctx context.Context, userID, conversationID string) (bool, error)

// IsMember calls f.
func (f MembershipFunc) IsMember(ctx context.Context, userID, conversationID string) (bool, error) {
	return f(ctx, userID, conversationID)
}
