package auth

import (
	"context"
	"fmt"
	"strings"

	"arcfeed/cmd/internal/security/token"
)

// StaticAuthenticator checks tokens against a fixed table. Only token
// digests are kept.
type StaticAuthenticator struct {
	hasher token.Hasher
	byHash map[string]Principal
}

// NewStaticAuthenticator builds an authenticator from clear tokens. The
// tokens are hashed immediately and not retained.
func NewStaticAuthenticator(hasher token.Hasher, tokens map[string]Principal) *StaticAuthenticator {
	a := &StaticAuthenticator{hasher: hasher, byHash: make(map[string]Principal, len(tokens))}
	for tok, p := range tokens {
		a.byHash[hasher.Hash(tok)] = p
	}
	return a
}

// Authenticate implements Authenticator.
func (a *StaticAuthenticator) Authenticate(ctx context.Context, bearer string) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return Principal{}, ErrUnauthenticated
	}
	p, ok := a.byHash[a.hasher.Hash(bearer)]
	if !ok {
		return Principal{}, ErrUnauthenticated
	}
	return p, nil
}

// Len returns the number of configured tokens.
func (a *StaticAuthenticator) Len() int { return len(a.byHash) }

// ParseTokens parses "token=user_id:Display Name" entries as found in
// ARC_TOKENS. The display name defaults to the user id.
func ParseTokens(entries []string) (map[string]Principal, error) {
	out := make(map[string]Principal, len(entries))
	for _, e := range entries {
		tok, rest, ok := strings.Cut(e, "=")
		tok = strings.TrimSpace(tok)
		if !ok || tok == "" {
			return nil, fmt.Errorf("auth: malformed token entry (want token=user_id[:name])")
		}
		userID, name, _ := strings.Cut(rest, ":")
		userID = strings.TrimSpace(userID)
		name = strings.TrimSpace(name)
		if userID == "" {
			return nil, fmt.Errorf("auth: token entry without user id")
		}
		if name == "" {
			name = userID
		}
		if _, dup := out[tok]; dup {
			return nil, fmt.Errorf("auth: duplicate token for user %q", userID)
		}
		out[tok] = Principal{UserID: userID, DisplayName: name}
	}
	return out, nil
}
