package app

import (
	"errors"

	"arcfeed/cmd/internal/security/token"
)

// ValidateSecurityConfig enforces the token hashing policy at startup.
//
// Fail fast: under ARC_REQUIRE_TOKEN_HMAC the server must not fall back to
// plain SHA-256 digests.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	if _, err := token.KeyFromEnv(token.MinHMACKeyBytes); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: ARC_REQUIRE_TOKEN_HMAC=true but ARC_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: ARC_REQUIRE_TOKEN_HMAC=true but ARC_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	h, err := token.HasherFromEnv(true)
	if err != nil {
		return err
	}
	if !h.HMAC() {
		return errors.New("security policy: ARC_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}
	return nil
}
