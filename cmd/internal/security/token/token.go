package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"os"
	"strings"
)

const (
	// HMACEnvKey is the env var holding the token HMAC secret.
	// #nosec G101 -- env var name, not a credential.
	HMACEnvKey = "ARC_TOKEN_HMAC_KEY"

	// MinHMACKeyBytes is the minimum key size enforced under policy.
	MinHMACKeyBytes = 32
)

// Hasher produces stable 64-char hex digests of bearer tokens.
type Hasher struct {
	key []byte
}

// NewHasher returns a hasher using key for HMAC mode, or plain SHA-256 when
// key is empty.
func NewHasher(key []byte) Hasher {
	if len(key) == 0 {
		return Hasher{}
	}
	k := make([]byte, len(key))
	copy(k, key)
	return Hasher{key: k}
}

// HasherFromEnv builds a Hasher from ARC_TOKEN_HMAC_KEY. With requireHMAC
// the key must be present and at least MinHMACKeyBytes long.
func HasherFromEnv(requireHMAC bool) (Hasher, error) {
	if requireHMAC {
		key, err := KeyFromEnv(MinHMACKeyBytes)
		if err != nil {
			return Hasher{}, err
		}
		return NewHasher(key), nil
	}
	return NewHasher([]byte(strings.TrimSpace(os.Getenv(HMACEnvKey)))), nil
}

// HMAC reports whether the hasher runs in HMAC mode.
func (h Hasher) HMAC() bool { return len(h.key) > 0 }

// Hash returns the hex digest of tok.
func (h Hasher) Hash(tok string) string {
	if len(h.key) == 0 {
		return HashSHA256Hex(tok)
	}
	return HashHMACSHA256Hex(tok, h.key)
}

// Match reports whether tok hashes to digest, in constant time.
func (h Hasher) Match(tok, digest string) bool {
	got := h.Hash(tok)
	return subtle.ConstantTimeCompare([]byte(got), []byte(digest)) == 1
}

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// KeyFromEnv returns the trimmed HMAC key, enforcing a minimum byte length.
func KeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return b, nil
}
