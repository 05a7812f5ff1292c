// Package token hashes bearer tokens for server-side lookup.
//
// Tokens are never kept in memory or storage in clear text. Without a key the
// digest is SHA-256(token); with ARC_TOKEN_HMAC_KEY set it is
// HMAC-SHA256(token, key). Deployments that set ARC_REQUIRE_TOKEN_HMAC must
// run with a key of at least MinHMACKeyBytes.
package token
