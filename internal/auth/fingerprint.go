package auth

import (
	"crypto/sha256"
	"encoding/hex"
)

// fingerprint derives the cache key for a raw credential; the
// credential itself is never stored.
func fingerprint(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

// Fingerprint exposes the same derivation for callers outside this
// package that record a credential's fingerprint, like the socket
// record kept by the gateway.
func Fingerprint(credential string) string {
	return fingerprint(credential)
}
