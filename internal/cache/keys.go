package cache

import "fmt"

// CredentialKey builds the cache key for a verified identity, keyed by
// the credential's fingerprint so the raw token never lands in Redis.
func CredentialKey(fingerprint string) string {
	return fmt.Sprintf("cred:%s", fingerprint)
}

// CredentialPattern matches every cached credential entry, used by the
// admin cache-flush operation.
func CredentialPattern() string {
	return "cred:*"
}
