// Package auth validates a presented bearer credential and resolves it
// to a user identity, role, and capability set, with short-lived caching
// keyed by token fingerprint. Two credential kinds are accepted: a
// locally-verified HMAC-signed token and an opaque token forwarded to
// the upstream application server.
package auth

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/relayhub/fanout/internal/apperr"
	"github.com/relayhub/fanout/internal/cache"
	"github.com/relayhub/fanout/internal/config"
	"github.com/relayhub/fanout/internal/identity"
	"github.com/relayhub/fanout/internal/logger"
)

var opaqueTokenPattern = regexp.MustCompile(`^(\d+)\|(.+)$`)

// cacheEntry is a single verified-identity cache row.
type cacheEntry struct {
	identity identity.Identity
	expires  time.Time
}

// Verifier resolves credentials to identities.
type Verifier struct {
	cfg        *config.Config
	httpClient *http.Client
	redis      *cache.Cache

	mu    sync.RWMutex
	local map[string]cacheEntry
}

// New constructs a Verifier. redisCache may be a disabled cache (nil
// client) — in that case the verifier falls back to an in-process cache,
// which still satisfies the "cache verified identities" requirement on a
// single instance.
func New(cfg *config.Config, redisCache *cache.Cache) *Verifier {
	return &Verifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		redis:      redisCache,
		local:      make(map[string]cacheEntry),
	}
}

// Verify resolves credential to an Identity, consulting the cache
// first. ctx should carry the handshake deadline; upstream retries never
// outlive it.
func (v *Verifier) Verify(ctx context.Context, credential string) (identity.Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return identity.Identity{}, apperr.AuthMissing()
	}

	fp := fingerprint(credential)
	if id, ok := v.getCached(ctx, fp); ok {
		return id, nil
	}

	id, ttl, err := v.verifyFresh(ctx, credential)
	if err != nil {
		return identity.Identity{}, err
	}

	cacheTTL := v.cfg.CredentialCacheTTL
	if ttl > 0 && ttl < cacheTTL {
		// The cache must not outlive the credential's own expiry.
		cacheTTL = ttl
	}
	v.setCached(ctx, fp, id, cacheTTL)
	return id, nil
}

// verifyFresh classifies and verifies a credential with no cache
// involved, returning the identity and (for JWTs) the remaining time
// until the token's own expiry.
func (v *Verifier) verifyFresh(ctx context.Context, credential string) (identity.Identity, time.Duration, error) {
	if strings.Count(credential, ".") == 2 {
		if v.cfg.JWTSecret == "" {
			return identity.Identity{}, 0, apperr.New(apperr.CodeAuthMalformed, "no JWT secret configured")
		}
		id, claims, err := verifyJWT(credential, []byte(v.cfg.JWTSecret))
		if err != nil {
			logger.Auth().Debug().Err(err).Msg("jwt verification failed")
			if strings.Contains(err.Error(), "expired") {
				return identity.Identity{}, 0, apperr.AuthExpired()
			}
			return identity.Identity{}, 0, apperr.AuthMalformed()
		}
		var ttl time.Duration
		if exp := claims.expiresAt(); !exp.IsZero() {
			ttl = time.Until(exp)
			if ttl <= 0 {
				return identity.Identity{}, 0, apperr.AuthExpired()
			}
		}
		return id, ttl, nil
	}

	if opaqueTokenPattern.MatchString(credential) {
		id, err := v.verifyOpaque(ctx, credential)
		return id, 0, err
	}

	return identity.Identity{}, 0, apperr.AuthMalformed()
}

func (v *Verifier) getCached(ctx context.Context, fp string) (identity.Identity, bool) {
	if v.redis != nil && v.redis.IsEnabled() {
		var id identity.Identity
		if err := v.redis.Get(ctx, cache.CredentialKey(fp), &id); err == nil {
			return id, true
		}
		return identity.Identity{}, false
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	entry, ok := v.local[fp]
	if !ok || time.Now().After(entry.expires) {
		return identity.Identity{}, false
	}
	return entry.identity, true
}

func (v *Verifier) setCached(ctx context.Context, fp string, id identity.Identity, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if v.redis != nil && v.redis.IsEnabled() {
		if err := v.redis.Set(ctx, cache.CredentialKey(fp), id, ttl); err != nil {
			logger.Auth().Warn().Err(err).Msg("failed to cache verified identity in redis")
		}
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.local[fp] = cacheEntry{identity: id, expires: time.Now().Add(ttl)}
}

// FlushCache drops every cached verified identity (admin operation).
func (v *Verifier) FlushCache(ctx context.Context) {
	if v.redis != nil && v.redis.IsEnabled() {
		if err := v.redis.DeletePattern(ctx, cache.CredentialPattern()); err != nil {
			logger.Auth().Warn().Err(err).Msg("failed to flush redis credential cache")
		}
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.local = make(map[string]cacheEntry)
}

// parseOpaqueUserID extracts the numeric id prefix of an opaque token,
// for diagnostics only — the authoritative identity always comes from
// the upstream verification response.
func parseOpaqueUserID(credential string) (int64, bool) {
	m := opaqueTokenPattern.FindStringSubmatch(credential)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
