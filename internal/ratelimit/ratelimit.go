// Package ratelimit implements per-tier request limiting for the RPC
// surface: public, monitoring, admin, and authenticated broadcast
// callers each get their own token bucket keyed by caller identity,
// with Limit/Remaining/Reset exposed for response headers. A separate
// sliding-window counter serves callers that need a hard
// no-more-than-N-per-window check instead of a smoothed rate.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Tier names the request classes named in the external interface.
type Tier string

const (
	TierPublic      Tier = "public"
	TierMonitoring  Tier = "monitoring"
	TierAdmin       Tier = "admin"
	TierBroadcast   Tier = "broadcast"
	cleanupInterval      = 5 * time.Minute
	staleAfter           = 10 * time.Minute
)

// Limits holds the per-window request ceiling for each tier and the
// window they share.
type Limits struct {
	Window     time.Duration
	Public     int
	Monitoring int
	Admin      int
	Broadcast  int
}

// DefaultLimits matches the defaults named in the external interface.
func DefaultLimits() Limits {
	return Limits{Window: time.Minute, Public: 100, Monitoring: 60, Admin: 20, Broadcast: 300}
}

type bucket struct {
	limiter    *rate.Limiter
	perWindow  int
	lastSeenAt time.Time
}

// Result is what a caller needs to populate the Limit/Remaining/Reset
// headers.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter is a registry of per-key token buckets, partitioned by tier.
type Limiter struct {
	mu      sync.Mutex
	buckets map[Tier]map[string]*bucket
	limits  Limits
}

// New constructs a Limiter with the given per-tier ceilings and starts
// its background cleanup goroutine.
func New(limits Limits) *Limiter {
	if limits.Window <= 0 {
		limits.Window = time.Minute
	}
	l := &Limiter{
		buckets: map[Tier]map[string]*bucket{
			TierPublic:     {},
			TierMonitoring: {},
			TierAdmin:      {},
			TierBroadcast:  {},
		},
		limits: limits,
	}
	go l.cleanupLoop()
	return l
}

func (l *Limiter) perWindowFor(tier Tier) int {
	switch tier {
	case TierMonitoring:
		return l.limits.Monitoring
	case TierAdmin:
		return l.limits.Admin
	case TierBroadcast:
		return l.limits.Broadcast
	default:
		return l.limits.Public
	}
}

// Allow consults (creating if absent) the bucket for key within tier and
// reports whether the request is allowed plus the header values the
// caller should emit.
func (l *Limiter) Allow(tier Tier, key string) Result {
	perWindow := l.perWindowFor(tier)
	now := time.Now()

	l.mu.Lock()
	tierBuckets, ok := l.buckets[tier]
	if !ok {
		tierBuckets = make(map[string]*bucket)
		l.buckets[tier] = tierBuckets
	}
	b, ok := tierBuckets[key]
	if !ok {
		b = &bucket{
			limiter:   rate.NewLimiter(rate.Limit(float64(perWindow)/l.limits.Window.Seconds()), perWindow),
			perWindow: perWindow,
		}
		tierBuckets[key] = b
	}
	b.lastSeenAt = now
	allowed := b.limiter.Allow()
	tokens := int(b.limiter.TokensAt(now))
	if tokens < 0 {
		tokens = 0
	}
	l.mu.Unlock()

	return Result{
		Allowed:   allowed,
		Limit:     perWindow,
		Remaining: tokens,
		ResetAt:   now.Add(l.limits.Window),
	}
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-staleAfter)
		l.mu.Lock()
		for _, tierBuckets := range l.buckets {
			for key, b := range tierBuckets {
				if b.lastSeenAt.Before(cutoff) {
					delete(tierBuckets, key)
				}
			}
		}
		l.mu.Unlock()
	}
}

// Window is a sliding-window attempt counter, independent of the token
// buckets above. It backs callers that need a simple "no more than N in
// the last window" check rather than a smoothed rate (e.g. admin-key
// guess throttling ahead of the token bucket).
type Window struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

// NewWindow constructs an empty sliding-window counter.
func NewWindow() *Window {
	return &Window{attempts: make(map[string][]time.Time)}
}

// CheckLimit records an attempt for key and reports whether it is within
// maxAttempts over the trailing window.
func (w *Window) CheckLimit(key string, maxAttempts int, window time.Duration) bool {
	now := time.Now()
	cutoff := now.Add(-window)

	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.attempts[key][:0]
	for _, t := range w.attempts[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= maxAttempts {
		w.attempts[key] = kept
		return false
	}
	w.attempts[key] = append(kept, now)
	return true
}

// GetAttempts reports how many attempts for key fall within the trailing
// window, without recording a new one.
func (w *Window) GetAttempts(key string, window time.Duration) int {
	cutoff := time.Now().Add(-window)
	w.mu.Lock()
	defer w.mu.Unlock()
	count := 0
	for _, t := range w.attempts[key] {
		if t.After(cutoff) {
			count++
		}
	}
	return count
}

// ResetLimit clears key's recorded attempts.
func (w *Window) ResetLimit(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.attempts, key)
}
