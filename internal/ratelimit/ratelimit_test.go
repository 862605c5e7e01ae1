package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllow_WithinLimit(t *testing.T) {
	l := New(Limits{Public: 5, Monitoring: 5, Admin: 5, Broadcast: 5})
	res := l.Allow(TierPublic, "1.2.3.4")
	assert.True(t, res.Allowed)
	assert.Equal(t, 5, res.Limit)
}

func TestAllow_DifferentTiersIndependent(t *testing.T) {
	l := New(Limits{Public: 1, Monitoring: 1, Admin: 1, Broadcast: 1})
	l.Allow(TierPublic, "same-key")
	res := l.Allow(TierAdmin, "same-key")
	assert.True(t, res.Allowed)
}

func TestAllow_DifferentKeysIndependent(t *testing.T) {
	l := New(Limits{Public: 1, Monitoring: 1, Admin: 1, Broadcast: 1})
	first := l.Allow(TierPublic, "key-a")
	second := l.Allow(TierPublic, "key-b")
	assert.True(t, first.Allowed)
	assert.True(t, second.Allowed)
}

func TestWindow_CheckLimit(t *testing.T) {
	w := NewWindow()
	key := "test-user"
	maxAttempts := 5
	window := time.Minute

	for i := 0; i < maxAttempts; i++ {
		assert.True(t, w.CheckLimit(key, maxAttempts, window), "attempt %d should succeed", i+1)
	}
	assert.False(t, w.CheckLimit(key, maxAttempts, window))
	assert.Equal(t, maxAttempts, w.GetAttempts(key, window))
}

func TestWindow_ResetLimit(t *testing.T) {
	w := NewWindow()
	key := "test-user"
	maxAttempts := 5
	window := time.Minute

	for i := 0; i < maxAttempts; i++ {
		w.CheckLimit(key, maxAttempts, window)
	}
	assert.False(t, w.CheckLimit(key, maxAttempts, window))

	w.ResetLimit(key)
	assert.True(t, w.CheckLimit(key, maxAttempts, window))
}

func TestWindow_Expiry(t *testing.T) {
	w := NewWindow()
	key := "test-user"
	maxAttempts := 3
	window := 100 * time.Millisecond

	for i := 0; i < maxAttempts; i++ {
		assert.True(t, w.CheckLimit(key, maxAttempts, window))
	}
	assert.False(t, w.CheckLimit(key, maxAttempts, window))

	time.Sleep(150 * time.Millisecond)
	assert.True(t, w.CheckLimit(key, maxAttempts, window))
}
