package connmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager() *Manager {
	return New(Config{
		ThrottleWindow:      50 * time.Millisecond,
		ThrottleMaxAttempts: 3,
		ThrottleCooldown:    50 * time.Millisecond,
		HandshakeDeadline:   2 * time.Second,
	})
}

func TestTryClaim_FirstAttemptClaims(t *testing.T) {
	m := testManager()
	result, _ := m.TryClaim(1, "sock-a")
	assert.Equal(t, Claimed, result)
}

func TestTryClaim_DuplicateWhenActive(t *testing.T) {
	m := testManager()
	m.TryClaim(1, "sock-a")
	m.Activate(1, "sock-a")

	result, summary := m.TryClaim(1, "sock-b")
	assert.Equal(t, Duplicate, result)
	assert.Equal(t, "sock-a", summary.SocketID)
}

func TestReleaseThenReclaim(t *testing.T) {
	m := testManager()
	m.TryClaim(1, "sock-a")
	m.Activate(1, "sock-a")
	m.Release(1, "sock-a")

	result, _ := m.TryClaim(1, "sock-b")
	assert.Equal(t, Claimed, result)
}

func TestRelease_NoopForWrongSocket(t *testing.T) {
	m := testManager()
	m.TryClaim(1, "sock-a")
	m.Activate(1, "sock-a")
	m.Release(1, "sock-wrong")

	_, active := m.Info(1)
	assert.True(t, active, "release from a stale socket must not clear the real active slot")
}

func TestThrottleAfterRepeatedAttempts(t *testing.T) {
	m := testManager()
	m.TryClaim(1, "sock-a")
	m.TryClaim(1, "sock-b")
	result, _ := m.TryClaim(1, "sock-c")
	assert.Equal(t, Throttled, result)
}

func TestThrottleClearsAfterCooldown(t *testing.T) {
	m := testManager()
	m.TryClaim(1, "sock-a")
	m.TryClaim(1, "sock-b")
	m.TryClaim(1, "sock-c")

	time.Sleep(120 * time.Millisecond)
	result, _ := m.TryClaim(1, "sock-d")
	assert.NotEqual(t, Throttled, result)
}

type fakeDisconnector struct {
	closed map[string]string
}

func (f *fakeDisconnector) CloseSocket(socketID, reason string) bool {
	if f.closed == nil {
		f.closed = make(map[string]string)
	}
	f.closed[socketID] = reason
	return true
}

func TestForceDisconnect(t *testing.T) {
	m := testManager()
	d := &fakeDisconnector{}
	m.SetDisconnector(d)

	m.TryClaim(1, "sock-a")
	m.Activate(1, "sock-a")

	ok := m.ForceDisconnect(1, "admin")
	require.True(t, ok)
	assert.Equal(t, "admin", d.closed["sock-a"])

	_, active := m.Info(1)
	assert.False(t, active)
}

func TestSweep_RemovesStaleEmptySlots(t *testing.T) {
	m := testManager()
	m.TryClaim(1, "sock-a")
	m.Activate(1, "sock-a")
	m.Release(1, "sock-a")

	removed := m.Sweep(time.Now().Add(time.Hour))
	assert.Equal(t, 1, removed)
}

func TestSweep_KeepsActiveSlots(t *testing.T) {
	m := testManager()
	m.TryClaim(1, "sock-a")
	m.Activate(1, "sock-a")

	removed := m.Sweep(time.Now().Add(time.Hour))
	assert.Equal(t, 0, removed)
	_, active := m.Info(1)
	assert.True(t, active)
}

func TestAtMostOneActiveSocketPerUser(t *testing.T) {
	m := testManager()
	m.TryClaim(1, "sock-a")
	m.Activate(1, "sock-a")

	for i := 0; i < 5; i++ {
		result, _ := m.TryClaim(1, "sock-other")
		assert.NotEqual(t, Claimed, result)
	}
}
