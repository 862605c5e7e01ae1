package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscribeIdempotent(t *testing.T) {
	r := New(0)
	r.Subscribe("s1", 1, "public.news")
	r.Subscribe("s1", 1, "public.news")

	subs := r.Subscribers("public.news")
	assert.Len(t, subs, 1)
	meta, ok := r.ChannelMeta("public.news")
	assert.True(t, ok)
	assert.Equal(t, 1, meta.SubscriberCount)
}

func TestSubscribeUnsubscribeRoundTrip(t *testing.T) {
	r := New(0)
	r.Subscribe("s1", 1, "public.news")
	r.Unsubscribe("s1", 1, "public.news")

	_, ok := r.ChannelMeta("public.news")
	assert.False(t, ok, "channel key must not exist once subscriber set is empty")
	assert.Empty(t, r.Subscribers("public.news"))
}

func TestUnsubscribeAllRemovesFromBothIndexes(t *testing.T) {
	r := New(0)
	r.Subscribe("s1", 1, "public.news")
	r.Subscribe("s1", 1, "private-user.1")
	r.Subscribe("s2", 2, "public.news")

	r.UnsubscribeAll("s1")

	assert.NotContains(t, r.Subscribers("public.news"), "s1")
	assert.Empty(t, r.ChannelsOf(1))
	assert.Contains(t, r.Subscribers("public.news"), "s2")

	_, ok := r.ChannelMeta("private-user.1")
	assert.False(t, ok)
}

func TestUnknownChannelSubscribersEmpty(t *testing.T) {
	r := New(0)
	assert.Empty(t, r.Subscribers("public.nonexistent"))
}

func TestSubscribeRejectedAtCapacity(t *testing.T) {
	r := New(2)
	assert.True(t, r.Subscribe("s1", 1, "public.full"))
	assert.True(t, r.Subscribe("s2", 2, "public.full"))
	assert.False(t, r.Subscribe("s3", 3, "public.full"))
	// Re-subscribing an existing member is still idempotent, not a
	// capacity rejection.
	assert.True(t, r.Subscribe("s1", 1, "public.full"))
	assert.Len(t, r.Subscribers("public.full"), 2)
	assert.Empty(t, r.ChannelsOf(3))
}

func TestStatsByType(t *testing.T) {
	r := New(0)
	r.Subscribe("s1", 1, "public.a")
	r.Subscribe("s2", 2, "admin.console")
	r.Subscribe("s3", 3, "public.b")

	stats := r.Stats()
	assert.Equal(t, 3, stats.TotalChannels)
	assert.Equal(t, 3, stats.TotalSubscriptions)
	assert.Equal(t, 2, stats.ByType["public"])
	assert.Equal(t, 1, stats.ByType["admin"])
}

func TestConcurrentSubscribeUnsubscribe(t *testing.T) {
	r := New(0)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			socketID := "s"
			userID := int64(i % 10)
			r.Subscribe(socketID, userID, "public.stress")
			r.Unsubscribe(socketID, userID, "public.stress")
		}(i)
	}
	wg.Wait()
	// No assertion on final state beyond "does not race" (run with -race);
	// the channel may or may not be present depending on interleaving.
}
