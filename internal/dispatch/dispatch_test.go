package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayhub/fanout/internal/connmgr"
	"github.com/relayhub/fanout/internal/metrics"
	"github.com/relayhub/fanout/internal/registry"
)

type fakeGateway struct {
	delivered map[string][]string
	reject    map[string]bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{delivered: make(map[string][]string), reject: make(map[string]bool)}
}

func (f *fakeGateway) Enqueue(socketID, event string, data json.RawMessage) bool {
	if f.reject[socketID] {
		return false
	}
	f.delivered[socketID] = append(f.delivered[socketID], event)
	return true
}

func testThresholds() metrics.Thresholds {
	return metrics.Thresholds{WarnConnections: 1000, CriticalConnections: 5000, WarnResponseTimeMs: 500, CriticalResponseTimeMs: 1000, WarnErrorRate: 0.5, CriticalErrorRate: 0.9, WarnMemory: 0.9, CriticalMemory: 0.95}
}

func TestBroadcast_DeliversToAllSubscribers(t *testing.T) {
	reg := registry.New(0)
	reg.Subscribe("s1", 1, "public.news")
	reg.Subscribe("s2", 2, "public.news")

	gw := newFakeGateway()
	cm := connmgr.New(connmgr.Config{ThrottleMaxAttempts: 3})
	d := New(reg, cm, gw, metrics.New(testThresholds()))

	recipients := d.Broadcast("public.news", "article.published", json.RawMessage(`{"title":"hi"}`))
	assert.Equal(t, 2, recipients)
	assert.Contains(t, gw.delivered["s1"], "article.published")
	assert.Contains(t, gw.delivered["s2"], "article.published")
}

func TestBroadcast_UnknownChannelZeroRecipientsSuccess(t *testing.T) {
	reg := registry.New(0)
	gw := newFakeGateway()
	cm := connmgr.New(connmgr.Config{ThrottleMaxAttempts: 3})
	d := New(reg, cm, gw, metrics.New(testThresholds()))

	recipients := d.Broadcast("public.nonexistent", "x", nil)
	assert.Equal(t, 0, recipients)
}

func TestBroadcastToUser(t *testing.T) {
	cm := connmgr.New(connmgr.Config{ThrottleMaxAttempts: 3})
	cm.TryClaim(42, "sock-a")
	cm.Activate(42, "sock-a")

	gw := newFakeGateway()
	reg := registry.New(0)
	d := New(reg, cm, gw, metrics.New(testThresholds()))

	ok := d.BroadcastToUser(42, "notification.sent", json.RawMessage(`{}`))
	require.True(t, ok)
	assert.Contains(t, gw.delivered["sock-a"], "notification.sent")
}

func TestBroadcastToUser_NoActiveSocket(t *testing.T) {
	cm := connmgr.New(connmgr.Config{ThrottleMaxAttempts: 3})
	gw := newFakeGateway()
	reg := registry.New(0)
	d := New(reg, cm, gw, metrics.New(testThresholds()))

	ok := d.BroadcastToUser(99, "x", nil)
	assert.False(t, ok)
}

type fakeRelay struct {
	published []string
}

func (f *fakeRelay) Publish(ctx context.Context, channel, event string, data json.RawMessage) error {
	f.published = append(f.published, channel+":"+event)
	return nil
}

func TestBroadcast_PublishesToRelayWhenWired(t *testing.T) {
	reg := registry.New(0)
	reg.Subscribe("s1", 1, "public.news")

	gw := newFakeGateway()
	cm := connmgr.New(connmgr.Config{ThrottleMaxAttempts: 3})
	d := New(reg, cm, gw, metrics.New(testThresholds()))
	relay := &fakeRelay{}
	d.SetRelay(relay)

	d.Broadcast("public.news", "article.published", nil)
	assert.Equal(t, []string{"public.news:article.published"}, relay.published)
}

func TestDeliverLocal_DoesNotPublishToRelay(t *testing.T) {
	reg := registry.New(0)
	reg.Subscribe("s1", 1, "public.news")

	gw := newFakeGateway()
	cm := connmgr.New(connmgr.Config{ThrottleMaxAttempts: 3})
	d := New(reg, cm, gw, metrics.New(testThresholds()))
	relay := &fakeRelay{}
	d.SetRelay(relay)

	d.DeliverLocal("public.news", "article.published", nil)
	assert.Empty(t, relay.published)
}

func TestBroadcastMulti_PerItemFailureDoesNotAbortBatch(t *testing.T) {
	reg := registry.New(0)
	reg.Subscribe("s1", 1, "public.a")

	gw := newFakeGateway()
	cm := connmgr.New(connmgr.Config{ThrottleMaxAttempts: 3})
	d := New(reg, cm, gw, metrics.New(testThresholds()))

	items := []MultiItem{
		{Channel: "public.a", Event: "e1"},
		{Channel: "public.missing", Event: "e2"},
	}
	results := d.BroadcastMulti(items)
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.Equal(t, 1, results[0].Recipients)
	assert.True(t, results[1].Success)
	assert.Equal(t, 0, results[1].Recipients)
}
