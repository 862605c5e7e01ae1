package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DisabledWithoutURL(t *testing.T) {
	b := New(Config{})
	assert.False(t, b.IsEnabled())
}

func TestDisabledBus_PublishAndSubscribeAreNoops(t *testing.T) {
	b := New(Config{})
	err := b.Publish(context.Background(), "public.news", "x", nil)
	require.NoError(t, err)
	err = b.Subscribe(func(channel, event string, data json.RawMessage) {
		t.Fatal("handler should never fire on a disabled bus")
	})
	require.NoError(t, err)
	b.Close()
}

func TestNew_DisabledOnUnreachableURL(t *testing.T) {
	b := New(Config{URL: "nats://127.0.0.1:1"})
	assert.False(t, b.IsEnabled())
}
