package gateway

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueue_RejectsOverFrameLimit(t *testing.T) {
	s := newSocket("s1", nil, 2, 1<<20)
	assert.True(t, s.enqueue([]byte("a")))
	assert.True(t, s.enqueue([]byte("b")))
	assert.False(t, s.enqueue([]byte("c")), "third frame exceeds the queue capacity")
}

func TestEnqueue_RejectsOverByteBudget(t *testing.T) {
	s := newSocket("s1", nil, 100, 10)
	assert.True(t, s.enqueue([]byte("12345")))
	assert.False(t, s.enqueue([]byte("123456789")), "byte budget exhausted")
}

func TestDrainQueued_ReturnsPendingInOrder(t *testing.T) {
	s := newSocket("s1", nil, 10, 1<<20)
	s.enqueue([]byte("first"))
	s.enqueue([]byte("second"))

	frames := s.drainQueued(0)
	assert.Equal(t, [][]byte{[]byte("first"), []byte("second")}, frames)
	assert.Empty(t, s.drainQueued(0))
}

func TestDrainQueued_WaitsForFirstFrame(t *testing.T) {
	s := newSocket("s1", nil, 10, 1<<20)
	go func() {
		time.Sleep(20 * time.Millisecond)
		s.enqueue([]byte("late"))
	}()
	frames := s.drainQueued(500 * time.Millisecond)
	assert.Equal(t, [][]byte{[]byte("late")}, frames)
}

func TestAttachConn_OnlyOnce(t *testing.T) {
	s := newSocket("s1", nil, 10, 1<<20)
	require.Nil(t, s.websocketConn())

	c := &websocket.Conn{}
	assert.True(t, s.attachConn(c))
	assert.False(t, s.attachConn(&websocket.Conn{}), "second attach must lose")
	assert.Same(t, c, s.websocketConn())
}
