package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relayhub/fanout/internal/identity"
)

// Socket is the transport-level record for one accepted connection. The
// gateway is the sole mutator; the registry and connection manager
// reference it only by SocketID. A socket created by the long-polling
// fallback has no websocket conn until the client upgrades.
type Socket struct {
	ID                   string
	Identity             identity.Identity
	ConnectedAt          time.Time
	AuthTokenFingerprint string
	RemoteAddr           string
	UserAgent            string

	connMu sync.Mutex
	conn   *websocket.Conn

	send chan []byte

	maxQueueBytes int64
	queuedBytes   int64

	lastActivityNano int64
	alive            int32

	closeOnce sync.Once
	closed    chan struct{}
}

func newSocket(id string, conn *websocket.Conn, maxQueue int, maxQueueBytes int) *Socket {
	s := &Socket{
		ID:            id,
		ConnectedAt:   time.Now(),
		conn:          conn,
		send:          make(chan []byte, maxQueue),
		maxQueueBytes: int64(maxQueueBytes),
		closed:        make(chan struct{}),
		alive:         1,
	}
	s.touch()
	return s
}

// attachConn binds a websocket connection to a socket created over the
// polling transport. Returns false if a connection is already attached.
func (s *Socket) attachConn(conn *websocket.Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		return false
	}
	s.conn = conn
	return true
}

// websocketConn returns the attached connection, or nil for a socket
// still on the polling transport.
func (s *Socket) websocketConn() *websocket.Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn
}

func (s *Socket) touch() {
	atomic.StoreInt64(&s.lastActivityNano, time.Now().UnixNano())
}

// LastActivity returns the last time any inbound frame was observed.
func (s *Socket) LastActivity() time.Time {
	return time.Unix(0, atomic.LoadInt64(&s.lastActivityNano))
}

// IsAlive reports the socket's liveness flag.
func (s *Socket) IsAlive() bool {
	return atomic.LoadInt32(&s.alive) == 1
}

func (s *Socket) markDead() {
	atomic.StoreInt32(&s.alive, 0)
}

// enqueue attempts a non-blocking send of a single framed message. It
// returns false if the high-water mark (frame count via channel
// capacity, or byte budget) is exceeded — the caller must then treat
// this as a backpressure disconnect.
func (s *Socket) enqueue(payload []byte) bool {
	if atomic.LoadInt64(&s.queuedBytes)+int64(len(payload)) > s.maxQueueBytes {
		return false
	}
	select {
	case s.send <- payload:
		atomic.AddInt64(&s.queuedBytes, int64(len(payload)))
		return true
	default:
		return false
	}
}

func (s *Socket) drainBytes(n int) {
	atomic.AddInt64(&s.queuedBytes, -int64(n))
}

// drainQueued collects already-queued outbound frames without blocking.
// If none are pending it waits up to maxWait for the first one, then
// returns it together with anything else that arrived meanwhile. Used by
// the polling transport, which has no writePump.
func (s *Socket) drainQueued(maxWait time.Duration) [][]byte {
	var frames [][]byte

	collect := func() {
		for {
			select {
			case msg := <-s.send:
				s.drainBytes(len(msg))
				frames = append(frames, msg)
			default:
				return
			}
		}
	}

	collect()
	if len(frames) > 0 || maxWait <= 0 {
		return frames
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()
	select {
	case msg := <-s.send:
		s.drainBytes(len(msg))
		frames = append(frames, msg)
		collect()
	case <-s.closed:
	case <-timer.C:
	}
	return frames
}
