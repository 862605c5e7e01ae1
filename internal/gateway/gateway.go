// Package gateway owns the client-facing transport layer: it accepts
// websocket and long-polling connections, drives the authentication
// handshake, routes inbound events, writes outbound events, and detects
// liveness. Every socket's lifetime begins and ends here.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/relayhub/fanout/internal/apperr"
	"github.com/relayhub/fanout/internal/auth"
	"github.com/relayhub/fanout/internal/channel"
	"github.com/relayhub/fanout/internal/config"
	"github.com/relayhub/fanout/internal/connmgr"
	"github.com/relayhub/fanout/internal/identity"
	"github.com/relayhub/fanout/internal/logger"
	"github.com/relayhub/fanout/internal/metrics"
	"github.com/relayhub/fanout/internal/registry"
)

const writeWait = 10 * time.Second

// Gateway accepts and services client socket connections.
type Gateway struct {
	cfg      *config.Config
	verifier *auth.Verifier
	registry *registry.Registry
	connmgr  *connmgr.Manager
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	sockets map[string]*Socket

	shuttingDown bool
	quit         chan struct{}
	quitOnce     sync.Once
}

// New constructs a Gateway and wires itself as the connection manager's
// Disconnector, so force-disconnect can reach the socket it names.
func New(cfg *config.Config, verifier *auth.Verifier, reg *registry.Registry, cm *connmgr.Manager, m *metrics.Metrics) *Gateway {
	g := &Gateway{
		cfg:      cfg,
		verifier: verifier,
		registry: reg,
		connmgr:  cm,
		metrics:  m,
		sockets:  make(map[string]*Socket),
		quit:     make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	cm.SetDisconnector(g)
	if cfg.LongPollEnabled {
		go g.reapIdlePollSessions()
	}
	return g
}

// ServeHTTP routes between the websocket upgrade endpoint and the
// long-polling fallback.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/socket.io/poll") {
		g.servePoll(w, r)
		return
	}
	g.serveWebsocket(w, r)
}

// serveWebsocket drives the websocket handshake: credential extraction,
// verification, connection-slot claim, identity attachment, and the
// implicit private-user subscription.
func (g *Gateway) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	g.mu.RLock()
	down := g.shuttingDown
	count := len(g.sockets)
	g.mu.RUnlock()
	if down {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	if g.cfg.MaxConnections > 0 && count >= g.cfg.MaxConnections {
		http.Error(w, "server at connection capacity", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.HandshakeDeadline)
	defer cancel()

	credential := extractCredential(r, g.cfg.AllowQueryCredential)
	pollSessionID := r.URL.Query().Get("sid")

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Gateway().Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	id, err := g.verifier.Verify(ctx, credential)
	if err != nil {
		g.metrics.AuthResult("handshake", false)
		g.metrics.ConnectionFailed()
		g.rejectAndClose(conn, "auth_failed", errMessage(err))
		return
	}
	g.metrics.AuthResult("handshake", true)

	// A client holding a polling session upgrades in place: the socket
	// keeps its id, slot, and subscriptions and only swaps transports.
	if pollSessionID != "" {
		if sock := g.adoptPollSession(pollSessionID, id.UserID, conn); sock != nil {
			sock.enqueue(g.connectedEnvelope(sock.ID, id))
			go g.writePump(sock)
			g.readPump(sock)
			return
		}
	}

	socketID := uuid.NewString()
	result, existing := g.connmgr.TryClaim(id.UserID, socketID)
	switch result {
	case connmgr.Duplicate:
		g.metrics.DuplicateConnection()
		g.rejectDuplicate(conn, existing)
		return
	case connmgr.Throttled:
		g.rejectAndClose(conn, "throttled", "too many connection attempts")
		return
	}

	sock := newSocket(socketID, conn, g.cfg.MaxQueuePerSocket, g.cfg.MaxQueueBytes)
	sock.Identity = id
	sock.AuthTokenFingerprint = auth.Fingerprint(credential)
	sock.RemoteAddr = r.RemoteAddr
	sock.UserAgent = r.UserAgent()

	g.connmgr.Activate(id.UserID, socketID)

	g.mu.Lock()
	g.sockets[socketID] = sock
	g.mu.Unlock()

	g.registry.Subscribe(socketID, id.UserID, privateUserChannel(id.UserID))
	g.metrics.ConnectionOpened(string(id.Role))

	sock.enqueue(g.connectedEnvelope(socketID, id))

	go g.writePump(sock)
	g.readPump(sock)
}

// adoptPollSession attaches conn to an existing polling-transport socket
// owned by userID. Returns nil if the session is unknown, owned by
// someone else, or already upgraded.
func (g *Gateway) adoptPollSession(sessionID string, userID int64, conn *websocket.Conn) *Socket {
	g.mu.RLock()
	sock, ok := g.sockets[sessionID]
	g.mu.RUnlock()
	if !ok || sock.Identity.UserID != userID {
		return nil
	}
	if !sock.attachConn(conn) {
		return nil
	}
	sock.touch()
	logger.Gateway().Info().Str("socket_id", sock.ID).Msg("polling session upgraded to websocket")
	return sock
}

func (g *Gateway) connectedEnvelope(socketID string, id identity.Identity) []byte {
	return mustEncode("connected", map[string]interface{}{
		"socket_id":   socketID,
		"user_id":     id.UserID,
		"role":        id.Role,
		"server_time": time.Now().UTC(),
	})
}

func (g *Gateway) rejectAndClose(conn *websocket.Conn, reason, message string) {
	payload := mustEncode("connection_rejected", map[string]string{"reason": reason, "message": message})
	_ = conn.WriteMessage(websocket.TextMessage, payload)
	_ = conn.Close()
}

func (g *Gateway) rejectDuplicate(conn *websocket.Conn, existing connmgr.SocketSummary) {
	payload := mustEncode("connection_rejected", map[string]interface{}{
		"reason":  "duplicate_connection",
		"message": "user already has an active connection",
		"existingConnection": map[string]interface{}{
			"socket_id":    existing.SocketID,
			"connected_at": existing.ConnectedAt,
		},
	})
	_ = conn.WriteMessage(websocket.TextMessage, payload)
	_ = conn.Close()
}

// writePump drains sock.send, writing any additional already-queued
// frames in the same pass (one write per frame), and issues the
// heartbeat as a websocket ping control frame every ping interval; no
// keepalive event is sent in the JSON envelope framing.
func (g *Gateway) writePump(sock *Socket) {
	conn := sock.websocketConn()
	ticker := time.NewTicker(g.cfg.WSPingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sock.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				sock.drainBytes(len(msg))
				return
			}
			sock.drainBytes(len(msg))

			// Coalesce any further already-queued frames into additional
			// writes without re-entering select, preserving FIFO order.
			n := len(sock.send)
			for i := 0; i < n; i++ {
				extra := <-sock.send
				if err := conn.WriteMessage(websocket.TextMessage, extra); err != nil {
					sock.drainBytes(len(extra))
					return
				}
				sock.drainBytes(len(extra))
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-sock.closed:
			return
		}
	}
}

// readPump reads inbound frames, enforcing the idle timeout and
// dispatching recognized events.
func (g *Gateway) readPump(sock *Socket) {
	defer g.disconnect(sock, "closed")

	conn := sock.websocketConn()
	conn.SetReadDeadline(time.Now().Add(g.cfg.WSPingTimeout))
	conn.SetPongHandler(func(string) error {
		sock.touch()
		conn.SetReadDeadline(time.Now().Add(g.cfg.WSPingTimeout))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sock.touch()
		conn.SetReadDeadline(time.Now().Add(g.cfg.WSPingTimeout))

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.Gateway().Warn().Err(err).Str("socket_id", sock.ID).Msg("malformed inbound frame, ignoring")
			continue
		}
		g.handleInbound(sock, env)
	}
}

func (g *Gateway) handleInbound(sock *Socket, env Envelope) {
	switch env.Event {
	case "subscribe":
		var payload struct {
			Channel string `json:"channel"`
		}
		json.Unmarshal(env.Data, &payload)
		if !channel.Authorize(sock.Identity, payload.Channel) {
			sock.enqueue(mustEncode("subscription_error", map[string]string{"channel": payload.Channel, "reason": "forbidden"}))
			return
		}
		if !g.registry.Subscribe(sock.ID, sock.Identity.UserID, payload.Channel) {
			sock.enqueue(mustEncode("subscription_error", map[string]string{"channel": payload.Channel, "reason": "channel_full"}))
			return
		}
		sock.enqueue(mustEncode("subscribed", map[string]string{"channel": payload.Channel}))

	case "unsubscribe":
		var payload struct {
			Channel string `json:"channel"`
		}
		json.Unmarshal(env.Data, &payload)
		g.registry.Unsubscribe(sock.ID, sock.Identity.UserID, payload.Channel)
		sock.enqueue(mustEncode("unsubscribed", map[string]string{"channel": payload.Channel}))

	case "ping":
		var payload struct {
			Timestamp interface{} `json:"timestamp"`
		}
		json.Unmarshal(env.Data, &payload)
		sock.enqueue(mustEncode("pong", map[string]interface{}{
			"timestamp":   payload.Timestamp,
			"server_time": time.Now().UTC(),
		}))

	case "user_activity", "notification_read":
		// last_activity already updated by the transport layer; no reply.

	default:
		logger.Gateway().Warn().Str("event", env.Event).Str("socket_id", sock.ID).Msg("unrecognized inbound event, ignoring")
	}
}

// disconnect is the single point where a socket's lifetime ends: it
// marks the socket dead, removes every subscription, releases the user's
// connection slot, and updates the counters.
func (g *Gateway) disconnect(sock *Socket, reason string) {
	if !sock.IsAlive() {
		return
	}
	sock.markDead()
	sock.closeOnce.Do(func() { close(sock.closed) })

	g.registry.UnsubscribeAll(sock.ID)
	g.connmgr.Release(sock.Identity.UserID, sock.ID)

	g.mu.Lock()
	delete(g.sockets, sock.ID)
	g.mu.Unlock()

	g.metrics.ConnectionClosed()
	logger.Gateway().Info().Str("socket_id", sock.ID).Str("reason", reason).Msg("socket disconnected")
}

// CloseSocket implements connmgr.Disconnector: it terminates a socket by
// id after notifying it of the reason.
func (g *Gateway) CloseSocket(socketID string, reason string) bool {
	g.mu.RLock()
	sock, ok := g.sockets[socketID]
	g.mu.RUnlock()
	if !ok {
		return false
	}
	sock.enqueue(mustEncode("force_disconnect", map[string]string{"reason": reason}))
	if conn := sock.websocketConn(); conn != nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
	}
	time.AfterFunc(200*time.Millisecond, func() {
		g.disconnect(sock, reason)
	})
	return true
}

// CloseAll force-disconnects every tracked socket. Used by the admin
// clear-all operation; returns how many sockets were told to close.
func (g *Gateway) CloseAll(reason string) int {
	g.mu.RLock()
	sockets := make([]*Socket, 0, len(g.sockets))
	for _, s := range g.sockets {
		sockets = append(sockets, s)
	}
	g.mu.RUnlock()

	for _, s := range sockets {
		s.enqueue(mustEncode("force_disconnect", map[string]string{"reason": reason}))
		g.disconnect(s, reason)
	}
	return len(sockets)
}

// Enqueue delivers a single event to one socket. Returns false if the
// socket is unknown or its queue is over the high-water mark, in which
// case the socket is dropped with reason "backpressure" so one slow
// consumer cannot hold fan-out memory indefinitely.
func (g *Gateway) Enqueue(socketID, event string, data json.RawMessage) bool {
	g.mu.RLock()
	sock, ok := g.sockets[socketID]
	g.mu.RUnlock()
	if !ok {
		return false
	}
	payload, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return false
	}
	if !sock.enqueue(payload) {
		logger.Gateway().Warn().Str("socket_id", socketID).Msg("backpressure high-water mark exceeded, dropping socket")
		go g.disconnect(sock, "backpressure")
		return false
	}
	return true
}

// HasSocket reports whether socketID is currently tracked by this
// gateway instance.
func (g *Gateway) HasSocket(socketID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.sockets[socketID]
	return ok
}

// SocketCount returns the number of currently tracked sockets.
func (g *Gateway) SocketCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sockets)
}

// ShuttingDown reports whether the gateway has begun draining, used by
// the RPC surface to return 503 for new requests during shutdown.
func (g *Gateway) ShuttingDown() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.shuttingDown
}

// reapIdlePollSessions closes polling-transport sockets that have not
// polled within the ping timeout; they have no read deadline to trip the
// way an upgraded socket does.
func (g *Gateway) reapIdlePollSessions() {
	interval := g.cfg.WSPingTimeout
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-g.quit:
			return
		case <-ticker.C:
		}

		cutoff := time.Now().Add(-interval)
		g.mu.RLock()
		var stale []*Socket
		for _, s := range g.sockets {
			if s.websocketConn() == nil && s.LastActivity().Before(cutoff) {
				stale = append(stale, s)
			}
		}
		g.mu.RUnlock()
		for _, s := range stale {
			g.disconnect(s, "idle_timeout")
		}
	}
}

// Shutdown marks the gateway as draining, notifies every connected
// socket with a terminal event, and waits up to the configured grace for
// the sockets to disconnect before force-closing the websocket
// connections still open. If ctx ends first it returns without
// force-closing.
func (g *Gateway) Shutdown(ctx context.Context) {
	g.quitOnce.Do(func() { close(g.quit) })

	g.mu.Lock()
	g.shuttingDown = true
	sockets := make([]*Socket, 0, len(g.sockets))
	for _, s := range g.sockets {
		sockets = append(sockets, s)
	}
	g.mu.Unlock()

	terminal := mustEncode("force_disconnect", map[string]string{"reason": "server_shutdown"})
	for _, s := range sockets {
		s.enqueue(terminal)
	}

	deadline := time.NewTimer(g.cfg.ShutdownGrace)
	defer deadline.Stop()
	for {
		g.mu.RLock()
		remaining := len(g.sockets)
		g.mu.RUnlock()
		if remaining == 0 {
			return
		}
		select {
		case <-deadline.C:
			g.mu.Lock()
			for _, s := range g.sockets {
				if conn := s.websocketConn(); conn != nil {
					conn.Close()
				}
			}
			g.mu.Unlock()
			return
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func privateUserChannel(userID int64) string {
	return "private-user." + strconv.FormatInt(userID, 10)
}

func errMessage(err error) string {
	if appErr, ok := err.(*apperr.AppError); ok {
		return appErr.Message
	}
	return err.Error()
}
