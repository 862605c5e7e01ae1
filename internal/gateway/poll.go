package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/relayhub/fanout/internal/auth"
	"github.com/relayhub/fanout/internal/connmgr"
	"github.com/relayhub/fanout/internal/logger"
)

// pollRequest is the body of a long-polling exchange. A request without
// a session id is a handshake; subsequent requests carry the sid the
// handshake returned plus any inbound events, and collect whatever
// outbound events queued up since the last poll.
type pollRequest struct {
	SID    string     `json:"sid,omitempty"`
	Events []Envelope `json:"events,omitempty"`
}

type pollResponse struct {
	SID    string            `json:"sid"`
	Events []json.RawMessage `json:"events"`
}

// servePoll implements the long-polling fallback transport. A polling
// session is an ordinary socket without an attached websocket conn; the
// client may later upgrade by opening a websocket with ?sid=<id>, which
// keeps the socket's subscriptions and connection slot intact.
func (g *Gateway) servePoll(w http.ResponseWriter, r *http.Request) {
	if !g.cfg.LongPollEnabled {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "poll transport requires POST", http.StatusMethodNotAllowed)
		return
	}
	g.mu.RLock()
	down := g.shuttingDown
	count := len(g.sockets)
	g.mu.RUnlock()
	if down {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	var req pollRequest
	if r.Body != nil {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed poll body"})
			return
		}
	}
	if req.SID == "" {
		req.SID = r.URL.Query().Get("sid")
	}

	if req.SID == "" {
		if g.cfg.MaxConnections > 0 && count >= g.cfg.MaxConnections {
			http.Error(w, "server at connection capacity", http.StatusServiceUnavailable)
			return
		}
		g.pollHandshake(w, r)
		return
	}
	g.pollExchange(w, req)
}

func (g *Gateway) pollHandshake(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.HandshakeDeadline)
	defer cancel()

	credential := extractCredential(r, g.cfg.AllowQueryCredential)

	id, err := g.verifier.Verify(ctx, credential)
	if err != nil {
		g.metrics.AuthResult("poll", false)
		g.metrics.ConnectionFailed()
		writeJSON(w, http.StatusUnauthorized, pollResponse{Events: []json.RawMessage{
			mustEncode("connection_rejected", map[string]string{"reason": "auth_failed", "message": errMessage(err)}),
		}})
		return
	}
	g.metrics.AuthResult("poll", true)

	socketID := uuid.NewString()
	result, existing := g.connmgr.TryClaim(id.UserID, socketID)
	switch result {
	case connmgr.Duplicate:
		g.metrics.DuplicateConnection()
		writeJSON(w, http.StatusConflict, pollResponse{Events: []json.RawMessage{
			mustEncode("connection_rejected", map[string]interface{}{
				"reason":  "duplicate_connection",
				"message": "user already has an active connection",
				"existingConnection": map[string]interface{}{
					"socket_id":    existing.SocketID,
					"connected_at": existing.ConnectedAt,
				},
			}),
		}})
		return
	case connmgr.Throttled:
		writeJSON(w, http.StatusTooManyRequests, pollResponse{Events: []json.RawMessage{
			mustEncode("connection_rejected", map[string]string{"reason": "throttled", "message": "too many connection attempts"}),
		}})
		return
	}

	sock := newSocket(socketID, nil, g.cfg.MaxQueuePerSocket, g.cfg.MaxQueueBytes)
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
	logger.Gateway().Info().Str("socket_id", socketID).Int64("user_id", id.UserID).Msg("polling session opened")

	writeJSON(w, http.StatusOK, pollResponse{
		SID:    socketID,
		Events: []json.RawMessage{g.connectedEnvelope(socketID, id)},
	})
}

func (g *Gateway) pollExchange(w http.ResponseWriter, req pollRequest) {
	g.mu.RLock()
	sock, ok := g.sockets[req.SID]
	g.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown poll session"})
		return
	}
	if sock.websocketConn() != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "session already upgraded to websocket"})
		return
	}

	sock.touch()
	for _, env := range req.Events {
		g.handleInbound(sock, env)
	}

	// Replies to submitted events are already queued; only an empty
	// exchange parks as a long poll.
	wait := g.cfg.LongPollWait
	if len(req.Events) > 0 {
		wait = 0
	}
	frames := sock.drainQueued(wait)

	events := make([]json.RawMessage, 0, len(frames))
	for _, f := range frames {
		events = append(events, json.RawMessage(f))
	}
	writeJSON(w, http.StatusOK, pollResponse{SID: sock.ID, Events: events})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Gateway().Warn().Err(err).Msg("failed to encode poll response")
	}
}
