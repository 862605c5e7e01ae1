package rpc

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/relayhub/fanout/internal/apperr"
	"github.com/relayhub/fanout/internal/metrics"
)

func (s *Server) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "fanout-gateway",
		"version":     "1.0.0",
		"environment": s.deps.Config.Environment,
		"socket_url":  "/socket.io/",
		"transports":  []string{"websocket", "polling"},
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.deps.StartedAt).Seconds(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"long_polling_enabled":     s.deps.Config.LongPollEnabled,
		"query_credential":         s.deps.Config.AllowQueryCredential,
		"redis_enabled":            s.deps.Config.RedisEnabled,
		"nats_configured":          s.deps.Config.NATSURL != "",
		"active_sockets":           s.deps.Gateway.SocketCount(),
		"max_connections":          s.deps.Config.MaxConnections,
		"max_connections_per_user": s.deps.Config.MaxConnectionsPerUser,
	})
}

func (s *Server) handleMetricsJSON(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Metrics.Snapshot())
}

func (s *Server) handlePrometheus(c *gin.Context) {
	snap := s.deps.Metrics.Snapshot()
	c.String(http.StatusOK, snap.Prometheus())
}

type broadcastRequest struct {
	Channel string      `json:"channel" binding:"required"`
	Event   string      `json:"event" binding:"required"`
	Data    interface{} `json:"data"`
}

func (s *Server) handleBroadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperr.ValidationFailed(err.Error()).ToResponse())
		return
	}
	data, _ := marshalData(req.Data)
	recipients := s.deps.Dispatcher.Broadcast(req.Channel, req.Event, data)
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"recipients": recipients,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

type multiBroadcastRequest struct {
	Broadcasts []broadcastRequest `json:"broadcasts" binding:"required"`
}

func (s *Server) handleBroadcastMulti(c *gin.Context) {
	var req multiBroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperr.ValidationFailed(err.Error()).ToResponse())
		return
	}
	items := make([]broadcastItem, 0, len(req.Broadcasts))
	for _, b := range req.Broadcasts {
		data, _ := marshalData(b.Data)
		items = append(items, broadcastItem{Channel: b.Channel, Event: b.Event, Data: data})
	}
	results := s.deps.Dispatcher.BroadcastMulti(toDispatchItems(items))
	c.JSON(http.StatusOK, gin.H{"success": true, "results": results})
}

type userBroadcastRequest struct {
	Event string      `json:"event" binding:"required"`
	Data  interface{} `json:"data"`
}

func (s *Server) handleBroadcastUser(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, apperr.ValidationFailed("invalid user id").ToResponse())
		return
	}
	var req userBroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperr.ValidationFailed(err.Error()).ToResponse())
		return
	}
	data, _ := marshalData(req.Data)
	delivered := s.deps.Dispatcher.BroadcastToUser(userID, req.Event, data)
	if !delivered {
		c.JSON(http.StatusNotFound, apperr.NotFound("active connection for user").ToResponse())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleChannelList(c *gin.Context) {
	stats := s.deps.Registry.Stats()
	c.JSON(http.StatusOK, gin.H{"channels": stats.TopChannels, "total": stats.TotalChannels})
}

func (s *Server) handleChannelStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Registry.Stats())
}

func (s *Server) handleChannelByName(c *gin.Context) {
	name := c.Param("name")
	meta, ok := s.deps.Registry.ChannelMeta(name)
	if !ok {
		c.JSON(http.StatusNotFound, apperr.NotFound("channel").ToResponse())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":             name,
		"created_at":       meta.CreatedAt,
		"last_activity":    meta.LastActivity,
		"subscriber_count": meta.SubscriberCount,
	})
}

func (s *Server) handleDisconnectUser(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, apperr.ValidationFailed("invalid user id").ToResponse())
		return
	}
	ok := s.deps.ConnMgr.ForceDisconnect(userID, "admin")
	if !ok {
		c.JSON(http.StatusNotFound, apperr.NotFound("active connection for user").ToResponse())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleClearAll(c *gin.Context) {
	closed := s.deps.Gateway.CloseAll("admin_clear")
	s.deps.Verifier.FlushCache(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"success": true, "disconnected": closed})
}

func (s *Server) handleMonitoringReset(c *gin.Context) {
	s.deps.Metrics.Reset()
	s.deps.Metrics.SetThresholds(metrics.Thresholds{
		WarnConnections:        s.deps.Config.WarnConnections,
		CriticalConnections:    s.deps.Config.CriticalConnections,
		WarnResponseTimeMs:     s.deps.Config.WarnResponseTimeMs,
		CriticalResponseTimeMs: s.deps.Config.CriticalResponseTimeMs,
		WarnErrorRate:          s.deps.Config.WarnErrorRate,
		CriticalErrorRate:      s.deps.Config.CriticalErrorRate,
		WarnMemory:             s.deps.Config.WarnMemory,
		CriticalMemory:         s.deps.Config.CriticalMemory,
	})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type thresholdsRequest struct {
	WarnConnections        *int     `json:"warn_connections"`
	CriticalConnections    *int     `json:"critical_connections"`
	WarnResponseTimeMs     *float64 `json:"warn_response_time_ms"`
	CriticalResponseTimeMs *float64 `json:"critical_response_time_ms"`
	WarnErrorRate          *float64 `json:"warn_error_rate"`
	CriticalErrorRate      *float64 `json:"critical_error_rate"`
	WarnMemory             *float64 `json:"warn_memory"`
	CriticalMemory         *float64 `json:"critical_memory"`
}

func (s *Server) handleSetThresholds(c *gin.Context) {
	var req thresholdsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperr.ValidationFailed(err.Error()).ToResponse())
		return
	}
	current := metrics.Thresholds{
		WarnConnections:        s.deps.Config.WarnConnections,
		CriticalConnections:    s.deps.Config.CriticalConnections,
		WarnResponseTimeMs:     s.deps.Config.WarnResponseTimeMs,
		CriticalResponseTimeMs: s.deps.Config.CriticalResponseTimeMs,
		WarnErrorRate:          s.deps.Config.WarnErrorRate,
		CriticalErrorRate:      s.deps.Config.CriticalErrorRate,
		WarnMemory:             s.deps.Config.WarnMemory,
		CriticalMemory:         s.deps.Config.CriticalMemory,
	}
	if req.WarnConnections != nil {
		current.WarnConnections = *req.WarnConnections
	}
	if req.CriticalConnections != nil {
		current.CriticalConnections = *req.CriticalConnections
	}
	if req.WarnResponseTimeMs != nil {
		current.WarnResponseTimeMs = *req.WarnResponseTimeMs
	}
	if req.CriticalResponseTimeMs != nil {
		current.CriticalResponseTimeMs = *req.CriticalResponseTimeMs
	}
	if req.WarnErrorRate != nil {
		current.WarnErrorRate = *req.WarnErrorRate
	}
	if req.CriticalErrorRate != nil {
		current.CriticalErrorRate = *req.CriticalErrorRate
	}
	if req.WarnMemory != nil {
		current.WarnMemory = *req.WarnMemory
	}
	if req.CriticalMemory != nil {
		current.CriticalMemory = *req.CriticalMemory
	}
	s.deps.Metrics.SetThresholds(current)
	c.JSON(http.StatusOK, gin.H{"success": true, "thresholds": current})
}

func (s *Server) handleFlushCredentialCache(c *gin.Context) {
	s.deps.Verifier.FlushCache(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"success": true})
}
