// Package rpc implements the upstream-facing HTTP API: broadcast
// triggers, force-disconnect, health/metrics snapshots, and channel
// introspection. Broadcast routes accept the upstream shared secret or a
// bearer credential with the broadcast capability; admin routes accept
// only the admin secret; read-only routes need no credential.
package rpc

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/relayhub/fanout/internal/apperr"
	"github.com/relayhub/fanout/internal/auth"
	"github.com/relayhub/fanout/internal/config"
	"github.com/relayhub/fanout/internal/connmgr"
	"github.com/relayhub/fanout/internal/dispatch"
	"github.com/relayhub/fanout/internal/metrics"
	"github.com/relayhub/fanout/internal/middleware"
	"github.com/relayhub/fanout/internal/ratelimit"
	"github.com/relayhub/fanout/internal/registry"
)

const broadcastCapability = "websocket:broadcast"

// Gateway is the subset of the socket gateway the RPC surface needs:
// introspection for /api/status, the shutdown flag for 503 responses,
// and bulk close for the admin clear-all operation.
type Gateway interface {
	SocketCount() int
	ShuttingDown() bool
	CloseAll(reason string) int
}

// Deps wires every component the RPC surface fronts.
type Deps struct {
	Config     *config.Config
	Verifier   *auth.Verifier
	Registry   *registry.Registry
	ConnMgr    *connmgr.Manager
	Dispatcher *dispatch.Dispatcher
	Metrics    *metrics.Metrics
	Gateway    Gateway
	StartedAt  time.Time
}

// Server holds the RPC Surface's wired state and serves HTTP.
type Server struct {
	deps       Deps
	limiter    *ratelimit.Limiter
	adminGuard *ratelimit.Window
	engine     *gin.Engine
}

// Failed admin-secret attempts tolerated per client IP per minute before
// the endpoint stops comparing secrets at all.
const adminGuessLimit = 10

// New builds the gin.Engine with the full route set.
func New(deps Deps) *Server {
	limits := ratelimit.DefaultLimits()
	if deps.Config.RateLimitWindow > 0 {
		limits.Window = deps.Config.RateLimitWindow
	}
	if deps.Config.RateLimitMaxRequests > 0 {
		limits.Public = deps.Config.RateLimitMaxRequests
	}
	s := &Server{deps: deps, limiter: ratelimit.New(limits), adminGuard: ratelimit.NewWindow()}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(s.corsMiddleware())
	r.Use(s.metricsMiddleware())

	r.GET("/", s.handleIndex)
	r.GET("/api/health", s.rateLimited(ratelimit.TierPublic), s.handleHealth)
	r.GET("/api/status", s.rateLimited(ratelimit.TierPublic), s.handleStatus)
	r.GET("/api/metrics", s.rateLimited(ratelimit.TierMonitoring), s.handleMetricsJSON)
	r.GET("/api/monitoring/metrics", s.rateLimited(ratelimit.TierMonitoring), s.handleMetricsJSON)
	r.GET("/api/monitoring/prometheus", s.rateLimited(ratelimit.TierMonitoring), s.handlePrometheus)

	broadcast := r.Group("/api/broadcast")
	broadcast.Use(middleware.JSONSizeLimiter(), s.rateLimited(ratelimit.TierBroadcast), s.requireBroadcastAuth())
	{
		broadcast.POST("", s.handleBroadcast)
		broadcast.POST("/multi", s.handleBroadcastMulti)
		broadcast.POST("/user/:id", s.handleBroadcastUser)
	}

	r.GET("/api/channels", s.rateLimited(ratelimit.TierMonitoring), s.handleChannelList)
	r.GET("/api/channels/stats", s.rateLimited(ratelimit.TierMonitoring), s.handleChannelStats)
	r.GET("/api/channels/:name", s.rateLimited(ratelimit.TierMonitoring), s.handleChannelByName)

	admin := r.Group("/api")
	admin.Use(s.rateLimited(ratelimit.TierAdmin), s.requireAdminAuth())
	{
		admin.POST("/connections/disconnect/:user_id", s.handleDisconnectUser)
		admin.POST("/connections/clear-all", s.handleClearAll)
		admin.POST("/monitoring/reset", s.handleMonitoringReset)
		admin.PUT("/monitoring/thresholds", s.handleSetThresholds)
		admin.POST("/auth/cache/flush", s.handleFlushCredentialCache)
	}

	s.engine = r
	return s
}

// Handler exposes the underlying http.Handler for the process' server.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) corsMiddleware() gin.HandlerFunc {
	allowAll := len(s.deps.Config.CORSOrigins) == 1 && s.deps.Config.CORSOrigins[0] == "*"
	allowed := make(map[string]struct{}, len(s.deps.Config.CORSOrigins))
	for _, o := range s.deps.Config.CORSOrigins {
		allowed[o] = struct{}{}
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			if _, ok := allowed[origin]; allowAll || ok {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				c.Header("Access-Control-Allow-Credentials", "true")
				c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-WebSocket-API-Key, X-Socket-Auth-Token")
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.deps.Gateway != nil && s.deps.Gateway.ShuttingDown() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, apperr.Unavailable("fanout-gateway").ToResponse())
			return
		}
		start := time.Now()
		c.Next()
		elapsed := float64(time.Since(start).Microseconds()) / 1000.0
		s.deps.Metrics.RecordHTTP(elapsed, c.Writer.Status() >= 500)
	}
}

// rateLimited enforces the per-tier limit and sets the
// Limit/Remaining/Reset response headers.
func (s *Server) rateLimited(tier ratelimit.Tier) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		res := s.limiter.Allow(tier, key)
		c.Header("Limit", strconv.Itoa(res.Limit))
		c.Header("Remaining", strconv.Itoa(res.Remaining))
		c.Header("Reset", res.ResetAt.UTC().Format(time.RFC3339))
		if !res.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apperr.RateLimited().ToResponse())
			return
		}
		c.Next()
	}
}

// requireBroadcastAuth accepts the upstream shared secret or a bearer
// credential carrying the broadcast capability. The secret is checked
// first: it is the common path for the trusted application server and
// costs no verifier round-trip.
func (s *Server) requireBroadcastAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.sharedSecretOK(c, s.deps.Config.UpstreamAPIKey) {
			c.Next()
			return
		}
		credential := bearerToken(c)
		if credential != "" {
			id, err := s.deps.Verifier.Verify(c.Request.Context(), credential)
			if err == nil && id.HasCapability(broadcastCapability) {
				c.Set("identity", id)
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, apperr.Unauthorized("missing shared secret or broadcast capability").ToResponse())
	}
}

// requireAdminAuth accepts only the admin shared secret. Repeated wrong
// guesses from one address lock that address out for the window instead
// of letting it brute-force the key under the regular rate limit.
func (s *Server) requireAdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if s.adminGuard.GetAttempts(key, time.Minute) >= adminGuessLimit {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apperr.RateLimited().ToResponse())
			return
		}
		if s.sharedSecretOK(c, s.deps.Config.AdminKey) {
			s.adminGuard.ResetLimit(key)
			c.Next()
			return
		}
		s.adminGuard.CheckLimit(key, adminGuessLimit, time.Minute)
		c.AbortWithStatusJSON(http.StatusUnauthorized, apperr.Unauthorized("missing admin secret").ToResponse())
	}
}

func (s *Server) sharedSecretOK(c *gin.Context, expected string) bool {
	if expected == "" {
		return false
	}
	got := c.GetHeader("X-WebSocket-API-Key")
	return got != "" && got == expected
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
