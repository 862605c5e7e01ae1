// Package middleware holds the HTTP middleware shared across the RPC
// surface's route groups.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the header carrying the correlation id.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin context key for the correlation id.
	RequestIDKey = "request_id"
)

// RequestID attaches a correlation id to each request: an existing
// X-Request-ID from the caller is preserved so a trace started upstream
// stays intact, otherwise a fresh UUID is generated. The id is stored in
// the gin context and echoed on the response so clients can quote it
// when reporting a failure.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(RequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()
	}
}

// GetRequestID retrieves the correlation id from the gin context.
func GetRequestID(c *gin.Context) string {
	if requestID, exists := c.Get(RequestIDKey); exists {
		if id, ok := requestID.(string); ok {
			return id
		}
	}
	return ""
}
