package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newRouter() (*gin.Engine, *string) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	var seen string
	r.GET("/", func(c *gin.Context) {
		seen = GetRequestID(c)
		c.Status(http.StatusOK)
	})
	return r, &seen
}

func TestRequestID_GeneratedWhenAbsent(t *testing.T) {
	r, seen := newRouter()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, *seen)
	assert.Equal(t, *seen, rec.Header().Get(RequestIDHeader))
}

func TestRequestID_PreservesCallerProvided(t *testing.T) {
	r, seen := newRouter()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "trace-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "trace-123", *seen)
	assert.Equal(t, "trace-123", rec.Header().Get(RequestIDHeader))
}
