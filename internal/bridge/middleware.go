package bridge

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// requestIDCtxKey is the Gin context key holding the per-request id.
const requestIDCtxKey = "request_id"

// RequestIDMiddleware assigns every request an id, honoring a caller-supplied
// X-Request-ID so bridged producers can correlate their own logs. The id is
// echoed on the response and included in every error envelope.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader("X-Request-ID"))
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(requestIDCtxKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// RequestID returns the request id from the context.
func RequestID(c *gin.Context) string {
	v, _ := c.Get(requestIDCtxKey)
	s, _ := v.(string)
	return s
}

// RateLimitMiddleware protects the process with a shared token bucket.
// This is load shedding, not admission control: the observer still accepts
// every peer, it just bounds how fast the bridge can push signals in.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			abortError(c, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		c.Next()
	}
}

// abortError writes the uniform JSON error envelope.
func abortError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":      msg,
		"request_id": RequestID(c),
	})
}
