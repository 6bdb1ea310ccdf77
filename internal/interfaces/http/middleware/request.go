package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MaxRequestIDLength bounds client supplied request IDs
const MaxRequestIDLength = 128

// requestIDContextKey is where RequestID stores the ID on the gin context
const requestIDContextKey = "request_id"

// RequestID propagates the caller's X-Request-ID or mints one, and echoes
// it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := truncateRequestID(c.GetHeader(RequestIDKey))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDContextKey, id)
		c.Header(RequestIDKey, id)
		c.Next()
	}
}

// RequestIDFrom returns the ID set by RequestID, falling back to the raw
// header when the middleware did not run.
func RequestIDFrom(c *gin.Context) string {
	if id := c.GetString(requestIDContextKey); id != "" {
		return id
	}
	return truncateRequestID(c.GetHeader(RequestIDKey))
}

func truncateRequestID(id string) string {
	if len(id) > MaxRequestIDLength {
		return id[:MaxRequestIDLength]
	}
	return id
}

// Secure sets headers for a JSON-only API that is never framed
func Secure() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Next()
	}
}
