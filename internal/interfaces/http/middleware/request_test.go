package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/id", func(c *gin.Context) { c.String(http.StatusOK, RequestIDFrom(c)) })

	tests := []struct {
		name   string
		header string
		check  func(t *testing.T, id string)
	}{
		{"minted when absent", "", func(t *testing.T, id string) {
			_, err := uuid.Parse(id)
			require.NoError(t, err)
		}},
		{"propagated", "trace-abc-123", func(t *testing.T, id string) {
			assert.Equal(t, "trace-abc-123", id)
		}},
		{"truncated", strings.Repeat("x", 500), func(t *testing.T, id string) {
			assert.Len(t, id, MaxRequestIDLength)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/id", nil)
			if tt.header != "" {
				req.Header.Set(RequestIDKey, tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			tt.check(t, w.Body.String())
			assert.Equal(t, w.Body.String(), w.Header().Get(RequestIDKey))
		})
	}
}

func TestGetRequestID_HeaderFallback(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.Header.Set(RequestIDKey, strings.Repeat("y", 200))
	assert.Len(t, RequestIDFrom(c), MaxRequestIDLength)
}

func TestSecure(t *testing.T) {
	router := gin.New()
	router.Use(Secure())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "frame-ancestors 'none'")
}
