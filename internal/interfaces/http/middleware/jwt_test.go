package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/erp/pricesync/internal/infrastructure/auth"
	"github.com/erp/pricesync/internal/infrastructure/config"
	"github.com/erp/pricesync/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestJWTService() *auth.JWTService {
	return auth.NewJWTService(config.JWTConfig{
		Secret: "test-secret-key-at-least-32-chars",
		Issuer: "pricesync-test",
	})
}

func newAuthRouter(mw gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(RequestID(), mw)
	router.GET("/api/v1/sync/jobs", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"tenant_id": GetJWTTenantID(c),
			"user_id":   GetJWTUserID(c),
		})
	})
	router.POST("/api/v1/erp/webhooks/prices", func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})
	return router
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *dto.ErrorInfo {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	return resp.Error
}

func TestJWTAuth_ValidToken(t *testing.T) {
	svc := newTestJWTService()
	id := auth.Identity{TenantID: uuid.New(), UserID: uuid.New()}
	token, err := svc.IssueAccessToken(id, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/jobs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	newAuthRouter(JWTAuth(svc)).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, id.TenantID.String(), body["tenant_id"])
	assert.Equal(t, id.UserID.String(), body["user_id"])
}

func TestJWTAuth_Rejections(t *testing.T) {
	svc := newTestJWTService()
	expired, err := svc.IssueAccessToken(auth.Identity{TenantID: uuid.New(), UserID: uuid.New()}, -time.Minute)
	require.NoError(t, err)
	foreign, err := auth.NewJWTService(config.JWTConfig{Secret: "another-secret-key-of-32-characters", Issuer: "pricesync-test"}).
		IssueAccessToken(auth.Identity{TenantID: uuid.New(), UserID: uuid.New()}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		code   string
	}{
		{"missing header", "", dto.ErrCodeTokenInvalid},
		{"wrong scheme", "Basic abc", dto.ErrCodeTokenInvalid},
		{"empty token", "Bearer ", dto.ErrCodeTokenInvalid},
		{"garbage", "Bearer not-a-jwt", dto.ErrCodeTokenInvalid},
		{"wrong key", "Bearer " + foreign, dto.ErrCodeTokenInvalid},
		{"expired", "Bearer " + expired, dto.ErrCodeTokenExpired},
	}

	router := newAuthRouter(JWTAuth(svc))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/jobs", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			errInfo := decodeError(t, w)
			assert.Equal(t, tt.code, errInfo.Code)
			assert.NotEmpty(t, errInfo.RequestID)
		})
	}
}

func TestJWTAuth_SkipsWebhookPrefix(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/erp/webhooks/prices", nil)
	w := httptest.NewRecorder()
	newAuthRouter(JWTAuth(newTestJWTService())).ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestJWTAuth_HeaderFallbackWithoutSecret(t *testing.T) {
	router := newAuthRouter(JWTAuth(auth.NewJWTService(config.JWTConfig{})))
	tenantID, userID := uuid.New(), uuid.New()

	t.Run("uses headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/jobs", nil)
		req.Header.Set(TenantIDHeader, tenantID.String())
		req.Header.Set(UserIDHeader, userID.String())
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), tenantID.String())
		assert.Contains(t, w.Body.String(), userID.String())
	})

	t.Run("requires a tenant", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/jobs", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "Tenant is required", decodeError(t, w).Message)
	})

	t.Run("rejects a malformed user", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/jobs", nil)
		req.Header.Set(TenantIDHeader, tenantID.String())
		req.Header.Set(UserIDHeader, "bob")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestGetJWTIDs_NotSet(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Empty(t, GetJWTTenantID(c))
	assert.Empty(t, GetJWTUserID(c))
}

func TestIsPublic(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/health", true},
		{"/healthz", false},
		{"/api/v1/system/health", true},
		{"/api/v1/erp/webhooks/prices", true},
		{"/api/v1/erp/webhooks", false},
		{"/api/v1/sync/jobs", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, isPublic(DefaultPublicPaths, tt.path))
		})
	}
}

func TestJWTAuth_CustomPublicPaths(t *testing.T) {
	router := newAuthRouter(JWTAuth(newTestJWTService(), WithPublicPaths("/api/v1/sync/")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sync/jobs", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/erp/webhooks/prices", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
