package middleware

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/erp/pricesync/internal/infrastructure/auth"
	"github.com/erp/pricesync/internal/infrastructure/logger"
	"github.com/erp/pricesync/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Gin context keys set for authenticated requests
const (
	JWTUserIDKey   = "jwt_user_id"
	JWTTenantIDKey = "jwt_tenant_id"
)

// Development identity headers, honoured only when no signing secret is set
const (
	TenantIDHeader = "X-Tenant-ID"
	UserIDHeader   = "X-User-ID"
)

// DefaultPublicPaths skip authentication. Entries ending in "/" match
// every path below them.
var DefaultPublicPaths = []string{
	"/health",
	"/ready",
	"/api/v1/system/health",
	"/api/v1/erp/webhooks/",
}

type authOptions struct {
	public []string
	logger *zap.Logger
}

// AuthOption configures JWTAuth
type AuthOption func(*authOptions)

// WithPublicPaths replaces DefaultPublicPaths
func WithPublicPaths(paths ...string) AuthOption {
	return func(o *authOptions) { o.public = paths }
}

// WithAuthLogger logs rejected requests at warn level
func WithAuthLogger(l *zap.Logger) AuthOption {
	return func(o *authOptions) { o.logger = l }
}

// JWTAuth resolves the caller's tenant and user. With a signing secret the
// bearer token is verified; without one the identity headers are trusted.
func JWTAuth(tokens *auth.JWTService, opts ...AuthOption) gin.HandlerFunc {
	o := authOptions{public: DefaultPublicPaths, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	resolve := identityFromHeaders
	if tokens != nil && tokens.Enabled() {
		resolve = func(c *gin.Context) (auth.Identity, error) { return identityFromBearer(c, tokens) }
	}

	return func(c *gin.Context) {
		if isPublic(o.public, c.Request.URL.Path) {
			c.Next()
			return
		}
		id, err := resolve(c)
		if err != nil {
			o.logger.Warn("Authentication failed", zap.Error(err), zap.String("path", c.Request.URL.Path))
			rejectAuth(c, err)
			return
		}

		tenant := id.TenantID.String()
		c.Set(JWTUserIDKey, id.UserID.String())
		c.Set(JWTTenantIDKey, tenant)
		c.Set("tenant_id", tenant)
		c.Request = c.Request.WithContext(logger.WithTenantID(c.Request.Context(), tenant))
		c.Next()
	}
}

func isPublic(public []string, path string) bool {
	return slices.ContainsFunc(public, func(p string) bool {
		if strings.HasSuffix(p, "/") {
			return strings.HasPrefix(path, p)
		}
		return path == p
	})
}

func identityFromBearer(c *gin.Context, tokens *auth.JWTService) (auth.Identity, error) {
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || token == "" {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return tokens.ValidateAccessToken(token)
}

func identityFromHeaders(c *gin.Context) (auth.Identity, error) {
	tenantID, err := uuid.Parse(c.GetHeader(TenantIDHeader))
	if err != nil {
		return auth.Identity{}, auth.ErrMissingTenantID
	}
	id := auth.Identity{TenantID: tenantID}
	if raw := c.GetHeader(UserIDHeader); raw != "" {
		if id.UserID, err = uuid.Parse(raw); err != nil {
			return auth.Identity{}, auth.ErrMissingUserID
		}
	}
	return id, nil
}

func rejectAuth(c *gin.Context, err error) {
	code, message := dto.ErrCodeUnauthorized, "Authentication required"
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		code, message = dto.ErrCodeTokenExpired, "Token has expired"
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrInvalidTokenType),
		errors.Is(err, auth.ErrTokenNotYetValid), errors.Is(err, auth.ErrInvalidClaims):
		code, message = dto.ErrCodeTokenInvalid, "Invalid token"
	case errors.Is(err, auth.ErrMissingTenantID):
		message = "Tenant is required"
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized,
		dto.NewErrorResponseWithRequestID(code, message, RequestIDFrom(c)))
}

func GetJWTUserID(c *gin.Context) string { return c.GetString(JWTUserIDKey) }

func GetJWTTenantID(c *gin.Context) string { return c.GetString(JWTTenantIDKey) }
