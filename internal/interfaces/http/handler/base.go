// Package handler holds the gin handlers of the sync API.
package handler

import (
	"errors"
	"net/http"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/erp/pricesync/internal/domain/shared"
	"github.com/erp/pricesync/internal/infrastructure/logger"
	"github.com/erp/pricesync/internal/interfaces/http/dto"
	"github.com/erp/pricesync/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// anonymousOperator is recorded as the actor when the caller has no user ID
const anonymousOperator = "anonymous"

var errMissingTenant = errors.New("tenant ID not found in context")

// upstreamFailures maps ERP transport errors to the response sent instead
// of a bare 500.
var upstreamFailures = []struct {
	err     error
	status  int
	code    string
	message string
}{
	{pricesync.ErrErpTimeout, http.StatusGatewayTimeout, dto.ErrCodeUpstreamTimeout, "ERP request timed out"},
	{pricesync.ErrErpUnavailable, http.StatusBadGateway, dto.ErrCodeUpstream, "ERP request failed"},
	{pricesync.ErrErpBadResponse, http.StatusBadGateway, dto.ErrCodeUpstream, "ERP request failed"},
	{pricesync.ErrErpUnauthorized, http.StatusBadGateway, dto.ErrCodeUpstream, "ERP request failed"},
	{pricesync.ErrErpRateLimited, http.StatusBadGateway, dto.ErrCodeUpstream, "ERP request failed"},
}

// BaseHandler is embedded by every handler for response helpers.
type BaseHandler struct{}

func getTenantID(c *gin.Context) (uuid.UUID, error) {
	raw := middleware.GetJWTTenantID(c)
	if raw == "" {
		return uuid.Nil, errMissingTenant
	}
	return uuid.Parse(raw)
}

// getOperator names the caller in audit fields
func getOperator(c *gin.Context) string {
	if raw := middleware.GetJWTUserID(c); raw != "" && raw != uuid.Nil.String() {
		return raw
	}
	return anonymousOperator
}

func parseID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	return id, err == nil
}

func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta answers a paged list
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Accepted answers work that continues after the response
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// Error writes the error envelope tagged with the request ID
func (h *BaseHandler) Error(c *gin.Context, status int, code, message string) {
	c.JSON(status, dto.NewErrorResponseWithRequestID(code, message, middleware.RequestIDFrom(c)))
}

func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

func (h *BaseHandler) Unauthorized(c *gin.Context, message string) {
	h.Error(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, message)
}

// BindError answers a failed ShouldBind call. Validator failures list the
// offending fields; anything else is malformed input.
func (h *BaseHandler) BindError(c *gin.Context, err error) {
	if verrs := (validator.ValidationErrors{}); errors.As(err, &verrs) {
		middleware.HandleValidationError(c, err)
		return
	}
	h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, "Malformed request body")
}

// HandleError maps a service error onto the response. Domain errors keep
// their code. Unrecognised errors are logged and hidden behind a 500.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	if de := (*shared.DomainError)(nil); errors.As(err, &de) {
		code := dto.NormalizeErrorCode(de.Code)
		h.Error(c, dto.GetHTTPStatus(code), code, de.Message)
		return
	}
	for _, f := range upstreamFailures {
		if errors.Is(err, f.err) {
			h.Error(c, f.status, f.code, f.message)
			return
		}
	}
	logger.FromContext(c.Request.Context()).Error("request failed", zap.Error(err))
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, "An unexpected error occurred")
}
