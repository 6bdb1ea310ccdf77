package handler

import (
	"context"

	pricesyncapp "github.com/erp/pricesync/internal/application/pricesync"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ConflictService lists, resolves and detects conflicts
type ConflictService interface {
	ListConflicts(ctx context.Context, tenantID uuid.UUID, filter pricesyncapp.ConflictListFilter) ([]pricesyncapp.ConflictResponse, int64, error)
	GetConflict(ctx context.Context, tenantID, conflictID uuid.UUID) (*pricesyncapp.ConflictResponse, error)
	ResolveConflict(ctx context.Context, tenantID, conflictID uuid.UUID, req pricesyncapp.ResolveConflictRequest, resolvedBy string) (*pricesyncapp.ResolveConflictResult, error)
	IgnoreConflict(ctx context.Context, tenantID, conflictID uuid.UUID, req pricesyncapp.IgnoreConflictRequest, ignoredBy string) (*pricesyncapp.ConflictResponse, error)
	DetectConflicts(ctx context.Context, tenantID uuid.UUID) (pricesyncapp.DetectionSummary, error)
}

// ConflictHandler handles conflict endpoints
type ConflictHandler struct {
	BaseHandler
	conflicts ConflictService
}

// NewConflictHandler creates a new ConflictHandler
func NewConflictHandler(conflicts ConflictService) *ConflictHandler {
	return &ConflictHandler{conflicts: conflicts}
}

// List pages the tenant's conflicts
func (h *ConflictHandler) List(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant is required")
		return
	}

	var filter pricesyncapp.ConflictListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.BindError(c, err)
		return
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}

	conflicts, total, err := h.conflicts.ListConflicts(c.Request.Context(), tenantID, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, conflicts, total, filter.Page, filter.PageSize)
}

// Get returns one conflict
func (h *ConflictHandler) Get(c *gin.Context) {
	tenantID, conflictID, ok := h.target(c)
	if !ok {
		return
	}
	conflict, err := h.conflicts.GetConflict(c.Request.Context(), tenantID, conflictID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, conflict)
}

// Resolve applies an operator's resolution. A declined resolution still
// answers 200 with success false and the reason.
func (h *ConflictHandler) Resolve(c *gin.Context) {
	tenantID, conflictID, ok := h.target(c)
	if !ok {
		return
	}

	var req pricesyncapp.ResolveConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	result, err := h.conflicts.ResolveConflict(c.Request.Context(), tenantID, conflictID, req, getOperator(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// Ignore closes a conflict without writing anything back
func (h *ConflictHandler) Ignore(c *gin.Context) {
	tenantID, conflictID, ok := h.target(c)
	if !ok {
		return
	}

	var req pricesyncapp.IgnoreConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	conflict, err := h.conflicts.IgnoreConflict(c.Request.Context(), tenantID, conflictID, req, getOperator(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, conflict)
}

// Detect runs a conflict sweep for the caller's tenant
func (h *ConflictHandler) Detect(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant is required")
		return
	}
	summary, err := h.conflicts.DetectConflicts(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, summary)
}

func (h *ConflictHandler) target(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant is required")
		return uuid.Nil, uuid.Nil, false
	}
	conflictID, ok := parseID(c, "id")
	if !ok {
		h.BadRequest(c, "Invalid conflict ID")
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, conflictID, true
}
