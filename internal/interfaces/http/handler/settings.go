package handler

import (
	"context"

	pricesyncapp "github.com/erp/pricesync/internal/application/pricesync"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SettingsService reads and replaces tenant sync settings
type SettingsService interface {
	Get(ctx context.Context, tenantID uuid.UUID) pricesyncapp.SettingsResponse
	Update(ctx context.Context, tenantID uuid.UUID, req pricesyncapp.SettingsRequest) (*pricesyncapp.SettingsResponse, error)
}

// HistoryService lists recorded price changes
type HistoryService interface {
	ListByEntity(ctx context.Context, tenantID, entityID uuid.UUID, filter pricesyncapp.HistoryFilter) ([]pricesyncapp.PriceChangeResponse, int64, error)
}

// SettingsHandler handles tenant settings and price history endpoints
type SettingsHandler struct {
	BaseHandler
	settings SettingsService
	history  HistoryService
}

// NewSettingsHandler creates a new SettingsHandler
func NewSettingsHandler(settings SettingsService, history HistoryService) *SettingsHandler {
	return &SettingsHandler{settings: settings, history: history}
}

// GetSettings returns the tenant's effective settings
func (h *SettingsHandler) GetSettings(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant is required")
		return
	}
	h.Success(c, h.settings.Get(c.Request.Context(), tenantID))
}

// UpdateSettings overlays the request on the tenant's settings
func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant is required")
		return
	}

	var req pricesyncapp.SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	settings, err := h.settings.Update(c.Request.Context(), tenantID, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, settings)
}

// PriceHistoryQuery selects one product's history
type PriceHistoryQuery struct {
	EntityID string `form:"entity_id" binding:"required,uuid"`
	pricesyncapp.HistoryFilter
}

// ListPriceHistory pages the price changes recorded for a product
func (h *SettingsHandler) ListPriceHistory(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant is required")
		return
	}

	var q PriceHistoryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.BindError(c, err)
		return
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = 20
	}

	changes, total, err := h.history.ListByEntity(c.Request.Context(), tenantID, uuid.MustParse(q.EntityID), q.HistoryFilter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, changes, total, q.Page, q.PageSize)
}
