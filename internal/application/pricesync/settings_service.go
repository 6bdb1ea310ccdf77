package pricesync

import (
	"context"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/erp/pricesync/internal/domain/shared"
	"github.com/google/uuid"
)

// SettingsService reads and updates tenant sync settings
type SettingsService struct {
	store *SettingsStore
}

// NewSettingsService creates a SettingsService
func NewSettingsService(store *SettingsStore) *SettingsService {
	return &SettingsService{store: store}
}

// Get returns the effective settings of a tenant
func (s *SettingsService) Get(_ context.Context, tenantID uuid.UUID) SettingsResponse {
	return ToSettingsResponse(s.store.Get(tenantID))
}

// Update overlays req on the tenant's current settings and stores them
func (s *SettingsService) Update(ctx context.Context, tenantID uuid.UUID, req SettingsRequest) (*SettingsResponse, error) {
	next := req.apply(s.store.Get(tenantID)).ForTenant(tenantID)
	saved, err := s.store.Update(ctx, next)
	if err != nil {
		return nil, err
	}
	resp := ToSettingsResponse(saved)
	return &resp, nil
}

// HistoryService serves the price audit log
type HistoryService struct {
	history pricesync.PriceHistoryRepository
}

// NewHistoryService creates a HistoryService
func NewHistoryService(history pricesync.PriceHistoryRepository) *HistoryService {
	return &HistoryService{history: history}
}

// HistoryFilter pages price history
type HistoryFilter struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	OrderBy  string `form:"order_by" binding:"omitempty,oneof=created_at percent_change amount_change"`
	OrderDir string `form:"order_dir" binding:"omitempty,oneof=asc desc"`
}

// ListByEntity returns the price changes recorded for one product
func (s *HistoryService) ListByEntity(ctx context.Context, tenantID, entityID uuid.UUID, filter HistoryFilter) ([]PriceChangeResponse, int64, error) {
	f := shared.DefaultFilter()
	if filter.Page > 0 {
		f.Page = filter.Page
	}
	if filter.PageSize > 0 {
		f.PageSize = filter.PageSize
	}
	if filter.OrderBy != "" {
		f.OrderBy = filter.OrderBy
	}
	if filter.OrderDir != "" {
		f.OrderDir = filter.OrderDir
	}
	changes, total, err := s.history.ListByEntity(ctx, tenantID, entityID, f)
	if err != nil {
		return nil, 0, err
	}
	out := make([]PriceChangeResponse, len(changes))
	for i, c := range changes {
		out[i] = ToPriceChangeResponse(c)
	}
	return out, total, nil
}
