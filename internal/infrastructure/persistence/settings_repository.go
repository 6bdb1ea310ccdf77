package persistence

import (
	"context"
	"errors"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/erp/pricesync/internal/domain/shared"
	"github.com/erp/pricesync/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormSettingsRepository implements SettingsRepository using GORM
type GormSettingsRepository struct {
	db *gorm.DB
}

// NewGormSettingsRepository creates a new GormSettingsRepository
func NewGormSettingsRepository(db *gorm.DB) *GormSettingsRepository {
	return &GormSettingsRepository{db: db}
}

// Find returns a tenant's stored settings
func (r *GormSettingsRepository) Find(ctx context.Context, tenantID uuid.UUID) (*pricesync.TenantSyncSettings, error) {
	var m models.TenantSyncSettingsModel
	if err := conn(ctx, r.db).Where("tenant_id = ?", tenantID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	s := m.ToDomain()
	return &s, nil
}

// Save inserts or replaces a tenant's settings
func (r *GormSettingsRepository) Save(ctx context.Context, s *pricesync.TenantSyncSettings) error {
	var m models.TenantSyncSettingsModel
	m.FromDomain(s)
	return conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}},
		UpdateAll: true,
	}).Create(&m).Error
}

// ListAll returns the stored settings of every tenant
func (r *GormSettingsRepository) ListAll(ctx context.Context) ([]pricesync.TenantSyncSettings, error) {
	var rows []models.TenantSyncSettingsModel
	if err := conn(ctx, r.db).Order("tenant_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]pricesync.TenantSyncSettings, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

var _ pricesync.SettingsRepository = (*GormSettingsRepository)(nil)
