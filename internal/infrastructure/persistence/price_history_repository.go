package persistence

import (
	"context"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/erp/pricesync/internal/domain/shared"
	"github.com/erp/pricesync/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormPriceHistoryRepository implements the append-only price audit log
type GormPriceHistoryRepository struct {
	db *gorm.DB
}

// NewGormPriceHistoryRepository creates a new GormPriceHistoryRepository
func NewGormPriceHistoryRepository(db *gorm.DB) *GormPriceHistoryRepository {
	return &GormPriceHistoryRepository{db: db}
}

// Append inserts a price change. Existing rows are never updated.
func (r *GormPriceHistoryRepository) Append(ctx context.Context, change *pricesync.PriceChange) error {
	var m models.PriceHistoryModel
	m.FromDomain(change)
	return conn(ctx, r.db).Create(&m).Error
}

// ListByEntity returns the price history of one entity, newest first by default
func (r *GormPriceHistoryRepository) ListByEntity(ctx context.Context, tenantID, entityID uuid.UUID, filter shared.Filter) ([]pricesync.PriceChange, int64, error) {
	query := conn(ctx, r.db).Model(&models.PriceHistoryModel{}).
		Where("tenant_id = ? AND entity_id = ?", tenantID, entityID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.PriceHistoryModel
	if err := query.
		Order(priceHistorySortColumns.OrderBy(filter.OrderBy, filter.OrderDir)).
		Offset(filter.Offset()).
		Limit(filter.Limit()).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	changes := make([]pricesync.PriceChange, len(rows))
	for i := range rows {
		changes[i] = rows[i].ToDomain()
	}
	return changes, total, nil
}

var _ pricesync.PriceHistoryRepository = (*GormPriceHistoryRepository)(nil)
