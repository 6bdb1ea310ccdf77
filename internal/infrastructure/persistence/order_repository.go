package persistence

import (
	"context"
	"errors"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/erp/pricesync/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormOrderRepository implements OrderRepository using GORM
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository creates a new GormOrderRepository
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// FindByIDForUpdate finds an order and locks its row
func (r *GormOrderRepository) FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*pricesync.Order, error) {
	var m models.OrderModel
	if err := conn(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pricesync.ErrOrderNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// Save inserts or updates an order
func (r *GormOrderRepository) Save(ctx context.Context, o *pricesync.Order) error {
	var m models.OrderModel
	m.FromDomain(o)
	return conn(ctx, r.db).Save(&m).Error
}

// UpsertErpMirror records the latest ERP state of an order
func (r *GormOrderRepository) UpsertErpMirror(ctx context.Context, e *pricesync.ErpOrder) error {
	var m models.ErpOrderModel
	m.FromDomain(e)
	return conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "external_id"}},
		UpdateAll: true,
	}).Create(&m).Error
}

// ListPairs pages orders with their ERP mirror, ordered by id
func (r *GormOrderRepository) ListPairs(ctx context.Context, tenantID uuid.UUID, afterID uuid.UUID, limit int) ([]pricesync.OrderPair, error) {
	var rows []models.OrderModel
	if err := conn(ctx, r.db).
		Where("tenant_id = ? AND id > ?", tenantID, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []pricesync.OrderPair{}, nil
	}

	externalIDs := make([]string, 0, len(rows))
	for _, o := range rows {
		if o.ExternalID != "" {
			externalIDs = append(externalIDs, o.ExternalID)
		}
	}
	var mirrors []models.ErpOrderModel
	if len(externalIDs) > 0 {
		if err := conn(ctx, r.db).
			Where("tenant_id = ? AND external_id IN ?", tenantID, externalIDs).
			Find(&mirrors).Error; err != nil {
			return nil, err
		}
	}
	byExternal := make(map[string]*pricesync.ErpOrder, len(mirrors))
	for i := range mirrors {
		byExternal[mirrors[i].ExternalID] = mirrors[i].ToDomain()
	}

	pairs := make([]pricesync.OrderPair, len(rows))
	for i := range rows {
		pairs[i] = pricesync.OrderPair{Local: rows[i].ToDomain(), Erp: byExternal[rows[i].ExternalID]}
	}
	return pairs, nil
}

var _ pricesync.OrderRepository = (*GormOrderRepository)(nil)
