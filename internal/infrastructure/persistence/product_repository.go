package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/erp/pricesync/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormProductRepository implements ProductRepository using GORM
type GormProductRepository struct {
	db *gorm.DB
}

// NewGormProductRepository creates a new GormProductRepository
func NewGormProductRepository(db *gorm.DB) *GormProductRepository {
	return &GormProductRepository{db: db}
}

// FindByID finds a product within a tenant
func (r *GormProductRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*pricesync.Product, error) {
	return r.find(conn(ctx, r.db), tenantID, id)
}

// FindByIDForUpdate finds a product and locks its row
func (r *GormProductRepository) FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*pricesync.Product, error) {
	return r.find(conn(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}), tenantID, id)
}

func (r *GormProductRepository) find(db *gorm.DB, tenantID, id uuid.UUID) (*pricesync.Product, error) {
	var m models.ProductModel
	if err := db.Where("tenant_id = ? AND id = ?", tenantID, id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pricesync.ErrProductNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// FindByIDs finds active products by id
func (r *GormProductRepository) FindByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*pricesync.Product, error) {
	if len(ids) == 0 {
		return []*pricesync.Product{}, nil
	}
	var rows []models.ProductModel
	if err := conn(ctx, r.db).
		Where("tenant_id = ? AND id IN ? AND is_active = ?", tenantID, ids, true).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toProducts(rows), nil
}

// FindByExternalIDs finds active products by their ERP identifiers
func (r *GormProductRepository) FindByExternalIDs(ctx context.Context, tenantID uuid.UUID, externalIDs []string) ([]*pricesync.Product, error) {
	if len(externalIDs) == 0 {
		return []*pricesync.Product{}, nil
	}
	var rows []models.ProductModel
	if err := conn(ctx, r.db).
		Where("tenant_id = ? AND external_id IN ? AND is_active = ?", tenantID, externalIDs, true).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toProducts(rows), nil
}

// FindChangedSince returns active products changed locally, or in the ERP
// mirror, at or after since
func (r *GormProductRepository) FindChangedSince(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]*pricesync.Product, error) {
	db := conn(ctx, r.db)
	mirrored := db.Session(&gorm.Session{NewDB: true}).
		Model(&models.ErpProductModel{}).
		Select("external_id").
		Where("tenant_id = ? AND updated_at >= ?", tenantID, since)

	var rows []models.ProductModel
	if err := db.
		Where("tenant_id = ? AND is_active = ?", tenantID, true).
		Where(db.Session(&gorm.Session{NewDB: true}).
			Where("updated_at >= ?", since).
			Or("external_id IN (?)", mirrored)).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toProducts(rows), nil
}

// ListActive pages active products by id
func (r *GormProductRepository) ListActive(ctx context.Context, tenantID uuid.UUID, afterID uuid.UUID, limit int) ([]*pricesync.Product, error) {
	var rows []models.ProductModel
	if err := conn(ctx, r.db).
		Where("tenant_id = ? AND is_active = ? AND id > ?", tenantID, true, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toProducts(rows), nil
}

// Save inserts or updates a product
func (r *GormProductRepository) Save(ctx context.Context, p *pricesync.Product) error {
	var m models.ProductModel
	m.FromDomain(p)
	return conn(ctx, r.db).Save(&m).Error
}

// UpsertErpMirror records the latest ERP state of a product
func (r *GormProductRepository) UpsertErpMirror(ctx context.Context, e *pricesync.ErpProduct) error {
	var m models.ErpProductModel
	m.FromDomain(e)
	return conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "external_id"}},
		UpdateAll: true,
	}).Create(&m).Error
}

// ListPairs pages active products with their ERP mirror. Products never
// seen in the ERP have a nil Erp side.
func (r *GormProductRepository) ListPairs(ctx context.Context, tenantID uuid.UUID, afterID uuid.UUID, limit int) ([]pricesync.ProductPair, error) {
	products, err := r.ListActive(ctx, tenantID, afterID, limit)
	if err != nil || len(products) == 0 {
		return []pricesync.ProductPair{}, err
	}

	externalIDs := make([]string, 0, len(products))
	for _, p := range products {
		if p.ExternalID != "" {
			externalIDs = append(externalIDs, p.ExternalID)
		}
	}

	var mirrors []models.ErpProductModel
	if len(externalIDs) > 0 {
		if err := conn(ctx, r.db).
			Where("tenant_id = ? AND external_id IN ?", tenantID, externalIDs).
			Find(&mirrors).Error; err != nil {
			return nil, err
		}
	}
	byExternal := make(map[string]*pricesync.ErpProduct, len(mirrors))
	for i := range mirrors {
		byExternal[mirrors[i].ExternalID] = mirrors[i].ToDomain()
	}

	pairs := make([]pricesync.ProductPair, len(products))
	for i, p := range products {
		pairs[i] = pricesync.ProductPair{Local: p, Erp: byExternal[p.ExternalID]}
	}
	return pairs, nil
}

func toProducts(rows []models.ProductModel) []*pricesync.Product {
	out := make([]*pricesync.Product, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out
}

var _ pricesync.ProductRepository = (*GormProductRepository)(nil)
