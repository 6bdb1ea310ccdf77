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

// GormConflictRepository implements ConflictRepository using GORM
type GormConflictRepository struct {
	db *gorm.DB
}

// NewGormConflictRepository creates a new GormConflictRepository
func NewGormConflictRepository(db *gorm.DB) *GormConflictRepository {
	return &GormConflictRepository{db: db}
}

// UpsertPending stores c, or refreshes the pending conflict of the same
// family for the same entity.
func (r *GormConflictRepository) UpsertPending(ctx context.Context, c *pricesync.Conflict) (*pricesync.Conflict, bool, error) {
	var (
		stored  *pricesync.Conflict
		created bool
	)
	err := inTransaction(ctx, r.db, func(tx *gorm.DB) error {
		existing, err := r.findPendingFamily(tx, c)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil {
			current := existing.ToDomain()
			current.Refresh(c)
			var m models.ConflictModel
			m.FromDomain(current)
			if err := tx.Save(&m).Error; err != nil {
				return err
			}
			stored = current
			return nil
		}

		var m models.ConflictModel
		m.FromDomain(c)
		if err := tx.Create(&m).Error; err != nil {
			return err
		}
		stored, created = c, true
		return nil
	})
	if err != nil && isUniqueViolation(err) {
		// A concurrent sweep inserted the same family first.
		existing, findErr := r.findPendingFamily(conn(ctx, r.db), c)
		if findErr != nil {
			return nil, false, err
		}
		return existing.ToDomain(), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func (r *GormConflictRepository) findPendingFamily(db *gorm.DB, c *pricesync.Conflict) (*models.ConflictModel, error) {
	var m models.ConflictModel
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND entity_id = ? AND type_family = ? AND status = ?",
			c.TenantID, c.EntityID, models.TypeFamily(c.Type), string(pricesync.ConflictStatusPending)).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Save updates a conflict
func (r *GormConflictRepository) Save(ctx context.Context, c *pricesync.Conflict) error {
	var m models.ConflictModel
	m.FromDomain(c)
	return conn(ctx, r.db).Save(&m).Error
}

// FindByID finds a conflict within a tenant
func (r *GormConflictRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*pricesync.Conflict, error) {
	return r.find(conn(ctx, r.db), tenantID, id)
}

// FindByIDForUpdate finds a conflict and locks its row
func (r *GormConflictRepository) FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*pricesync.Conflict, error) {
	return r.find(conn(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}), tenantID, id)
}

func (r *GormConflictRepository) find(db *gorm.DB, tenantID, id uuid.UUID) (*pricesync.Conflict, error) {
	var m models.ConflictModel
	if err := db.Where("tenant_id = ? AND id = ?", tenantID, id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pricesync.ErrConflictNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// List returns a page of conflicts and the total count
func (r *GormConflictRepository) List(ctx context.Context, tenantID uuid.UUID, filter pricesync.ConflictFilter) ([]pricesync.Conflict, int64, error) {
	query := conn(ctx, r.db).Model(&models.ConflictModel{}).Where("tenant_id = ?", tenantID)
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.Type != "" {
		query = query.Where("conflict_type = ?", string(filter.Type))
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", string(filter.Severity))
	}
	if filter.EntityID != nil {
		query = query.Where("entity_id = ?", *filter.EntityID)
	}
	if filter.RequiresReview != nil {
		query = query.Where("requires_review = ?", *filter.RequiresReview)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.ConflictModel
	if err := query.
		Order(conflictSortColumns.OrderBy(filter.OrderBy, filter.OrderDir)).
		Offset(filter.Offset()).
		Limit(filter.Limit()).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	conflicts := make([]pricesync.Conflict, len(rows))
	for i := range rows {
		conflicts[i] = *rows[i].ToDomain()
	}
	return conflicts, total, nil
}

// ListRetryable returns pending conflicts whose last auto-resolution failed
func (r *GormConflictRepository) ListRetryable(ctx context.Context, tenantID uuid.UUID, limit int) ([]*pricesync.Conflict, error) {
	var rows []models.ConflictModel
	if err := conn(ctx, r.db).
		Where("tenant_id = ? AND status = ? AND auto_resolution_error <> ''",
			tenantID, string(pricesync.ConflictStatusPending)).
		Order("detected_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toConflicts(rows), nil
}

// CountPending counts a tenant's pending conflicts
func (r *GormConflictRepository) CountPending(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var n int64
	err := conn(ctx, r.db).Model(&models.ConflictModel{}).
		Where("tenant_id = ? AND status = ?", tenantID, string(pricesync.ConflictStatusPending)).
		Count(&n).Error
	return n, err
}

// FindArchivable returns resolved or ignored conflicts closed before the cutoff
func (r *GormConflictRepository) FindArchivable(ctx context.Context, before time.Time, limit int) ([]*pricesync.Conflict, error) {
	var rows []models.ConflictModel
	if err := conn(ctx, r.db).
		Where("status IN ? AND resolved_at < ?",
			[]string{string(pricesync.ConflictStatusResolved), string(pricesync.ConflictStatusIgnored)}, before).
		Order("resolved_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toConflicts(rows), nil
}

// MoveToHistory copies conflicts into conflict_history and deletes the live rows
func (r *GormConflictRepository) MoveToHistory(ctx context.Context, conflicts []*pricesync.Conflict) (int64, error) {
	if len(conflicts) == 0 {
		return 0, nil
	}

	now := time.Now()
	history := make([]models.ConflictHistoryModel, len(conflicts))
	ids := make([]uuid.UUID, len(conflicts))
	for i, c := range conflicts {
		history[i].ConflictModel.FromDomain(c)
		history[i].ArchivedAt = now
		ids[i] = c.ID
	}

	var moved int64
	err := inTransaction(ctx, r.db, func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&history).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&models.ConflictModel{})
		if res.Error != nil {
			return res.Error
		}
		moved = res.RowsAffected
		return nil
	})
	return moved, err
}

func toConflicts(rows []models.ConflictModel) []*pricesync.Conflict {
	out := make([]*pricesync.Conflict, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out
}

var _ pricesync.ConflictRepository = (*GormConflictRepository)(nil)
