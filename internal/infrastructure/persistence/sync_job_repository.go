package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/erp/pricesync/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormSyncJobRepository implements SyncJobRepository using GORM
type GormSyncJobRepository struct {
	db *gorm.DB
}

// NewGormSyncJobRepository creates a new GormSyncJobRepository
func NewGormSyncJobRepository(db *gorm.DB) *GormSyncJobRepository {
	return &GormSyncJobRepository{db: db}
}

// Save inserts or updates a job
func (r *GormSyncJobRepository) Save(ctx context.Context, job *pricesync.SyncJob) error {
	var m models.SyncJobModel
	m.FromDomain(job)
	return conn(ctx, r.db).Save(&m).Error
}

// FindByID finds a job within a tenant
func (r *GormSyncJobRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*pricesync.SyncJob, error) {
	var m models.SyncJobModel
	if err := conn(ctx, r.db).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pricesync.ErrJobNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// FindActive returns the newest pending or running job for the cadence
func (r *GormSyncJobRepository) FindActive(ctx context.Context, tenantID uuid.UUID, cadence pricesync.Cadence) (*pricesync.SyncJob, error) {
	var m models.SyncJobModel
	if err := conn(ctx, r.db).
		Where("tenant_id = ? AND job_type = ? AND status IN ?", tenantID, string(cadence),
			[]string{string(pricesync.JobStatusPending), string(pricesync.JobStatusRunning)}).
		Order("created_at DESC").
		First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pricesync.ErrJobNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// FindLastCompleted returns the completed job with the latest start time
func (r *GormSyncJobRepository) FindLastCompleted(ctx context.Context, tenantID uuid.UUID, cadence pricesync.Cadence) (*pricesync.SyncJob, error) {
	var m models.SyncJobModel
	if err := conn(ctx, r.db).
		Where("tenant_id = ? AND job_type = ? AND status = ?", tenantID, string(cadence), string(pricesync.JobStatusCompleted)).
		Order("started_at DESC").
		First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pricesync.ErrJobNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// List returns a page of jobs and the total count
func (r *GormSyncJobRepository) List(ctx context.Context, tenantID uuid.UUID, filter pricesync.JobFilter) ([]pricesync.SyncJob, int64, error) {
	query := conn(ctx, r.db).Model(&models.SyncJobModel{}).Where("tenant_id = ?", tenantID)
	if filter.Cadence != "" {
		query = query.Where("job_type = ?", string(filter.Cadence))
	}
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.SyncJobModel
	if err := query.
		Order(jobSortColumns.OrderBy(filter.OrderBy, filter.OrderDir)).
		Offset(filter.Offset()).
		Limit(filter.Limit()).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	jobs := make([]pricesync.SyncJob, len(rows))
	for i := range rows {
		jobs[i] = *rows[i].ToDomain()
	}
	return jobs, total, nil
}

// FailStale fails active jobs whose row has not been touched since before
func (r *GormSyncJobRepository) FailStale(ctx context.Context, before time.Time, details string) (int64, error) {
	now := time.Now()
	result := conn(ctx, r.db).Model(&models.SyncJobModel{}).
		Where("status IN ? AND updated_at < ?",
			[]string{string(pricesync.JobStatusPending), string(pricesync.JobStatusRunning)}, before).
		Updates(map[string]any{
			"status":        string(pricesync.JobStatusFailed),
			"error_details": details,
			"ended_at":      now,
			"updated_at":    now,
		})
	return result.RowsAffected, result.Error
}

var _ pricesync.SyncJobRepository = (*GormSyncJobRepository)(nil)
