package pricesync

import (
	"context"
	"time"

	"github.com/erp/pricesync/internal/domain/shared"
	"github.com/google/uuid"
)

// JobFilter narrows sync job listings
type JobFilter struct {
	shared.Filter
	Cadence Cadence
	Status  JobStatus
}

// ConflictFilter narrows conflict listings
type ConflictFilter struct {
	shared.Filter
	Status         ConflictStatus
	Type           ConflictType
	Severity       Severity
	EntityID       *uuid.UUID
	RequiresReview *bool
}

// SyncJobRepository persists sync jobs
type SyncJobRepository interface {
	Save(ctx context.Context, job *SyncJob) error
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*SyncJob, error)
	// FindActive returns the pending or running job for a cadence, or ErrJobNotFound
	FindActive(ctx context.Context, tenantID uuid.UUID, cadence Cadence) (*SyncJob, error)
	// FindLastCompleted returns the most recently started completed job, or ErrJobNotFound
	FindLastCompleted(ctx context.Context, tenantID uuid.UUID, cadence Cadence) (*SyncJob, error)
	List(ctx context.Context, tenantID uuid.UUID, filter JobFilter) ([]SyncJob, int64, error)
	// FailStale fails active jobs not updated since before, e.g. after a crash
	FailStale(ctx context.Context, before time.Time, details string) (int64, error)
}

// PriceHistoryRepository is the append-only price audit log
type PriceHistoryRepository interface {
	Append(ctx context.Context, change *PriceChange) error
	ListByEntity(ctx context.Context, tenantID, entityID uuid.UUID, filter shared.Filter) ([]PriceChange, int64, error)
}

// ConflictRepository persists conflicts
type ConflictRepository interface {
	// UpsertPending stores c unless a pending conflict of the same family
	// exists for the entity, in which case that row is refreshed and returned.
	UpsertPending(ctx context.Context, c *Conflict) (stored *Conflict, created bool, err error)
	Save(ctx context.Context, c *Conflict) error
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*Conflict, error)
	// FindByIDForUpdate locks the row for the current transaction
	FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*Conflict, error)
	List(ctx context.Context, tenantID uuid.UUID, filter ConflictFilter) ([]Conflict, int64, error)
	// ListRetryable returns pending conflicts whose last auto-resolution failed
	ListRetryable(ctx context.Context, tenantID uuid.UUID, limit int) ([]*Conflict, error)
	CountPending(ctx context.Context, tenantID uuid.UUID) (int64, error)
	// FindArchivable returns terminal conflicts closed before the cutoff
	FindArchivable(ctx context.Context, before time.Time, limit int) ([]*Conflict, error)
	// MoveToHistory copies the conflicts into history and removes them from
	// the live table in one transaction
	MoveToHistory(ctx context.Context, conflicts []*Conflict) (int64, error)
}

// PricingRuleRepository persists pricing rules
type PricingRuleRepository interface {
	Save(ctx context.Context, rule *PricingRule) error
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*PricingRule, error)
	FindActive(ctx context.Context, tenantID uuid.UUID, ruleType RuleType) ([]*PricingRule, error)
	List(ctx context.Context, tenantID uuid.UUID, ruleType RuleType, includeInactive bool) ([]*PricingRule, error)
}

// ProductRepository reads and writes the local catalog and its ERP mirror
type ProductRepository interface {
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*Product, error)
	// FindByIDForUpdate locks the row for the current transaction
	FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*Product, error)
	FindByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*Product, error)
	FindByExternalIDs(ctx context.Context, tenantID uuid.UUID, externalIDs []string) ([]*Product, error)
	// FindChangedSince returns active products whose local row or ERP mirror
	// changed at or after since
	FindChangedSince(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]*Product, error)
	// ListActive pages active products ordered by ID, starting after afterID
	ListActive(ctx context.Context, tenantID uuid.UUID, afterID uuid.UUID, limit int) ([]*Product, error)
	Save(ctx context.Context, p *Product) error
	UpsertErpMirror(ctx context.Context, e *ErpProduct) error
	// ListPairs pages products joined with their ERP mirror, ordered by ID
	ListPairs(ctx context.Context, tenantID uuid.UUID, afterID uuid.UUID, limit int) ([]ProductPair, error)
}

// OrderRepository reads and writes local orders and their ERP mirror
type OrderRepository interface {
	FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*Order, error)
	Save(ctx context.Context, o *Order) error
	UpsertErpMirror(ctx context.Context, e *ErpOrder) error
	ListPairs(ctx context.Context, tenantID uuid.UUID, afterID uuid.UUID, limit int) ([]OrderPair, error)
}

// SettingsRepository persists per-tenant sync settings
type SettingsRepository interface {
	// Find returns the tenant's settings, or shared.ErrNotFound
	Find(ctx context.Context, tenantID uuid.UUID) (*TenantSyncSettings, error)
	Save(ctx context.Context, s *TenantSyncSettings) error
	ListAll(ctx context.Context) ([]TenantSyncSettings, error)
}

// Transactor runs fn in a transaction carried by ctx. Repositories called
// with that ctx join the transaction.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ErpClient is the port to the merchant's ERP.
// Errors are one of the ErrErp* sentinels, possibly wrapped.
type ErpClient interface {
	// FetchPrices returns the ERP state of the given products. Unknown IDs
	// are omitted from the result.
	FetchPrices(ctx context.Context, tenantID uuid.UUID, externalIDs []string) ([]ErpProduct, error)
}
