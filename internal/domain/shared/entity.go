package shared

import (
	"time"

	"github.com/google/uuid"
)

// TenantEntity is the identity and bookkeeping every tenant-owned
// aggregate embeds.
type TenantEntity struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTenantEntity assigns a fresh ID owned by tenantID
func NewTenantEntity(tenantID uuid.UUID) TenantEntity {
	now := time.Now()
	return TenantEntity{ID: uuid.New(), TenantID: tenantID, CreatedAt: now, UpdatedAt: now}
}

// Touch marks the entity as modified now
func (e *TenantEntity) Touch() {
	e.UpdatedAt = time.Now()
}
