package models

import (
	"time"

	"github.com/erp/pricesync/internal/domain/shared"
	"github.com/google/uuid"
)

// TenantModel holds the columns every tenant-owned table starts with
type TenantModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null;index"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// FromDomain copies identity and timestamps from e
func (m *TenantModel) FromDomain(e shared.TenantEntity) {
	*m = TenantModel(e)
}

// ToDomain is the inverse of FromDomain
func (m *TenantModel) ToDomain() shared.TenantEntity {
	return shared.TenantEntity(*m)
}
