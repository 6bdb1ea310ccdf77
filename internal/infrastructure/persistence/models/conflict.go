package models

import (
	"time"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/google/uuid"
)

// ConflictModel is the persistence model for live conflicts.
// TypeFamily groups price_minor/price_major (and the stock pair). The
// migration adds a partial unique index over (tenant_id, entity_id,
// type_family) for pending rows.
type ConflictModel struct {
	TenantModel
	ConflictType        string     `gorm:"type:varchar(30);not null"`
	TypeFamily          string     `gorm:"type:varchar(30);not null"`
	Severity            string     `gorm:"type:varchar(10);not null"`
	EntityType          string     `gorm:"type:varchar(20);not null"`
	EntityID            uuid.UUID  `gorm:"type:uuid;not null;index"`
	ExternalID          string     `gorm:"type:varchar(100)"`
	LocalDataJSON       string     `gorm:"column:local_data;type:jsonb;not null"`
	ExternalDataJSON    string     `gorm:"column:external_data;type:jsonb;not null"`
	DifferencesJSON     string     `gorm:"column:differences;type:jsonb;default:'[]'"`
	DetectedAt          time.Time  `gorm:"not null"`
	Status              string     `gorm:"type:varchar(20);not null;index"`
	ResolutionJSON      *string    `gorm:"column:resolution;type:jsonb"`
	ResolvedAt          *time.Time `gorm:"index"`
	AutoResolutionError string     `gorm:"type:text"`
	RequiresReview      bool       `gorm:"not null;default:false"`
	NotifiedAt          *time.Time
}

// TableName returns the table name for GORM
func (ConflictModel) TableName() string {
	return "conflicts"
}

// TypeFamily returns the dedup key for a conflict type
func TypeFamily(t pricesync.ConflictType) string {
	return string(t.Family()[0])
}

// FromDomain populates the model from a domain Conflict
func (m *ConflictModel) FromDomain(c *pricesync.Conflict) {
	m.TenantModel.FromDomain(c.TenantEntity)
	m.ConflictType = string(c.Type)
	m.TypeFamily = TypeFamily(c.Type)
	m.Severity = string(c.Severity)
	m.EntityType = string(c.EntityType)
	m.EntityID = c.EntityID
	m.ExternalID = c.ExternalID
	m.LocalDataJSON = encodeJSON(c.LocalData, "{}")
	m.ExternalDataJSON = encodeJSON(c.ExternalData, "{}")
	diffs := c.Differences
	if diffs == nil {
		diffs = []pricesync.Difference{}
	}
	m.DifferencesJSON = encodeJSON(diffs, "[]")
	m.DetectedAt = c.DetectedAt
	m.Status = string(c.Status)
	m.ResolutionJSON = nil
	m.ResolvedAt = nil
	if c.Resolution != nil {
		raw := encodeJSON(c.Resolution, "null")
		m.ResolutionJSON = &raw
		at := c.Resolution.ResolvedAt
		m.ResolvedAt = &at
	}
	m.AutoResolutionError = c.AutoResolutionError
	m.RequiresReview = c.RequiresReview
	m.NotifiedAt = c.NotifiedAt
}

// ToDomain converts the model to a domain Conflict
func (m *ConflictModel) ToDomain() *pricesync.Conflict {
	c := &pricesync.Conflict{
		TenantEntity:        m.TenantModel.ToDomain(),
		Type:                pricesync.ConflictType(m.ConflictType),
		Severity:            pricesync.Severity(m.Severity),
		EntityType:          pricesync.EntityType(m.EntityType),
		EntityID:            m.EntityID,
		ExternalID:          m.ExternalID,
		Differences:         []pricesync.Difference{},
		DetectedAt:          m.DetectedAt,
		Status:              pricesync.ConflictStatus(m.Status),
		AutoResolutionError: m.AutoResolutionError,
		RequiresReview:      m.RequiresReview,
		NotifiedAt:          m.NotifiedAt,
	}
	decodeJSON(m.LocalDataJSON, &c.LocalData, "local_data")
	decodeJSON(m.ExternalDataJSON, &c.ExternalData, "external_data")
	decodeJSON(m.DifferencesJSON, &c.Differences, "differences")
	if m.ResolutionJSON != nil {
		var res pricesync.Resolution
		decodeJSON(*m.ResolutionJSON, &res, "resolution")
		if !res.ChosenSource.IsZero() {
			c.Resolution = &res
		}
	}
	return c
}

// ConflictHistoryModel holds archived terminal conflicts
type ConflictHistoryModel struct {
	ConflictModel
	ArchivedAt time.Time `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (ConflictHistoryModel) TableName() string {
	return "conflict_history"
}
