package models

import (
	"time"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SyncJobModel is the persistence model for sync jobs
type SyncJobModel struct {
	TenantModel
	JobType        string     `gorm:"type:varchar(20);not null;index:idx_sync_jobs_tenant_type_status,priority:2"`
	Status         string     `gorm:"type:varchar(20);not null;index:idx_sync_jobs_tenant_type_status,priority:3"`
	TriggeredBy    string     `gorm:"type:varchar(20);not null"`
	TotalCount     int        `gorm:"not null;default:0"`
	ProcessedCount int        `gorm:"not null;default:0"`
	UpdatedCount   int        `gorm:"not null;default:0"`
	FailedCount    int        `gorm:"not null;default:0"`
	StartedAt      *time.Time `gorm:"index"`
	EndedAt        *time.Time
	ErrorDetails   string `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (SyncJobModel) TableName() string {
	return "sync_jobs"
}

// FromDomain populates the model from a domain SyncJob
func (m *SyncJobModel) FromDomain(j *pricesync.SyncJob) {
	m.TenantModel.FromDomain(j.TenantEntity)
	m.JobType = string(j.JobType)
	m.Status = string(j.Status)
	m.TriggeredBy = string(j.TriggeredBy)
	m.TotalCount = j.TotalCount
	m.ProcessedCount = j.ProcessedCount
	m.UpdatedCount = j.UpdatedCount
	m.FailedCount = j.FailedCount
	m.StartedAt = j.StartedAt
	m.EndedAt = j.EndedAt
	m.ErrorDetails = j.ErrorDetails
}

// ToDomain converts the model to a domain SyncJob
func (m *SyncJobModel) ToDomain() *pricesync.SyncJob {
	return &pricesync.SyncJob{
		TenantEntity:   m.TenantModel.ToDomain(),
		JobType:        pricesync.Cadence(m.JobType),
		Status:         pricesync.JobStatus(m.Status),
		TriggeredBy:    pricesync.TriggerSource(m.TriggeredBy),
		TotalCount:     m.TotalCount,
		ProcessedCount: m.ProcessedCount,
		UpdatedCount:   m.UpdatedCount,
		FailedCount:    m.FailedCount,
		StartedAt:      m.StartedAt,
		EndedAt:        m.EndedAt,
		ErrorDetails:   m.ErrorDetails,
	}
}

// PriceHistoryModel is the persistence model for the price audit log.
// Rows are insert-only.
type PriceHistoryModel struct {
	ID               uuid.UUID       `gorm:"type:uuid;primary_key"`
	TenantID         uuid.UUID       `gorm:"type:uuid;not null;index:idx_price_history_entity,priority:1"`
	EntityID         uuid.UUID       `gorm:"type:uuid;not null;index:idx_price_history_entity,priority:2"`
	OldPrice         decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	NewPrice         decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	PercentChange    decimal.Decimal `gorm:"type:decimal(12,4);not null"`
	AmountChange     decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	SyncType         string          `gorm:"type:varchar(30);not null"`
	JobID            *uuid.UUID      `gorm:"type:uuid;index"`
	AppliedRulesJSON string          `gorm:"column:applied_rules;type:jsonb;default:'[]'"`
	ValidationStatus string          `gorm:"type:varchar(20);not null"`
	Reason           string          `gorm:"type:varchar(50)"`
	CreatedAt        time.Time       `gorm:"not null;index:idx_price_history_entity,priority:3"`
}

// TableName returns the table name for GORM
func (PriceHistoryModel) TableName() string {
	return "price_history"
}

// FromDomain populates the model from a domain PriceChange
func (m *PriceHistoryModel) FromDomain(c *pricesync.PriceChange) {
	m.ID = c.ID
	m.TenantID = c.TenantID
	m.EntityID = c.EntityID
	m.OldPrice = c.OldPrice
	m.NewPrice = c.NewPrice
	m.PercentChange = c.PercentChange
	m.AmountChange = c.AmountChange
	m.SyncType = c.SyncType
	m.JobID = c.JobID
	rules := c.AppliedRules
	if rules == nil {
		rules = []uuid.UUID{}
	}
	m.AppliedRulesJSON = encodeJSON(rules, "[]")
	m.ValidationStatus = string(c.ValidationStatus)
	m.Reason = c.Reason
	m.CreatedAt = c.CreatedAt
}

// ToDomain converts the model to a domain PriceChange
func (m *PriceHistoryModel) ToDomain() pricesync.PriceChange {
	c := pricesync.PriceChange{
		ID:               m.ID,
		TenantID:         m.TenantID,
		EntityID:         m.EntityID,
		OldPrice:         m.OldPrice,
		NewPrice:         m.NewPrice,
		PercentChange:    m.PercentChange,
		AmountChange:     m.AmountChange,
		SyncType:         m.SyncType,
		JobID:            m.JobID,
		AppliedRules:     []uuid.UUID{},
		ValidationStatus: pricesync.ValidationStatus(m.ValidationStatus),
		Reason:           m.Reason,
		CreatedAt:        m.CreatedAt,
	}
	decodeJSON(m.AppliedRulesJSON, &c.AppliedRules, "applied_rules")
	return c
}
