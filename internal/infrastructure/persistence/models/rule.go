package models

import (
	"time"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PricingRuleModel is the persistence model for pricing rules
type PricingRuleModel struct {
	TenantModel
	Name        string `gorm:"type:varchar(100);not null"`
	Description string `gorm:"type:text"`
	RuleType    string `gorm:"type:varchar(20);not null;index"`
	Priority    int    `gorm:"not null;default:0"`
	Conditions  string `gorm:"type:text"`
	ActionsJSON string `gorm:"column:actions;type:jsonb;not null"`
	IsActive    bool   `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (PricingRuleModel) TableName() string {
	return "pricing_rules"
}

// FromDomain populates the model from a domain PricingRule
func (m *PricingRuleModel) FromDomain(r *pricesync.PricingRule) {
	m.TenantModel.FromDomain(r.TenantEntity)
	m.Name = r.Name
	m.Description = r.Description
	m.RuleType = string(r.RuleType)
	m.Priority = r.Priority
	m.Conditions = r.Conditions
	m.ActionsJSON = encodeJSON(r.Actions, "[]")
	m.IsActive = r.IsActive
}

// ToDomain converts the model to a domain PricingRule
func (m *PricingRuleModel) ToDomain() *pricesync.PricingRule {
	r := &pricesync.PricingRule{
		TenantEntity: m.TenantModel.ToDomain(),
		Name:         m.Name,
		Description:  m.Description,
		RuleType:     pricesync.RuleType(m.RuleType),
		Priority:     m.Priority,
		Conditions:   m.Conditions,
		Actions:      []pricesync.RuleAction{},
		IsActive:     m.IsActive,
	}
	decodeJSON(m.ActionsJSON, &r.Actions, "actions")
	return r
}

// TenantSyncSettingsModel is the persistence model for per-tenant policy
type TenantSyncSettingsModel struct {
	TenantID                 uuid.UUID        `gorm:"type:uuid;primaryKey"`
	SyncEnabled              bool             `gorm:"not null"`
	TolerancePercent         decimal.Decimal  `gorm:"type:decimal(8,4);not null"`
	MinAbsoluteChange        decimal.Decimal  `gorm:"type:decimal(18,4);not null"`
	MaxIncreasePercent       *decimal.Decimal `gorm:"type:decimal(8,4)"`
	MaxDecreasePercent       *decimal.Decimal `gorm:"type:decimal(8,4)"`
	ConflictThresholdPercent decimal.Decimal  `gorm:"type:decimal(8,4);not null"`
	MajorPriceDriftPercent   decimal.Decimal  `gorm:"type:decimal(8,4);not null"`
	StockConflictUnits       int64            `gorm:"not null"`
	MajorStockDriftUnits     int64            `gorm:"not null"`
	AttributeSkewSeconds     int64            `gorm:"not null"`
	AutoResolveTypesJSON     string           `gorm:"column:auto_resolve_types;type:jsonb;default:'[]'"`
	DefaultStrategy          string           `gorm:"type:varchar(30);not null"`
	SourcePriority           string           `gorm:"type:varchar(10);not null"`
	ValuePreferencesJSON     string           `gorm:"column:value_preferences;type:jsonb;default:'{}'"`
	UpdatedAt                time.Time        `gorm:"not null"`
}

// TableName returns the table name for GORM
func (TenantSyncSettingsModel) TableName() string {
	return "tenant_sync_settings"
}

// FromDomain populates the model from domain settings
func (m *TenantSyncSettingsModel) FromDomain(s *pricesync.TenantSyncSettings) {
	m.TenantID = s.TenantID
	m.SyncEnabled = s.SyncEnabled
	m.TolerancePercent = s.TolerancePercent
	m.MinAbsoluteChange = s.MinAbsoluteChange
	m.MaxIncreasePercent = s.MaxIncreasePercent
	m.MaxDecreasePercent = s.MaxDecreasePercent
	m.ConflictThresholdPercent = s.ConflictThresholdPercent
	m.MajorPriceDriftPercent = s.MajorPriceDriftPercent
	m.StockConflictUnits = s.StockConflictUnits
	m.MajorStockDriftUnits = s.MajorStockDriftUnits
	m.AttributeSkewSeconds = int64(s.AttributeSkew / time.Second)
	types := s.AutoResolveTypes
	if types == nil {
		types = []pricesync.ConflictType{}
	}
	m.AutoResolveTypesJSON = encodeJSON(types, "[]")
	m.DefaultStrategy = string(s.DefaultStrategy)
	m.SourcePriority = string(s.SourcePriority)
	prefs := s.ValuePreferences
	if prefs == nil {
		prefs = map[string]pricesync.ValuePreference{}
	}
	m.ValuePreferencesJSON = encodeJSON(prefs, "{}")
	m.UpdatedAt = s.UpdatedAt
}

// ToDomain converts the model to domain settings
func (m *TenantSyncSettingsModel) ToDomain() pricesync.TenantSyncSettings {
	s := pricesync.TenantSyncSettings{
		TenantID:                 m.TenantID,
		SyncEnabled:              m.SyncEnabled,
		TolerancePercent:         m.TolerancePercent,
		MinAbsoluteChange:        m.MinAbsoluteChange,
		MaxIncreasePercent:       m.MaxIncreasePercent,
		MaxDecreasePercent:       m.MaxDecreasePercent,
		ConflictThresholdPercent: m.ConflictThresholdPercent,
		MajorPriceDriftPercent:   m.MajorPriceDriftPercent,
		StockConflictUnits:       m.StockConflictUnits,
		MajorStockDriftUnits:     m.MajorStockDriftUnits,
		AttributeSkew:            time.Duration(m.AttributeSkewSeconds) * time.Second,
		AutoResolveTypes:         []pricesync.ConflictType{},
		DefaultStrategy:          pricesync.StrategyName(m.DefaultStrategy),
		SourcePriority:           pricesync.FactSource(m.SourcePriority),
		ValuePreferences:         map[string]pricesync.ValuePreference{},
		UpdatedAt:                m.UpdatedAt,
	}
	decodeJSON(m.AutoResolveTypesJSON, &s.AutoResolveTypes, "auto_resolve_types")
	decodeJSON(m.ValuePreferencesJSON, &s.ValuePreferences, "value_preferences")
	return s
}

// All returns every model, in migration order
func All() []any {
	return []any{
		&ProductModel{},
		&ErpProductModel{},
		&OrderModel{},
		&ErpOrderModel{},
		&PricingRuleModel{},
		&TenantSyncSettingsModel{},
		&SyncJobModel{},
		&PriceHistoryModel{},
		&ConflictModel{},
		&ConflictHistoryModel{},
	}
}
