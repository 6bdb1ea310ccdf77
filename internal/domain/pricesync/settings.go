package pricesync

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ValuePreference selects the winning side for value_based resolution.
type ValuePreference string

const (
	PreferHigher ValuePreference = "higher"
	PreferLower  ValuePreference = "lower"
)

// Fields a value preference may be configured for
const (
	FieldPrice = "price"
	FieldStock = "stock"
)

// TenantSyncSettings is the per-tenant sync and conflict policy.
type TenantSyncSettings struct {
	TenantID    uuid.UUID
	SyncEnabled bool

	TolerancePercent   decimal.Decimal
	MinAbsoluteChange  decimal.Decimal
	MaxIncreasePercent *decimal.Decimal
	MaxDecreasePercent *decimal.Decimal

	ConflictThresholdPercent decimal.Decimal
	MajorPriceDriftPercent   decimal.Decimal
	StockConflictUnits       int64
	MajorStockDriftUnits     int64
	AttributeSkew            time.Duration

	AutoResolveTypes []ConflictType
	DefaultStrategy  StrategyName
	SourcePriority   FactSource
	ValuePreferences map[string]ValuePreference

	UpdatedAt time.Time
}

// DefaultTenantSyncSettings returns the built-in policy
func DefaultTenantSyncSettings() TenantSyncSettings {
	maxUp := decimal.NewFromInt(50)
	maxDown := decimal.NewFromInt(50)
	return TenantSyncSettings{
		SyncEnabled:              true,
		TolerancePercent:         decimal.RequireFromString("0.5"),
		MinAbsoluteChange:        decimal.RequireFromString("0.50"),
		MaxIncreasePercent:       &maxUp,
		MaxDecreasePercent:       &maxDown,
		ConflictThresholdPercent: decimal.NewFromInt(10),
		MajorPriceDriftPercent:   decimal.NewFromInt(20),
		StockConflictUnits:       5,
		MajorStockDriftUnits:     50,
		AttributeSkew:            5 * time.Minute,
		AutoResolveTypes:         []ConflictType{ConflictPriceMinor, ConflictStockMinor},
		DefaultStrategy:          StrategySmartMerge,
		SourcePriority:           FactSourceERP,
		ValuePreferences: map[string]ValuePreference{
			FieldPrice: PreferLower,
			FieldStock: PreferLower,
		},
	}
}

// ForTenant returns a copy of s bound to tenantID
func (s TenantSyncSettings) ForTenant(tenantID uuid.UUID) TenantSyncSettings {
	out := s.Clone()
	out.TenantID = tenantID
	return out
}

// Clone returns a deep copy
func (s TenantSyncSettings) Clone() TenantSyncSettings {
	out := s
	if s.MaxIncreasePercent != nil {
		v := *s.MaxIncreasePercent
		out.MaxIncreasePercent = &v
	}
	if s.MaxDecreasePercent != nil {
		v := *s.MaxDecreasePercent
		out.MaxDecreasePercent = &v
	}
	out.AutoResolveTypes = append([]ConflictType(nil), s.AutoResolveTypes...)
	out.ValuePreferences = make(map[string]ValuePreference, len(s.ValuePreferences))
	for k, v := range s.ValuePreferences {
		out.ValuePreferences[k] = v
	}
	return out
}

// Validate checks the policy for internally consistent values
func (s TenantSyncSettings) Validate() error {
	if s.TolerancePercent.IsNegative() || s.MinAbsoluteChange.IsNegative() {
		return ErrInvalidSettings
	}
	if s.MaxIncreasePercent != nil && s.MaxIncreasePercent.IsNegative() {
		return ErrInvalidSettings
	}
	if s.MaxDecreasePercent != nil && s.MaxDecreasePercent.IsNegative() {
		return ErrInvalidSettings
	}
	if !s.ConflictThresholdPercent.IsPositive() || s.MajorPriceDriftPercent.LessThan(s.ConflictThresholdPercent) {
		return ErrInvalidSettings
	}
	if s.StockConflictUnits < 0 || s.MajorStockDriftUnits < s.StockConflictUnits {
		return ErrInvalidSettings
	}
	if s.AttributeSkew < 0 {
		return ErrInvalidSettings
	}
	for _, t := range s.AutoResolveTypes {
		if !t.IsValid() {
			return ErrInvalidSettings
		}
	}
	if s.DefaultStrategy != "" && !s.DefaultStrategy.IsValid() {
		return ErrInvalidStrategy
	}
	if s.SourcePriority != FactSourceLocal && s.SourcePriority != FactSourceERP {
		return ErrInvalidSettings
	}
	for _, p := range s.ValuePreferences {
		if p != PreferHigher && p != PreferLower {
			return ErrInvalidSettings
		}
	}
	return nil
}

// ClassifierConfig derives the change classifier bounds
func (s TenantSyncSettings) ClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		TolerancePercent:   s.TolerancePercent,
		MinAbsoluteChange:  s.MinAbsoluteChange,
		MaxIncreasePercent: s.MaxIncreasePercent,
		MaxDecreasePercent: s.MaxDecreasePercent,
	}
}

// AllowsAutoResolve reports whether a conflict type is on the tenant's
// auto-resolution allow-list
func (s TenantSyncSettings) AllowsAutoResolve(t ConflictType) bool {
	for _, allowed := range s.AutoResolveTypes {
		if allowed == t {
			return true
		}
	}
	return false
}

// Preference returns the configured preference for a field, defaulting to lower
func (s TenantSyncSettings) Preference(field string) ValuePreference {
	if p, ok := s.ValuePreferences[field]; ok {
		return p
	}
	return PreferLower
}
