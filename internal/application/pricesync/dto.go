package pricesync

import (
	"time"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TriggerSyncRequest asks for a sync job on one cadence
type TriggerSyncRequest struct {
	TenantID    uuid.UUID
	Cadence     pricesync.Cadence
	EntityIDs   []uuid.UUID
	ExternalIDs []string
	TriggeredBy pricesync.TriggerSource
}

// TriggerSyncResult identifies the job that is, or already was, running
type TriggerSyncResult struct {
	JobID          uuid.UUID `json:"job_id"`
	AlreadyRunning bool      `json:"already_running"`
}

// SyncJobResponse represents a sync job in API responses
type SyncJobResponse struct {
	ID             uuid.UUID  `json:"id"`
	TenantID       uuid.UUID  `json:"tenant_id"`
	JobType        string     `json:"job_type"`
	Status         string     `json:"status"`
	TriggeredBy    string     `json:"triggered_by"`
	TotalCount     int        `json:"total_count"`
	ProcessedCount int        `json:"processed_count"`
	UpdatedCount   int        `json:"updated_count"`
	FailedCount    int        `json:"failed_count"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	ErrorDetails   string     `json:"error_details,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ToSyncJobResponse converts a domain job to a response
func ToSyncJobResponse(j *pricesync.SyncJob) SyncJobResponse {
	return SyncJobResponse{
		ID:             j.ID,
		TenantID:       j.TenantID,
		JobType:        string(j.JobType),
		Status:         string(j.Status),
		TriggeredBy:    string(j.TriggeredBy),
		TotalCount:     j.TotalCount,
		ProcessedCount: j.ProcessedCount,
		UpdatedCount:   j.UpdatedCount,
		FailedCount:    j.FailedCount,
		StartedAt:      j.StartedAt,
		EndedAt:        j.EndedAt,
		ErrorDetails:   j.ErrorDetails,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

// ConflictResponse represents a conflict in API responses
type ConflictResponse struct {
	ID                  uuid.UUID                `json:"id"`
	TenantID            uuid.UUID                `json:"tenant_id"`
	Type                string                   `json:"type"`
	Severity            string                   `json:"severity"`
	EntityType          string                   `json:"entity_type"`
	EntityID            uuid.UUID                `json:"entity_id"`
	ExternalID          string                   `json:"external_id,omitempty"`
	LocalData           pricesync.EntityState    `json:"local_data"`
	ExternalData        pricesync.EntityState    `json:"external_data"`
	Differences         []pricesync.Difference   `json:"differences"`
	DetectedAt          time.Time                `json:"detected_at"`
	Status              string                   `json:"status"`
	Resolution          *pricesync.Resolution    `json:"resolution,omitempty"`
	AutoResolutionError string                   `json:"auto_resolution_error,omitempty"`
	RequiresReview      bool                     `json:"requires_review"`
	NotifiedAt          *time.Time               `json:"notified_at,omitempty"`
	CreatedAt           time.Time                `json:"created_at"`
	UpdatedAt           time.Time                `json:"updated_at"`
}

// ToConflictResponse converts a domain conflict to a response
func ToConflictResponse(c *pricesync.Conflict) ConflictResponse {
	diffs := c.Differences
	if diffs == nil {
		diffs = []pricesync.Difference{}
	}
	return ConflictResponse{
		ID:                  c.ID,
		TenantID:            c.TenantID,
		Type:                string(c.Type),
		Severity:            string(c.Severity),
		EntityType:          string(c.EntityType),
		EntityID:            c.EntityID,
		ExternalID:          c.ExternalID,
		LocalData:           c.LocalData,
		ExternalData:        c.ExternalData,
		Differences:         diffs,
		DetectedAt:          c.DetectedAt,
		Status:              string(c.Status),
		Resolution:          c.Resolution,
		AutoResolutionError: c.AutoResolutionError,
		RequiresReview:      c.RequiresReview,
		NotifiedAt:          c.NotifiedAt,
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
	}
}

// ResolveConflictRequest carries an operator's resolution. An explicit
// ChosenSource overrides Strategy.
type ResolveConflictRequest struct {
	Strategy     string                    `json:"strategy" binding:"omitempty,strategy"`
	ChosenSource string                    `json:"chosen_source" binding:"omitempty,chosen_source"`
	CustomData   *pricesync.ResolvedValues `json:"custom_data"`
	Reason       string                    `json:"reason" binding:"max=500"`
}

// ResolveConflictResult reports whether the conflict was closed
type ResolveConflictResult struct {
	Success  bool             `json:"success"`
	Reason   string           `json:"reason,omitempty"`
	Conflict ConflictResponse `json:"conflict"`
}

// IgnoreConflictRequest closes a conflict without writing anything back
type IgnoreConflictRequest struct {
	Reason string `json:"reason" binding:"required,min=1,max=500"`
}

// RuleActionRequest is one action of a pricing rule
type RuleActionRequest struct {
	Type  string           `json:"type" validate:"required,oneof=percentage_markup percentage_discount fixed_markup fixed_discount clamp"`
	Value *decimal.Decimal `json:"value"`
	Min   *decimal.Decimal `json:"min"`
	Max   *decimal.Decimal `json:"max"`
}

// UpsertPricingRuleRequest creates a rule, or replaces one when ID is set
type UpsertPricingRuleRequest struct {
	ID          *uuid.UUID          `json:"id"`
	Name        string              `json:"name" validate:"required,min=1,max=100"`
	Description string              `json:"description" validate:"max=2000"`
	RuleType    string              `json:"rule_type" validate:"required,oneof=price stock"`
	Priority    int                 `json:"priority" validate:"gte=-1000,lte=1000"`
	Conditions  string              `json:"conditions" validate:"max=2000"`
	Actions     []RuleActionRequest `json:"actions" validate:"required,min=1,max=20,dive"`
	IsActive    *bool               `json:"is_active"`
}

// PricingRuleResponse represents a pricing rule in API responses
type PricingRuleResponse struct {
	ID          uuid.UUID              `json:"id"`
	TenantID    uuid.UUID              `json:"tenant_id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	RuleType    string                 `json:"rule_type"`
	Priority    int                    `json:"priority"`
	Conditions  string                 `json:"conditions"`
	Actions     []pricesync.RuleAction `json:"actions"`
	IsActive    bool                   `json:"is_active"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// ToPricingRuleResponse converts a domain rule to a response
func ToPricingRuleResponse(r *pricesync.PricingRule) PricingRuleResponse {
	return PricingRuleResponse{
		ID:          r.ID,
		TenantID:    r.TenantID,
		Name:        r.Name,
		Description: r.Description,
		RuleType:    string(r.RuleType),
		Priority:    r.Priority,
		Conditions:  r.Conditions,
		Actions:     r.Actions,
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// PriceChangeResponse represents a price history row
type PriceChangeResponse struct {
	ID               uuid.UUID       `json:"id"`
	EntityID         uuid.UUID       `json:"entity_id"`
	OldPrice         decimal.Decimal `json:"old_price"`
	NewPrice         decimal.Decimal `json:"new_price"`
	PercentChange    decimal.Decimal `json:"percent_change"`
	AmountChange     decimal.Decimal `json:"amount_change"`
	SyncType         string          `json:"sync_type"`
	JobID            *uuid.UUID      `json:"job_id,omitempty"`
	AppliedRules     []uuid.UUID     `json:"applied_rules"`
	ValidationStatus string          `json:"validation_status"`
	Reason           string          `json:"reason"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ToPriceChangeResponse converts a history row to a response
func ToPriceChangeResponse(c pricesync.PriceChange) PriceChangeResponse {
	return PriceChangeResponse{
		ID:               c.ID,
		EntityID:         c.EntityID,
		OldPrice:         c.OldPrice,
		NewPrice:         c.NewPrice,
		PercentChange:    c.PercentChange,
		AmountChange:     c.AmountChange,
		SyncType:         c.SyncType,
		JobID:            c.JobID,
		AppliedRules:     c.AppliedRules,
		ValidationStatus: string(c.ValidationStatus),
		Reason:           c.Reason,
		CreatedAt:        c.CreatedAt,
	}
}

// SettingsRequest replaces a tenant's sync settings. Nil fields keep their
// current value.
type SettingsRequest struct {
	SyncEnabled              *bool             `json:"sync_enabled"`
	TolerancePercent         *decimal.Decimal  `json:"tolerance_percent" binding:"omitempty,gte=0,lte=100"`
	MinAbsoluteChange        *decimal.Decimal  `json:"min_absolute_change" binding:"omitempty,gte=0"`
	MaxIncreasePercent       *decimal.Decimal  `json:"max_increase_percent" binding:"omitempty,gte=0"`
	MaxDecreasePercent       *decimal.Decimal  `json:"max_decrease_percent" binding:"omitempty,gte=0,lte=100"`
	ConflictThresholdPercent *decimal.Decimal  `json:"conflict_threshold_percent" binding:"omitempty,decimal_gt0"`
	MajorPriceDriftPercent   *decimal.Decimal  `json:"major_price_drift_percent" binding:"omitempty,decimal_gt0"`
	StockConflictUnits       *int64            `json:"stock_conflict_units" binding:"omitempty,gte=0"`
	MajorStockDriftUnits     *int64            `json:"major_stock_drift_units" binding:"omitempty,gte=0"`
	AttributeSkewSeconds     *int64            `json:"attribute_skew_seconds" binding:"omitempty,gte=0"`
	AutoResolveTypes         []string          `json:"auto_resolve_types" binding:"omitempty,dive,conflict_type"`
	DefaultStrategy          *string           `json:"default_strategy" binding:"omitempty,strategy"`
	SourcePriority           *string           `json:"source_priority" binding:"omitempty,oneof=local erp"`
	ValuePreferences         map[string]string `json:"value_preferences"`
}

// SettingsResponse represents tenant sync settings
type SettingsResponse struct {
	TenantID                 uuid.UUID         `json:"tenant_id"`
	SyncEnabled              bool              `json:"sync_enabled"`
	TolerancePercent         decimal.Decimal   `json:"tolerance_percent"`
	MinAbsoluteChange        decimal.Decimal   `json:"min_absolute_change"`
	MaxIncreasePercent       *decimal.Decimal  `json:"max_increase_percent"`
	MaxDecreasePercent       *decimal.Decimal  `json:"max_decrease_percent"`
	ConflictThresholdPercent decimal.Decimal   `json:"conflict_threshold_percent"`
	MajorPriceDriftPercent   decimal.Decimal   `json:"major_price_drift_percent"`
	StockConflictUnits       int64             `json:"stock_conflict_units"`
	MajorStockDriftUnits     int64             `json:"major_stock_drift_units"`
	AttributeSkewSeconds     int64             `json:"attribute_skew_seconds"`
	AutoResolveTypes         []string          `json:"auto_resolve_types"`
	DefaultStrategy          string            `json:"default_strategy"`
	SourcePriority           string            `json:"source_priority"`
	ValuePreferences         map[string]string `json:"value_preferences"`
	UpdatedAt                time.Time         `json:"updated_at"`
}

// ToSettingsResponse converts settings to a response
func ToSettingsResponse(s pricesync.TenantSyncSettings) SettingsResponse {
	types := make([]string, len(s.AutoResolveTypes))
	for i, t := range s.AutoResolveTypes {
		types[i] = string(t)
	}
	prefs := make(map[string]string, len(s.ValuePreferences))
	for k, v := range s.ValuePreferences {
		prefs[k] = string(v)
	}
	return SettingsResponse{
		TenantID:                 s.TenantID,
		SyncEnabled:              s.SyncEnabled,
		TolerancePercent:         s.TolerancePercent,
		MinAbsoluteChange:        s.MinAbsoluteChange,
		MaxIncreasePercent:       s.MaxIncreasePercent,
		MaxDecreasePercent:       s.MaxDecreasePercent,
		ConflictThresholdPercent: s.ConflictThresholdPercent,
		MajorPriceDriftPercent:   s.MajorPriceDriftPercent,
		StockConflictUnits:       s.StockConflictUnits,
		MajorStockDriftUnits:     s.MajorStockDriftUnits,
		AttributeSkewSeconds:     int64(s.AttributeSkew / time.Second),
		AutoResolveTypes:         types,
		DefaultStrategy:          string(s.DefaultStrategy),
		SourcePriority:           string(s.SourcePriority),
		ValuePreferences:         prefs,
		UpdatedAt:                s.UpdatedAt,
	}
}

// apply overlays the request onto s
func (r SettingsRequest) apply(s pricesync.TenantSyncSettings) pricesync.TenantSyncSettings {
	out := s.Clone()
	if r.SyncEnabled != nil {
		out.SyncEnabled = *r.SyncEnabled
	}
	if r.TolerancePercent != nil {
		out.TolerancePercent = *r.TolerancePercent
	}
	if r.MinAbsoluteChange != nil {
		out.MinAbsoluteChange = *r.MinAbsoluteChange
	}
	if r.MaxIncreasePercent != nil {
		out.MaxIncreasePercent = unboundedIfZero(*r.MaxIncreasePercent)
	}
	if r.MaxDecreasePercent != nil {
		out.MaxDecreasePercent = unboundedIfZero(*r.MaxDecreasePercent)
	}
	if r.ConflictThresholdPercent != nil {
		out.ConflictThresholdPercent = *r.ConflictThresholdPercent
	}
	if r.MajorPriceDriftPercent != nil {
		out.MajorPriceDriftPercent = *r.MajorPriceDriftPercent
	}
	if r.StockConflictUnits != nil {
		out.StockConflictUnits = *r.StockConflictUnits
	}
	if r.MajorStockDriftUnits != nil {
		out.MajorStockDriftUnits = *r.MajorStockDriftUnits
	}
	if r.AttributeSkewSeconds != nil {
		out.AttributeSkew = time.Duration(*r.AttributeSkewSeconds) * time.Second
	}
	if r.AutoResolveTypes != nil {
		out.AutoResolveTypes = make([]pricesync.ConflictType, len(r.AutoResolveTypes))
		for i, t := range r.AutoResolveTypes {
			out.AutoResolveTypes[i] = pricesync.ConflictType(t)
		}
	}
	if r.DefaultStrategy != nil {
		out.DefaultStrategy = pricesync.StrategyName(*r.DefaultStrategy)
	}
	if r.SourcePriority != nil {
		out.SourcePriority = pricesync.FactSource(*r.SourcePriority)
	}
	if r.ValuePreferences != nil {
		out.ValuePreferences = make(map[string]pricesync.ValuePreference, len(r.ValuePreferences))
		for k, v := range r.ValuePreferences {
			out.ValuePreferences[k] = pricesync.ValuePreference(v)
		}
	}
	return out
}

// A zero cap in a request means unbounded
func unboundedIfZero(v decimal.Decimal) *decimal.Decimal {
	if v.IsZero() {
		return nil
	}
	return &v
}

// WebhookPriceEvent is an ERP push notification listing changed products
type WebhookPriceEvent struct {
	TenantID    uuid.UUID `json:"tenant_id" binding:"required"`
	ExternalIDs []string  `json:"external_ids" binding:"required,min=1,max=1000,dive,min=1,max=100"`
}
