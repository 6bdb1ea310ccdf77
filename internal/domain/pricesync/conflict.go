package pricesync

import (
	"time"

	"github.com/erp/pricesync/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ConflictType classifies a disagreement between local and ERP state.
type ConflictType string

const (
	ConflictAttribute   ConflictType = "attribute"
	ConflictPriceMinor  ConflictType = "price_minor"
	ConflictPriceMajor  ConflictType = "price_major"
	ConflictStockMinor  ConflictType = "stock_minor"
	ConflictStockMajor  ConflictType = "stock_major"
	ConflictOrderStatus ConflictType = "order_status"
)

// IsValid returns true if the type is known
func (t ConflictType) IsValid() bool {
	switch t {
	case ConflictAttribute, ConflictPriceMinor, ConflictPriceMajor,
		ConflictStockMinor, ConflictStockMajor, ConflictOrderStatus:
		return true
	}
	return false
}

func (t ConflictType) String() string {
	return string(t)
}

// Family returns the set of types that share one pending slot per entity.
// A price conflict escalating from minor to major updates the same row.
func (t ConflictType) Family() []ConflictType {
	switch t {
	case ConflictPriceMinor, ConflictPriceMajor:
		return []ConflictType{ConflictPriceMinor, ConflictPriceMajor}
	case ConflictStockMinor, ConflictStockMajor:
		return []ConflictType{ConflictStockMinor, ConflictStockMajor}
	}
	return []ConflictType{t}
}

// Severity ranks how risky a conflict is to resolve automatically.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// IsValid returns true if the severity is known
func (s Severity) IsValid() bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh
}

// SeverityFor returns the fixed severity of a conflict type
func SeverityFor(t ConflictType) Severity {
	switch t {
	case ConflictPriceMajor, ConflictStockMajor:
		return SeverityHigh
	case ConflictPriceMinor, ConflictStockMinor, ConflictOrderStatus:
		return SeverityMedium
	}
	return SeverityLow
}

// ConflictStatus is the lifecycle state of a conflict.
type ConflictStatus string

const (
	ConflictStatusPending  ConflictStatus = "pending"
	ConflictStatusResolved ConflictStatus = "resolved"
	ConflictStatusIgnored  ConflictStatus = "ignored"
)

// IsValid returns true if the status is known
func (s ConflictStatus) IsValid() bool {
	return s == ConflictStatusPending || s == ConflictStatusResolved || s == ConflictStatusIgnored
}

// ResolvedByAuto is recorded when the dispatcher resolved a conflict itself.
const ResolvedByAuto = "auto"

// EntityState is one side's view of the conflicting entity.
type EntityState struct {
	Name        string           `json:"name,omitempty"`
	Description string           `json:"description,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Stock       *int64           `json:"stock,omitempty"`
	OrderStatus string           `json:"order_status,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Difference describes one disagreeing field.
type Difference struct {
	Field         string           `json:"field"`
	LocalValue    string           `json:"local_value"`
	ExternalValue string           `json:"external_value"`
	Delta         *decimal.Decimal `json:"delta,omitempty"`
	DeltaPercent  *decimal.Decimal `json:"delta_percent,omitempty"`
}

// Resolution is the outcome recorded on a resolved or ignored conflict.
type Resolution struct {
	Strategy     StrategyName   `json:"strategy,omitempty"`
	ChosenSource ChosenSource   `json:"chosen_source"`
	Data         ResolvedValues `json:"data"`
	Reason       string         `json:"reason,omitempty"`
	ResolvedBy   string         `json:"resolved_by"`
	ResolvedAt   time.Time      `json:"resolved_at"`
}

// Conflict is a recorded disagreement between the local store and the ERP.
type Conflict struct {
	shared.TenantEntity
	Type                ConflictType
	Severity            Severity
	EntityType          EntityType
	EntityID            uuid.UUID
	ExternalID          string
	LocalData           EntityState
	ExternalData        EntityState
	Differences         []Difference
	DetectedAt          time.Time
	Status              ConflictStatus
	Resolution          *Resolution
	AutoResolutionError string
	RequiresReview      bool
	NotifiedAt          *time.Time
}

// NewConflict creates a pending conflict
func NewConflict(
	tenantID uuid.UUID,
	conflictType ConflictType,
	entityType EntityType,
	entityID uuid.UUID,
	externalID string,
	local, external EntityState,
	diffs []Difference,
) (*Conflict, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	if !conflictType.IsValid() {
		return nil, shared.ErrInvalidInput
	}
	c := &Conflict{
		TenantEntity: shared.NewTenantEntity(tenantID),
		Type:         conflictType,
		Severity:     SeverityFor(conflictType),
		EntityType:   entityType,
		EntityID:     entityID,
		ExternalID:   externalID,
		LocalData:    local,
		ExternalData: external,
		Differences:  diffs,
		Status:       ConflictStatusPending,
	}
	c.DetectedAt = c.CreatedAt
	return c, nil
}

// IsPending returns true while the conflict awaits resolution
func (c *Conflict) IsPending() bool {
	return c.Status == ConflictStatusPending
}

// Refresh folds a fresh detection of the same disagreement into c
func (c *Conflict) Refresh(detected *Conflict) {
	c.Type = detected.Type
	c.Severity = detected.Severity
	c.LocalData = detected.LocalData
	c.ExternalData = detected.ExternalData
	c.Differences = detected.Differences
	c.DetectedAt = detected.DetectedAt
	c.Touch()
}

// IsAutoResolvable reports whether the dispatcher may resolve c on its own.
// High severity conflicts always go to manual review.
func (c *Conflict) IsAutoResolvable(settings TenantSyncSettings) bool {
	return c.Severity != SeverityHigh && settings.AllowsAutoResolve(c.Type)
}

// Resolve records a resolution and closes the conflict
func (c *Conflict) Resolve(res Resolution) error {
	if !c.IsPending() {
		return ErrConflictNotPending
	}
	if res.ChosenSource.IsZero() {
		return ErrInvalidChosenSource
	}
	if res.ResolvedAt.IsZero() {
		res.ResolvedAt = time.Now()
	}
	c.Resolution = &res
	c.Status = ConflictStatusResolved
	c.AutoResolutionError = ""
	c.RequiresReview = false
	c.Touch()
	return nil
}

// Ignore closes the conflict without writing anything back
func (c *Conflict) Ignore(reason, ignoredBy string) error {
	if !c.IsPending() {
		return ErrConflictNotPending
	}
	c.Resolution = &Resolution{
		ChosenSource: ChooseLocal(),
		Reason:       reason,
		ResolvedBy:   ignoredBy,
		ResolvedAt:   time.Now(),
	}
	c.Status = ConflictStatusIgnored
	c.RequiresReview = false
	c.Touch()
	return nil
}

// MarkAutoResolutionFailed keeps c pending and records why applying failed
func (c *Conflict) MarkAutoResolutionFailed(reason string) {
	c.AutoResolutionError = reason
	c.Touch()
}

// FlagForReview queues c for an operator. It returns true the first time,
// so callers notify once.
func (c *Conflict) FlagForReview() bool {
	c.RequiresReview = true
	if c.NotifiedAt != nil {
		return false
	}
	now := time.Now()
	c.NotifiedAt = &now
	c.Touch()
	return true
}
