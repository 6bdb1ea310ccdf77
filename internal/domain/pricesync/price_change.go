package pricesync

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ValidationStatus records whether a proposed price change was applied.
type ValidationStatus string

const (
	ValidationValidated ValidationStatus = "validated"
	ValidationRejected  ValidationStatus = "rejected"
)

// ReasonConflictResolution is the reason recorded for write-backs made while
// resolving a conflict.
const ReasonConflictResolution = "conflict_resolution"

// PriceChange is an append-only audit row for every applied or rejected
// price change.
type PriceChange struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	EntityID         uuid.UUID
	OldPrice         decimal.Decimal
	NewPrice         decimal.Decimal
	PercentChange    decimal.Decimal
	AmountChange     decimal.Decimal
	SyncType         string
	JobID            *uuid.UUID
	AppliedRules     []uuid.UUID
	ValidationStatus ValidationStatus
	Reason           string
	CreatedAt        time.Time
}

// NewPriceChangeFromDecision builds the audit row for a classifier decision
func NewPriceChangeFromDecision(
	tenantID, entityID uuid.UUID,
	jobID *uuid.UUID,
	cadence Cadence,
	oldPrice, newPrice decimal.Decimal,
	decision ChangeDecision,
	appliedRules []AppliedRule,
) *PriceChange {
	status := ValidationValidated
	if !decision.ShouldUpdate {
		status = ValidationRejected
	}
	ids := make([]uuid.UUID, 0, len(appliedRules))
	for _, r := range appliedRules {
		ids = append(ids, r.RuleID)
	}
	return &PriceChange{
		ID:               uuid.New(),
		TenantID:         tenantID,
		EntityID:         entityID,
		OldPrice:         oldPrice,
		NewPrice:         newPrice,
		PercentChange:    decision.ChangePercent,
		AmountChange:     decision.ChangeAmount,
		SyncType:         string(cadence),
		JobID:            jobID,
		AppliedRules:     ids,
		ValidationStatus: status,
		Reason:           string(decision.Reason),
		CreatedAt:        time.Now(),
	}
}

// NewResolutionPriceChange builds the audit row for a conflict write-back
func NewResolutionPriceChange(tenantID, entityID uuid.UUID, oldPrice, newPrice decimal.Decimal) *PriceChange {
	amount := newPrice.Sub(oldPrice)
	return &PriceChange{
		ID:               uuid.New(),
		TenantID:         tenantID,
		EntityID:         entityID,
		OldPrice:         oldPrice,
		NewPrice:         newPrice,
		PercentChange:    percentOf(amount, oldPrice),
		AmountChange:     amount,
		SyncType:         ReasonConflictResolution,
		AppliedRules:     []uuid.UUID{},
		ValidationStatus: ValidationValidated,
		Reason:           ReasonConflictResolution,
		CreatedAt:        time.Now(),
	}
}
