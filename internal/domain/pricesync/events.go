package pricesync

import (
	"time"

	"github.com/erp/pricesync/internal/domain/shared"
	"github.com/google/uuid"
)

// Aggregate type names used on events
const (
	AggregateTypeSyncJob     = "SyncJob"
	AggregateTypeConflict    = "Conflict"
	AggregateTypePricingRule = "PricingRule"
)

// Event type constants
const (
	EventTypeSyncJobStarted      = "SyncJobStarted"
	EventTypeSyncJobCompleted    = "SyncJobCompleted"
	EventTypeSyncJobFailed       = "SyncJobFailed"
	EventTypeConflictDetected    = "ConflictDetected"
	EventTypeConflictResolved    = "ConflictResolved"
	EventTypePricingRulesChanged = "PricingRulesChanged"
)

// SyncJobStartedEvent is published when a job begins running
type SyncJobStartedEvent struct {
	shared.EventEnvelope
	JobID       uuid.UUID     `json:"job_id"`
	Cadence     Cadence       `json:"cadence"`
	TriggeredBy TriggerSource `json:"triggered_by"`
	TotalCount  int           `json:"total_count"`
}

// NewSyncJobStartedEvent creates a SyncJobStartedEvent
func NewSyncJobStartedEvent(job *SyncJob) *SyncJobStartedEvent {
	return &SyncJobStartedEvent{
		EventEnvelope: shared.NewEventEnvelope(EventTypeSyncJobStarted, AggregateTypeSyncJob, job.ID, job.TenantID),
		JobID:         job.ID,
		Cadence:       job.JobType,
		TriggeredBy:   job.TriggeredBy,
		TotalCount:    job.TotalCount,
	}
}

// SyncJobCompletedEvent is published when a job completes, including with
// per-record failures
type SyncJobCompletedEvent struct {
	shared.EventEnvelope
	JobID     uuid.UUID     `json:"job_id"`
	Cadence   Cadence       `json:"cadence"`
	Counts    JobCounts     `json:"counts"`
	Rejected  int           `json:"rejected"`
	Conflicts int           `json:"conflicts"`
	Duration  time.Duration `json:"duration"`
}

// NewSyncJobCompletedEvent creates a SyncJobCompletedEvent
func NewSyncJobCompletedEvent(job *SyncJob) *SyncJobCompletedEvent {
	return &SyncJobCompletedEvent{
		EventEnvelope: shared.NewEventEnvelope(EventTypeSyncJobCompleted, AggregateTypeSyncJob, job.ID, job.TenantID),
		JobID:         job.ID,
		Cadence:       job.JobType,
		Counts:        job.Counts(),
		Duration:      job.Duration(),
	}
}

// SyncJobFailedEvent is published when a job aborts
type SyncJobFailedEvent struct {
	shared.EventEnvelope
	JobID        uuid.UUID     `json:"job_id"`
	Cadence      Cadence       `json:"cadence"`
	Counts       JobCounts     `json:"counts"`
	Rejected     int           `json:"rejected"`
	Conflicts    int           `json:"conflicts"`
	ErrorDetails string        `json:"error_details"`
	Duration     time.Duration `json:"duration"`
}

// NewSyncJobFailedEvent creates a SyncJobFailedEvent
func NewSyncJobFailedEvent(job *SyncJob) *SyncJobFailedEvent {
	return &SyncJobFailedEvent{
		EventEnvelope: shared.NewEventEnvelope(EventTypeSyncJobFailed, AggregateTypeSyncJob, job.ID, job.TenantID),
		JobID:         job.ID,
		Cadence:       job.JobType,
		Counts:        job.Counts(),
		ErrorDetails:  job.ErrorDetails,
		Duration:      job.Duration(),
	}
}

// ConflictDetectedEvent is published once per newly recorded conflict
type ConflictDetectedEvent struct {
	shared.EventEnvelope
	ConflictID     uuid.UUID    `json:"conflict_id"`
	ConflictType   ConflictType `json:"conflict_type"`
	Severity       Severity     `json:"severity"`
	EntityType     EntityType   `json:"entity_type"`
	EntityID       uuid.UUID    `json:"entity_id"`
	RequiresReview bool         `json:"requires_review"`
}

// NewConflictDetectedEvent creates a ConflictDetectedEvent
func NewConflictDetectedEvent(c *Conflict) *ConflictDetectedEvent {
	return &ConflictDetectedEvent{
		EventEnvelope:  shared.NewEventEnvelope(EventTypeConflictDetected, AggregateTypeConflict, c.ID, c.TenantID),
		ConflictID:     c.ID,
		ConflictType:   c.Type,
		Severity:       c.Severity,
		EntityType:     c.EntityType,
		EntityID:       c.EntityID,
		RequiresReview: c.RequiresReview,
	}
}

// ConflictResolvedEvent is published when a conflict is resolved or ignored
type ConflictResolvedEvent struct {
	shared.EventEnvelope
	ConflictID   uuid.UUID      `json:"conflict_id"`
	ConflictType ConflictType   `json:"conflict_type"`
	Status       ConflictStatus `json:"status"`
	Strategy     StrategyName   `json:"strategy,omitempty"`
	ChosenSource SourceKind     `json:"chosen_source"`
	ResolvedBy   string         `json:"resolved_by"`
}

// NewConflictResolvedEvent creates a ConflictResolvedEvent
func NewConflictResolvedEvent(c *Conflict) *ConflictResolvedEvent {
	e := &ConflictResolvedEvent{
		EventEnvelope: shared.NewEventEnvelope(EventTypeConflictResolved, AggregateTypeConflict, c.ID, c.TenantID),
		ConflictID:    c.ID,
		ConflictType:  c.Type,
		Status:        c.Status,
	}
	if c.Resolution != nil {
		e.Strategy = c.Resolution.Strategy
		e.ChosenSource = c.Resolution.ChosenSource.Kind()
		e.ResolvedBy = c.Resolution.ResolvedBy
	}
	return e
}

// PricingRulesChangedEvent is published after any rule write so rule caches
// drop the affected snapshot
type PricingRulesChangedEvent struct {
	shared.EventEnvelope
	RuleID   uuid.UUID `json:"rule_id"`
	RuleType RuleType  `json:"rule_type"`
}

// NewPricingRulesChangedEvent creates a PricingRulesChangedEvent
func NewPricingRulesChangedEvent(rule *PricingRule) *PricingRulesChangedEvent {
	return &PricingRulesChangedEvent{
		EventEnvelope: shared.NewEventEnvelope(EventTypePricingRulesChanged, AggregateTypePricingRule, rule.ID, rule.TenantID),
		RuleID:        rule.ID,
		RuleType:      rule.RuleType,
	}
}
