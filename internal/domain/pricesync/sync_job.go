package pricesync

import (
	"time"

	"github.com/erp/pricesync/internal/domain/shared"
	"github.com/google/uuid"
)

// Cadence is the schedule class a sync job runs under.
type Cadence string

const (
	CadenceRealtime    Cadence = "realtime"
	CadenceIncremental Cadence = "incremental"
	CadenceBulk        Cadence = "bulk"
)

// AllCadences lists every cadence in scheduling order
func AllCadences() []Cadence {
	return []Cadence{CadenceRealtime, CadenceIncremental, CadenceBulk}
}

// IsValid returns true if the cadence is known
func (c Cadence) IsValid() bool {
	switch c {
	case CadenceRealtime, CadenceIncremental, CadenceBulk:
		return true
	}
	return false
}

func (c Cadence) String() string {
	return string(c)
}

// JobStatus is the lifecycle state of a sync job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsValid returns true if the status is known
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// IsTerminal returns true for completed and failed
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsActive returns true for pending and running
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

func (s JobStatus) String() string {
	return string(s)
}

// TriggerSource records who asked for a job.
type TriggerSource string

const (
	TriggerSchedule TriggerSource = "schedule"
	TriggerManual   TriggerSource = "manual"
	TriggerWebhook  TriggerSource = "webhook"
)

// JobCounts is a progress snapshot for a job.
type JobCounts struct {
	Total     int
	Processed int
	Updated   int
	Failed    int
}

// SyncJob is a single run of one cadence for one tenant.
// Only the task executing the job mutates it.
type SyncJob struct {
	shared.TenantEntity
	JobType        Cadence
	Status         JobStatus
	TriggeredBy    TriggerSource
	TotalCount     int
	ProcessedCount int
	UpdatedCount   int
	FailedCount    int
	StartedAt      *time.Time
	EndedAt        *time.Time
	ErrorDetails   string
}

// NewSyncJob creates a pending job
func NewSyncJob(tenantID uuid.UUID, cadence Cadence, triggeredBy TriggerSource) (*SyncJob, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	if !cadence.IsValid() {
		return nil, ErrInvalidCadence
	}
	if triggeredBy == "" {
		triggeredBy = TriggerManual
	}
	return &SyncJob{
		TenantEntity: shared.NewTenantEntity(tenantID),
		JobType:      cadence,
		Status:       JobStatusPending,
		TriggeredBy:  triggeredBy,
	}, nil
}

// Start moves a pending job to running
func (j *SyncJob) Start(total int) error {
	if j.Status.IsTerminal() {
		return ErrJobTerminal
	}
	if j.Status != JobStatusPending {
		return ErrJobNotPending
	}
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.TotalCount = total
	j.UpdatedAt = now
	return nil
}

// SetTotal records the candidate count once it is known
func (j *SyncJob) SetTotal(total int) error {
	if j.Status != JobStatusRunning {
		return ErrJobNotRunning
	}
	j.TotalCount = total
	j.Touch()
	return nil
}

// RecordProgress overwrites the running counters
func (j *SyncJob) RecordProgress(c JobCounts) error {
	if j.Status.IsTerminal() {
		return ErrJobTerminal
	}
	if j.Status != JobStatusRunning {
		return ErrJobNotRunning
	}
	j.applyCounts(c)
	j.Touch()
	return nil
}

// Complete marks the job completed with final counters
func (j *SyncJob) Complete(c JobCounts) error {
	if j.Status.IsTerminal() {
		return ErrJobTerminal
	}
	if j.Status != JobStatusRunning {
		return ErrJobNotRunning
	}
	now := time.Now()
	j.applyCounts(c)
	j.Status = JobStatusCompleted
	j.EndedAt = &now
	j.UpdatedAt = now
	return nil
}

// Fail marks the job failed. Both pending and running jobs may fail.
func (j *SyncJob) Fail(c JobCounts, details string) error {
	if j.Status.IsTerminal() {
		return ErrJobTerminal
	}
	now := time.Now()
	j.applyCounts(c)
	j.Status = JobStatusFailed
	j.ErrorDetails = details
	j.EndedAt = &now
	j.UpdatedAt = now
	return nil
}

// Counts returns the job's counters
func (j *SyncJob) Counts() JobCounts {
	return JobCounts{
		Total:     j.TotalCount,
		Processed: j.ProcessedCount,
		Updated:   j.UpdatedCount,
		Failed:    j.FailedCount,
	}
}

// Duration returns the elapsed run time, or zero if the job never started
func (j *SyncJob) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if j.EndedAt != nil {
		end = *j.EndedAt
	}
	return end.Sub(*j.StartedAt)
}

func (j *SyncJob) applyCounts(c JobCounts) {
	if c.Total > 0 {
		j.TotalCount = c.Total
	}
	j.ProcessedCount = c.Processed
	j.UpdatedCount = c.Updated
	j.FailedCount = c.Failed
}
