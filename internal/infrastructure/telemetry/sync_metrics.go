package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// PendingConflictProvider reports pending-conflict counts for the periodic
// gauge without tying telemetry to the persistence layer.
type PendingConflictProvider interface {
	TenantIDs(ctx context.Context) ([]uuid.UUID, error)
	CountPending(ctx context.Context, tenantID uuid.UUID) (int64, error)
}

// SyncMetricsConfig holds configuration for sync metrics.
type SyncMetricsConfig struct {
	Meter           metric.Meter
	Logger          *zap.Logger
	CollectInterval time.Duration // Default: 1 minute
	PendingProvider PendingConflictProvider
}

// SyncMetrics records sync job and conflict activity.
type SyncMetrics struct {
	logger *zap.Logger

	jobsTotal         *Counter
	jobDuration       *Histogram
	recordsTotal      *Counter
	conflictsDetected *Counter
	conflictsResolved *Counter
	eventsDropped     *Counter
	pendingConflicts  *Gauge

	interval time.Duration
	provider PendingConflictProvider
	stopChan chan struct{}
	stopOnce sync.Once
	runOnce  sync.Once
}

// NewSyncMetrics registers the sync instruments on cfg.Meter.
func NewSyncMetrics(cfg SyncMetricsConfig) (*SyncMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.CollectInterval
	if interval <= 0 {
		interval = time.Minute
	}

	m := &SyncMetrics{
		logger:   logger,
		interval: interval,
		provider: cfg.PendingProvider,
		stopChan: make(chan struct{}),
	}

	var err error
	if m.jobsTotal, err = NewCounter(cfg.Meter, "pricesync_jobs_total",
		"Sync jobs finished, by cadence and terminal status", "{jobs}"); err != nil {
		return nil, err
	}
	if m.jobDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "pricesync_job_duration_seconds",
		Description: "Wall time of finished sync jobs",
		Unit:        "s",
		Boundaries:  JobDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.recordsTotal, err = NewCounter(cfg.Meter, "pricesync_records_total",
		"Records processed by sync jobs, by outcome", "{records}"); err != nil {
		return nil, err
	}
	if m.conflictsDetected, err = NewCounter(cfg.Meter, "pricesync_conflicts_detected_total",
		"Conflicts newly recorded", "{conflicts}"); err != nil {
		return nil, err
	}
	if m.conflictsResolved, err = NewCounter(cfg.Meter, "pricesync_conflicts_resolved_total",
		"Conflicts resolved or ignored", "{conflicts}"); err != nil {
		return nil, err
	}
	if m.eventsDropped, err = NewCounter(cfg.Meter, "pricesync_events_dropped_total",
		"Domain events the bus could not enqueue", "{events}"); err != nil {
		return nil, err
	}
	if m.pendingConflicts, err = NewGauge(cfg.Meter, "pricesync_conflicts_pending",
		"Conflicts awaiting resolution per tenant", "{conflicts}"); err != nil {
		return nil, err
	}
	return m, nil
}

// JobOutcome summarises a finished job for RecordJob.
type JobOutcome struct {
	TenantID  uuid.UUID
	Cadence   string
	Status    string
	Duration  time.Duration
	Updated   int
	Rejected  int
	Failed    int
	Conflicts int
}

// RecordJob records a finished job and its per-record outcomes.
func (m *SyncMetrics) RecordJob(ctx context.Context, o JobOutcome) {
	attrs := []attribute.KeyValue{AttrCadence.String(o.Cadence), AttrJobStatus.String(o.Status)}
	m.jobsTotal.Inc(ctx, attrs...)
	m.jobDuration.RecordDuration(ctx, o.Duration, attrs...)

	for outcome, n := range map[string]int{
		"updated":  o.Updated,
		"rejected": o.Rejected,
		"failed":   o.Failed,
		"conflict": o.Conflicts,
	} {
		if n > 0 {
			m.recordsTotal.Add(ctx, int64(n), AttrCadence.String(o.Cadence), AttrOutcome.String(outcome))
		}
	}
}

// RecordConflictDetected counts a newly recorded conflict.
func (m *SyncMetrics) RecordConflictDetected(ctx context.Context, conflictType, severity string) {
	m.conflictsDetected.Inc(ctx, AttrConflictType.String(conflictType), AttrSeverity.String(severity))
}

// RecordConflictResolved counts a resolved or ignored conflict. resolvedBy is
// "auto" or "operator".
func (m *SyncMetrics) RecordConflictResolved(ctx context.Context, conflictType, status, resolvedBy string) {
	m.conflictsResolved.Inc(ctx,
		AttrConflictType.String(conflictType),
		AttrJobStatus.String(status),
		AttrResolvedBy.String(resolvedBy),
	)
}

// RecordEventsDropped counts events rejected by a full bus.
func (m *SyncMetrics) RecordEventsDropped(ctx context.Context, n int64) {
	if n > 0 {
		m.eventsDropped.Add(ctx, n)
	}
}

// RecordPendingConflicts sets the pending gauge for a tenant.
func (m *SyncMetrics) RecordPendingConflicts(ctx context.Context, tenantID uuid.UUID, n int64) {
	m.pendingConflicts.Record(ctx, n, AttrTenantID.String(tenantID.String()))
}

// StartCollection refreshes the pending gauge every interval until ctx is
// done or Stop is called. It is a no-op without a provider and runs at most once.
func (m *SyncMetrics) StartCollection(ctx context.Context) {
	if m.provider == nil {
		return
	}
	m.runOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(m.interval)
			defer ticker.Stop()
			m.collect(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-m.stopChan:
					return
				case <-ticker.C:
					m.collect(ctx)
				}
			}
		}()
	})
}

func (m *SyncMetrics) collect(ctx context.Context) {
	tenants, err := m.provider.TenantIDs(ctx)
	if err != nil {
		m.logger.Warn("failed to list tenants for pending conflict gauge", zap.Error(err))
		return
	}
	for _, id := range tenants {
		n, err := m.provider.CountPending(ctx, id)
		if err != nil {
			m.logger.Warn("failed to count pending conflicts",
				zap.String("tenant_id", id.String()),
				zap.Error(err),
			)
			continue
		}
		m.RecordPendingConflicts(ctx, id, n)
	}
}

// Stop ends periodic collection.
func (m *SyncMetrics) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}

// ErrMeterNil is returned when a metrics constructor gets a nil meter.
var ErrMeterNil = &MetricsError{Op: "NewSyncMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}
