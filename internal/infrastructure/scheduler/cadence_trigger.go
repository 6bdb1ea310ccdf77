package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TenantProvider lists the tenants that scheduled work runs for
type TenantProvider interface {
	SyncEnabledTenantIDs(ctx context.Context) ([]uuid.UUID, error)
}

// SyncRunner starts scheduled sync jobs
type SyncRunner interface {
	// TriggerScheduled starts a job, or reports the one already active
	TriggerScheduled(ctx context.Context, tenantID uuid.UUID, cadence pricesync.Cadence) (jobID uuid.UUID, alreadyRunning bool, err error)
}

// CadenceTriggerConfig holds the tick interval per cadence. A zero interval
// disables that cadence.
type CadenceTriggerConfig struct {
	Intervals map[pricesync.Cadence]time.Duration
}

// CadenceTrigger starts sync jobs for every sync-enabled tenant on each
// cadence's interval. Tenants whose job is still running are skipped.
type CadenceTrigger struct {
	runner  SyncRunner
	tenants TenantProvider
	logger  *zap.Logger
	tasks   []*Periodic
}

// NewCadenceTrigger creates a trigger with one periodic task per enabled cadence
func NewCadenceTrigger(config CadenceTriggerConfig, runner SyncRunner, tenants TenantProvider, logger *zap.Logger) (*CadenceTrigger, error) {
	t := &CadenceTrigger{runner: runner, tenants: tenants, logger: logger}
	for _, cadence := range pricesync.AllCadences() {
		interval := config.Intervals[cadence]
		if interval <= 0 {
			continue
		}
		task, err := NewPeriodic(PeriodicConfig{
			Name:     "sync." + string(cadence),
			Interval: interval,
			Timeout:  time.Minute,
		}, func(ctx context.Context) error {
			return t.Tick(ctx, cadence)
		}, logger)
		if err != nil {
			return nil, err
		}
		t.tasks = append(t.tasks, task)
	}
	if len(t.tasks) == 0 {
		return nil, fmt.Errorf("%w: no cadence has an interval", ErrInvalidConfig)
	}
	return t, nil
}

// Start starts every cadence loop
func (t *CadenceTrigger) Start(ctx context.Context) error {
	for _, task := range t.tasks {
		if err := task.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stop stops every cadence loop
func (t *CadenceTrigger) Stop(ctx context.Context) error {
	var errs []error
	for _, task := range t.tasks {
		if err := task.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns the run history of each cadence loop
func (t *CadenceTrigger) Stats() []PeriodicStats {
	out := make([]PeriodicStats, len(t.tasks))
	for i, task := range t.tasks {
		out[i] = task.Stats()
	}
	return out
}

// Tick starts a cadence's job for every sync-enabled tenant
func (t *CadenceTrigger) Tick(ctx context.Context, cadence pricesync.Cadence) error {
	tenantIDs, err := t.tenants.SyncEnabledTenantIDs(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}

	started, skipped := 0, 0
	var failed []error
	for _, tenantID := range tenantIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		jobID, running, err := t.runner.TriggerScheduled(ctx, tenantID, cadence)
		switch {
		case err == nil && running:
			skipped++
			t.logger.Debug("Sync still running, skipping tick",
				zap.String("tenant_id", tenantID.String()),
				zap.String("cadence", string(cadence)),
				zap.String("job_id", jobID.String()),
			)
		case err == nil:
			started++
		case errors.Is(err, pricesync.ErrSyncAlreadyRunning), errors.Is(err, pricesync.ErrSyncDisabled):
			skipped++
		default:
			failed = append(failed, fmt.Errorf("tenant %s: %w", tenantID, err))
		}
	}

	if started > 0 || len(failed) > 0 {
		t.logger.Info("Scheduled sync tick",
			zap.String("cadence", string(cadence)),
			zap.Int("tenants", len(tenantIDs)),
			zap.Int("started", started),
			zap.Int("skipped", skipped),
			zap.Int("failed", len(failed)),
		)
	}
	return errors.Join(failed...)
}
