package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ConflictDetector sweeps every tenant for conflicts
type ConflictDetector interface {
	DetectAll(ctx context.Context) error
}

// ConflictArchiver moves closed conflicts out of the live table
type ConflictArchiver interface {
	ArchiveTerminal(ctx context.Context) (int64, error)
}

// SettingsReloader rebuilds the tenant settings snapshot
type SettingsReloader interface {
	Reload(ctx context.Context) error
}

// NewConflictSweeper runs conflict detection on interval
func NewConflictSweeper(detector ConflictDetector, interval time.Duration, logger *zap.Logger) (*Periodic, error) {
	return NewPeriodic(PeriodicConfig{
		Name:     "conflict.sweep",
		Interval: interval,
	}, detector.DetectAll, logger)
}

// NewArchiveTrigger archives closed conflicts on interval
func NewArchiveTrigger(archiver ConflictArchiver, interval time.Duration, logger *zap.Logger) (*Periodic, error) {
	return NewPeriodic(PeriodicConfig{
		Name:     "conflict.archive",
		Interval: interval,
		Timeout:  time.Hour,
	}, func(ctx context.Context) error {
		_, err := archiver.ArchiveTerminal(ctx)
		return err
	}, logger)
}

// NewSettingsRefresher reloads tenant settings on interval so instances
// that missed a broadcast converge
func NewSettingsRefresher(reloader SettingsReloader, interval time.Duration, logger *zap.Logger) (*Periodic, error) {
	return NewPeriodic(PeriodicConfig{
		Name:     "settings.refresh",
		Interval: interval,
	}, reloader.Reload, logger)
}
