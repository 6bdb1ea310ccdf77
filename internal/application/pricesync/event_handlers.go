package pricesync

import (
	"context"
	"sync/atomic"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/erp/pricesync/internal/domain/shared"
	"github.com/erp/pricesync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// AuditLogHandler writes every domain event to the log
type AuditLogHandler struct {
	logger *zap.Logger
}

// NewAuditLogHandler creates an AuditLogHandler
func NewAuditLogHandler(logger *zap.Logger) *AuditLogHandler {
	return &AuditLogHandler{logger: logger}
}

// EventTypes returns nil, subscribing to everything
func (h *AuditLogHandler) EventTypes() []string {
	return nil
}

// Handle logs the event
func (h *AuditLogHandler) Handle(_ context.Context, event shared.DomainEvent) error {
	fields := []zap.Field{
		zap.String("event_type", event.EventType()),
		zap.String("event_id", event.EventID().String()),
		zap.String("tenant_id", event.TenantID().String()),
		zap.String("aggregate_type", event.AggregateType()),
		zap.String("aggregate_id", event.AggregateID().String()),
	}
	switch e := event.(type) {
	case *pricesync.SyncJobCompletedEvent:
		fields = append(fields,
			zap.Int("updated", e.Counts.Updated),
			zap.Int("failed", e.Counts.Failed),
			zap.Int("rejected", e.Rejected),
			zap.Int("conflicts", e.Conflicts))
	case *pricesync.SyncJobFailedEvent:
		fields = append(fields, zap.String("error_details", e.ErrorDetails))
	case *pricesync.ConflictDetectedEvent:
		fields = append(fields,
			zap.String("conflict_type", string(e.ConflictType)),
			zap.String("severity", string(e.Severity)))
	case *pricesync.ConflictResolvedEvent:
		fields = append(fields,
			zap.String("status", string(e.Status)),
			zap.String("resolved_by", e.ResolvedBy))
	}
	h.logger.Info("domain event", fields...)
	return nil
}

// DropCounter reports how many events a bus has dropped so far
type DropCounter interface {
	Dropped() int64
}

// MetricsHandler turns conflict events into counters
type MetricsHandler struct {
	metrics  *telemetry.SyncMetrics
	drops    DropCounter
	reported atomic.Int64
}

// NewMetricsHandler creates a MetricsHandler. drops may be nil.
func NewMetricsHandler(metrics *telemetry.SyncMetrics, drops DropCounter) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, drops: drops}
}

// EventTypes returns the conflict and job event types
func (h *MetricsHandler) EventTypes() []string {
	return []string{
		pricesync.EventTypeConflictDetected,
		pricesync.EventTypeConflictResolved,
		pricesync.EventTypeSyncJobCompleted,
		pricesync.EventTypeSyncJobFailed,
	}
}

// Handle records the event
func (h *MetricsHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	switch e := event.(type) {
	case *pricesync.ConflictDetectedEvent:
		h.metrics.RecordConflictDetected(ctx, string(e.ConflictType), string(e.Severity))
	case *pricesync.ConflictResolvedEvent:
		resolvedBy := "operator"
		if e.ResolvedBy == pricesync.ResolvedByAuto {
			resolvedBy = pricesync.ResolvedByAuto
		}
		h.metrics.RecordConflictResolved(ctx, string(e.ConflictType), string(e.Status), resolvedBy)
	}
	h.reportDrops(ctx)
	return nil
}

func (h *MetricsHandler) reportDrops(ctx context.Context) {
	if h.drops == nil {
		return
	}
	total := h.drops.Dropped()
	prev := h.reported.Swap(total)
	if delta := total - prev; delta > 0 {
		h.metrics.RecordEventsDropped(ctx, delta)
	}
}
