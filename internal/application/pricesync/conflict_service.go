package pricesync

import (
	"context"
	"errors"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/erp/pricesync/internal/domain/shared"
	"github.com/erp/pricesync/internal/infrastructure/logger"
	"github.com/erp/pricesync/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultDetectPageSize = 200

// ReviewNotifier is told once about each conflict queued for manual review
type ReviewNotifier interface {
	NotifyReview(ctx context.Context, c *pricesync.Conflict) error
}

// LogReviewNotifier writes review notifications to the log
type LogReviewNotifier struct {
	logger *zap.Logger
}

// NewLogReviewNotifier creates a LogReviewNotifier
func NewLogReviewNotifier(logger *zap.Logger) *LogReviewNotifier {
	return &LogReviewNotifier{logger: logger}
}

// NotifyReview implements ReviewNotifier
func (n *LogReviewNotifier) NotifyReview(ctx context.Context, c *pricesync.Conflict) error {
	logger.L(ctx, n.logger).Warn("conflict requires review",
		zap.String("tenant_id", c.TenantID.String()),
		zap.String("conflict_id", c.ID.String()),
		zap.String("type", string(c.Type)),
		zap.String("severity", string(c.Severity)),
		zap.String("entity_id", c.EntityID.String()))
	return nil
}

// ConflictServiceDeps are the collaborators of a ConflictService. Publisher
// and Notifier are optional.
type ConflictServiceDeps struct {
	Conflicts  pricesync.ConflictRepository
	Products   pricesync.ProductRepository
	Orders     pricesync.OrderRepository
	Dispatcher *Dispatcher
	Rules      *RuleCache
	Settings   *SettingsStore
	Tx         pricesync.Transactor
	Publisher  shared.EventPublisher
	Notifier   ReviewNotifier
	Logger     *zap.Logger
	PageSize   int
}

// ConflictService detects, records and closes conflicts
type ConflictService struct {
	deps ConflictServiceDeps
}

// NewConflictService creates a ConflictService
func NewConflictService(deps ConflictServiceDeps) *ConflictService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.PageSize <= 0 {
		deps.PageSize = defaultDetectPageSize
	}
	return &ConflictService{deps: deps}
}

// Raise records c, folding it into an existing pending conflict of the same
// family, and dispatches it. ConflictDetected is published only for new rows.
func (s *ConflictService) Raise(ctx context.Context, c *pricesync.Conflict, settings pricesync.TenantSyncSettings) (*pricesync.Conflict, error) {
	stored, created, err := s.deps.Conflicts.UpsertPending(ctx, c)
	if err != nil {
		return nil, err
	}
	outcome, err := s.deps.Dispatcher.Dispatch(ctx, stored, settings)
	if err != nil {
		return stored, err
	}
	result := outcome.Conflict

	if created {
		s.publish(ctx, pricesync.NewConflictDetectedEvent(result))
	}
	if outcome.Resolved {
		s.publish(ctx, pricesync.NewConflictResolvedEvent(result))
	}
	if outcome.Notify {
		s.notify(ctx, result)
	}
	return result, nil
}

// DetectionSummary counts what one detection pass did
type DetectionSummary struct {
	Pairs        int `json:"pairs"`
	Detected     int `json:"detected"`
	Created      int `json:"created"`
	AutoResolved int `json:"auto_resolved"`
	Retried      int `json:"retried"`
	Errors       int `json:"errors"`
}

// DetectConflicts compares every mirrored product and order of a tenant
// with its local row, records disagreements and retries conflicts whose
// last auto-resolution failed
func (s *ConflictService) DetectConflicts(ctx context.Context, tenantID uuid.UUID) (DetectionSummary, error) {
	ctx = logger.WithTenantID(ctx, tenantID.String())
	ctx, span := telemetry.StartSpan(ctx, "conflict", "detect", telemetry.SpanAttrTenantID, tenantID.String())
	defer span.End()
	log := logger.L(ctx, s.deps.Logger)

	var sum DetectionSummary
	settings := s.deps.Settings.Get(tenantID)
	priceRules, err := s.deps.Rules.Snapshot(ctx, tenantID, pricesync.RuleTypePrice)
	if err != nil {
		return sum, err
	}
	stockRules, err := s.deps.Rules.Snapshot(ctx, tenantID, pricesync.RuleTypeStock)
	if err != nil {
		return sum, err
	}

	after := uuid.Nil
	for {
		pairs, err := s.deps.Products.ListPairs(ctx, tenantID, after, s.deps.PageSize)
		if err != nil {
			telemetry.RecordError(span, err)
			return sum, err
		}
		for _, pair := range pairs {
			sum.Pairs++
			if pair.Erp == nil {
				continue
			}
			expected := expectedFor(pair, priceRules, stockRules)
			for _, c := range pricesync.DetectProductConflicts(pair, expected, settings) {
				if err := s.raiseCounted(ctx, c, settings, &sum); err != nil {
					if ctx.Err() != nil {
						return sum, ctx.Err()
					}
					sum.Errors++
					log.Warn("failed to record conflict", zap.String("entity_id", c.EntityID.String()), zap.Error(err))
				}
			}
		}
		if len(pairs) < s.deps.PageSize {
			break
		}
		after = pairs[len(pairs)-1].Local.ID
	}

	after = uuid.Nil
	for {
		pairs, err := s.deps.Orders.ListPairs(ctx, tenantID, after, s.deps.PageSize)
		if err != nil {
			telemetry.RecordError(span, err)
			return sum, err
		}
		for _, pair := range pairs {
			sum.Pairs++
			c := pricesync.DetectOrderConflict(pair)
			if c == nil {
				continue
			}
			if err := s.raiseCounted(ctx, c, settings, &sum); err != nil {
				if ctx.Err() != nil {
					return sum, ctx.Err()
				}
				sum.Errors++
				log.Warn("failed to record order conflict", zap.String("entity_id", c.EntityID.String()), zap.Error(err))
			}
		}
		if len(pairs) < s.deps.PageSize {
			break
		}
		after = pairs[len(pairs)-1].Local.ID
	}

	if err := s.retryFailed(ctx, tenantID, settings, &sum); err != nil {
		return sum, err
	}

	log.Debug("conflict detection finished",
		zap.Int("pairs", sum.Pairs),
		zap.Int("detected", sum.Detected),
		zap.Int("auto_resolved", sum.AutoResolved),
		zap.Int("errors", sum.Errors))
	return sum, nil
}

// DetectAll runs DetectConflicts for every tenant with sync enabled
func (s *ConflictService) DetectAll(ctx context.Context) error {
	tenants, err := s.deps.Settings.SyncEnabledTenantIDs(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, tenantID := range tenants {
		if _, err := s.DetectConflicts(ctx, tenantID); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *ConflictService) raiseCounted(ctx context.Context, c *pricesync.Conflict, settings pricesync.TenantSyncSettings, sum *DetectionSummary) error {
	sum.Detected++
	stored, err := s.Raise(ctx, c, settings)
	if err != nil {
		return err
	}
	if stored.ID == c.ID {
		sum.Created++
	}
	if stored.Status == pricesync.ConflictStatusResolved {
		sum.AutoResolved++
	}
	return nil
}

func (s *ConflictService) retryFailed(ctx context.Context, tenantID uuid.UUID, settings pricesync.TenantSyncSettings, sum *DetectionSummary) error {
	retryable, err := s.deps.Conflicts.ListRetryable(ctx, tenantID, s.deps.PageSize)
	if err != nil {
		return err
	}
	for _, c := range retryable {
		sum.Retried++
		outcome, err := s.deps.Dispatcher.Dispatch(ctx, c, settings)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			sum.Errors++
			continue
		}
		if outcome.Resolved {
			sum.AutoResolved++
			s.publish(ctx, pricesync.NewConflictResolvedEvent(outcome.Conflict))
		}
		if outcome.Notify {
			s.notify(ctx, outcome.Conflict)
		}
	}
	return nil
}

// ResolveConflict applies an operator's choice to a pending conflict. A
// strategy that declines leaves the conflict pending and reports why.
func (s *ConflictService) ResolveConflict(ctx context.Context, tenantID, conflictID uuid.UUID, req ResolveConflictRequest, resolvedBy string) (*ResolveConflictResult, error) {
	c, err := s.deps.Conflicts.FindByID(ctx, tenantID, conflictID)
	if err != nil {
		return nil, err
	}
	if !c.IsPending() {
		return nil, pricesync.ErrConflictNotPending
	}

	settings := s.deps.Settings.Get(tenantID)
	res, ok, reason, err := s.deps.Dispatcher.Plan(c, settings, req)
	if err != nil {
		return nil, err
	}
	if !ok {
		if c.FlagForReview() {
			if err := s.deps.Conflicts.Save(ctx, c); err != nil {
				return nil, err
			}
			s.notify(ctx, c)
		}
		return &ResolveConflictResult{Success: false, Reason: reason, Conflict: ToConflictResponse(c)}, nil
	}

	res.ResolvedBy = resolvedBy
	resolved, err := s.deps.Dispatcher.Apply(ctx, tenantID, conflictID, res)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, pricesync.NewConflictResolvedEvent(resolved))

	logger.L(ctx, s.deps.Logger).Info("conflict resolved",
		zap.String("conflict_id", conflictID.String()),
		zap.String("chosen_source", res.ChosenSource.String()),
		zap.String("resolved_by", resolvedBy))

	return &ResolveConflictResult{Success: true, Reason: res.Reason, Conflict: ToConflictResponse(resolved)}, nil
}

// IgnoreConflict closes a pending conflict without writing anything back
func (s *ConflictService) IgnoreConflict(ctx context.Context, tenantID, conflictID uuid.UUID, req IgnoreConflictRequest, ignoredBy string) (*ConflictResponse, error) {
	var ignored *pricesync.Conflict
	err := s.deps.Tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		c, err := s.deps.Conflicts.FindByIDForUpdate(txCtx, tenantID, conflictID)
		if err != nil {
			return err
		}
		if err := c.Ignore(req.Reason, ignoredBy); err != nil {
			return err
		}
		if err := s.deps.Conflicts.Save(txCtx, c); err != nil {
			return err
		}
		ignored = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, pricesync.NewConflictResolvedEvent(ignored))
	resp := ToConflictResponse(ignored)
	return &resp, nil
}

// ConflictListFilter narrows conflict listings
type ConflictListFilter struct {
	Status         string `form:"status" binding:"omitempty,conflict_status"`
	Type           string `form:"type" binding:"omitempty,conflict_type"`
	Severity       string `form:"severity" binding:"omitempty,severity"`
	EntityID       string `form:"entity_id" binding:"omitempty,uuid"`
	RequiresReview *bool  `form:"requires_review"`
	Page           int    `form:"page" binding:"omitempty,min=1"`
	PageSize       int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	OrderBy        string `form:"order_by" binding:"omitempty,oneof=created_at detected_at severity"`
	OrderDir       string `form:"order_dir" binding:"omitempty,oneof=asc desc"`
}

// ListConflicts pages a tenant's conflicts
func (s *ConflictService) ListConflicts(ctx context.Context, tenantID uuid.UUID, filter ConflictListFilter) ([]ConflictResponse, int64, error) {
	f := pricesync.ConflictFilter{
		Filter:         shared.DefaultFilter(),
		Status:         pricesync.ConflictStatus(filter.Status),
		Type:           pricesync.ConflictType(filter.Type),
		Severity:       pricesync.Severity(filter.Severity),
		RequiresReview: filter.RequiresReview,
	}
	if filter.Page > 0 {
		f.Page = filter.Page
	}
	if filter.PageSize > 0 {
		f.PageSize = filter.PageSize
	}
	if filter.OrderBy != "" {
		f.OrderBy = filter.OrderBy
	}
	if filter.OrderDir != "" {
		f.OrderDir = filter.OrderDir
	}
	if filter.EntityID != "" {
		id, err := uuid.Parse(filter.EntityID)
		if err != nil {
			return nil, 0, shared.ErrInvalidInput
		}
		f.EntityID = &id
	}

	conflicts, total, err := s.deps.Conflicts.List(ctx, tenantID, f)
	if err != nil {
		return nil, 0, err
	}
	out := make([]ConflictResponse, len(conflicts))
	for i := range conflicts {
		out[i] = ToConflictResponse(&conflicts[i])
	}
	return out, total, nil
}

// GetConflict returns a single conflict
func (s *ConflictService) GetConflict(ctx context.Context, tenantID, conflictID uuid.UUID) (*ConflictResponse, error) {
	c, err := s.deps.Conflicts.FindByID(ctx, tenantID, conflictID)
	if err != nil {
		return nil, err
	}
	resp := ToConflictResponse(c)
	return &resp, nil
}

// PendingProvider adapts the service for the pending-conflict gauge
func (s *ConflictService) PendingProvider() telemetry.PendingConflictProvider {
	return pendingProvider{s: s}
}

type pendingProvider struct {
	s *ConflictService
}

func (p pendingProvider) TenantIDs(_ context.Context) ([]uuid.UUID, error) {
	return p.s.deps.Settings.Snapshot().TenantIDs(), nil
}

func (p pendingProvider) CountPending(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	return p.s.deps.Conflicts.CountPending(ctx, tenantID)
}

func (s *ConflictService) publish(ctx context.Context, event shared.DomainEvent) {
	if s.deps.Publisher == nil {
		return
	}
	if err := s.deps.Publisher.Publish(ctx, event); err != nil {
		logger.L(ctx, s.deps.Logger).Warn("failed to publish event",
			zap.String("event_type", event.EventType()),
			zap.Error(err))
	}
}

func (s *ConflictService) notify(ctx context.Context, c *pricesync.Conflict) {
	if s.deps.Notifier == nil {
		return
	}
	if err := s.deps.Notifier.NotifyReview(ctx, c); err != nil {
		logger.L(ctx, s.deps.Logger).Warn("review notification failed",
			zap.String("conflict_id", c.ID.String()),
			zap.Error(err))
	}
}

// expectedFor runs the tenant's rules over the ERP side of a pair so local
// values are compared against what a sync would have written
func expectedFor(pair pricesync.ProductPair, priceRules, stockRules *pricesync.RuleSnapshot) pricesync.Expected {
	expected := pricesync.ExpectedFromErp(pair.Erp)
	env := pair.Local.RuleEnv(pair.Erp.Price, pair.Erp.Stock)
	if eval, err := pricesync.ApplyRules(priceRules, env, pair.Erp.Price); err == nil {
		expected.Price = eval.FinalValue
	}
	stock := pricesync.ApplyStockRules(stockRules, env, pair.Erp.Stock).FinalValue.IntPart()
	if stock < 0 {
		stock = 0
	}
	expected.Stock = stock
	return expected
}
