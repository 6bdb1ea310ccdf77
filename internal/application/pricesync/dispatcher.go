package pricesync

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/erp/pricesync/internal/infrastructure/logger"
	"github.com/erp/pricesync/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DispatchOutcome reports what the dispatcher did with a pending conflict
type DispatchOutcome struct {
	Conflict *pricesync.Conflict
	Resolved bool
	// Notify is set the first time a conflict is queued for review
	Notify bool
}

// Dispatcher routes pending conflicts to a resolution strategy, or to
// manual review, and applies resolutions to the local store
type Dispatcher struct {
	conflicts  pricesync.ConflictRepository
	products   pricesync.ProductRepository
	orders     pricesync.OrderRepository
	history    pricesync.PriceHistoryRepository
	tx         pricesync.Transactor
	strategies *pricesync.StrategyRegistry
	logger     *zap.Logger
}

// NewDispatcher creates a Dispatcher
func NewDispatcher(
	conflicts pricesync.ConflictRepository,
	products pricesync.ProductRepository,
	orders pricesync.OrderRepository,
	history pricesync.PriceHistoryRepository,
	tx pricesync.Transactor,
	strategies *pricesync.StrategyRegistry,
	logger *zap.Logger,
) *Dispatcher {
	if strategies == nil {
		strategies = pricesync.NewStrategyRegistry()
	}
	return &Dispatcher{
		conflicts:  conflicts,
		products:   products,
		orders:     orders,
		history:    history,
		tx:         tx,
		strategies: strategies,
		logger:     logger,
	}
}

// Dispatch auto-resolves c when the tenant allows it and the default
// strategy reaches a verdict. Otherwise c is flagged for review. A failed
// write-back leaves c pending with the failure recorded, for the next sweep
// to retry.
func (d *Dispatcher) Dispatch(ctx context.Context, c *pricesync.Conflict, settings pricesync.TenantSyncSettings) (DispatchOutcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "conflict", "dispatch",
		telemetry.SpanAttrConflictID, c.ID.String(),
		telemetry.SpanAttrEntityID, c.EntityID.String(),
	)
	defer span.End()
	log := logger.L(ctx, d.logger).With(zap.String("conflict_id", c.ID.String()))

	if c.IsAutoResolvable(settings) {
		decision, err := d.strategies.Resolve(c, settings, "")
		if err != nil {
			telemetry.RecordError(span, err)
			return DispatchOutcome{}, err
		}
		telemetry.SetAttributes(span, telemetry.SpanAttrStrategy, string(decision.Strategy))
		if decision.Success {
			res := pricesync.Resolution{
				Strategy:     decision.Strategy,
				ChosenSource: decision.ChosenSource,
				Data:         decision.Data,
				Reason:       decision.Reason,
				ResolvedBy:   pricesync.ResolvedByAuto,
			}
			resolved, err := d.Apply(ctx, c.TenantID, c.ID, res)
			if err == nil {
				log.Info("conflict auto-resolved",
					zap.String("strategy", string(decision.Strategy)),
					zap.String("chosen_source", decision.ChosenSource.String()))
				return DispatchOutcome{Conflict: resolved, Resolved: true}, nil
			}
			if errors.Is(err, pricesync.ErrConflictNotPending) {
				return DispatchOutcome{Conflict: c}, nil
			}
			telemetry.RecordError(span, err)
			log.Warn("auto-resolution failed", zap.Error(err))
			failed, markErr := d.markFailed(ctx, c, err)
			if markErr != nil {
				return DispatchOutcome{}, markErr
			}
			return DispatchOutcome{Conflict: failed}, nil
		}
		log.Debug("strategy deferred to review", zap.String("reason", decision.Reason))
	}

	first := c.FlagForReview()
	if err := d.conflicts.Save(ctx, c); err != nil {
		return DispatchOutcome{}, err
	}
	return DispatchOutcome{Conflict: c, Notify: first}, nil
}

// Plan turns an operator request into a resolution. ok is false when the
// requested strategy declines, with reason saying why.
func (d *Dispatcher) Plan(c *pricesync.Conflict, settings pricesync.TenantSyncSettings, req ResolveConflictRequest) (res pricesync.Resolution, ok bool, reason string, err error) {
	if req.ChosenSource != "" {
		source, err := pricesync.ParseChosenSource(req.ChosenSource, req.CustomData)
		if err != nil {
			return res, false, "", err
		}
		res = pricesync.Resolution{ChosenSource: source, Reason: req.Reason}
		switch source.Kind() {
		case pricesync.SourceLocal:
			res.Data = pricesync.ValuesForConflict(c.Type, c.LocalData)
		case pricesync.SourceERP:
			res.Data = pricesync.ValuesForConflict(c.Type, c.ExternalData)
		case pricesync.SourceMerged:
			decision, err := d.strategies.Resolve(c, settings, pricesync.StrategySmartMerge)
			if err != nil {
				return res, false, "", err
			}
			if !decision.Success {
				return res, false, decision.Reason, nil
			}
			res.Strategy = pricesync.StrategySmartMerge
			res.Data = decision.Data
		case pricesync.SourceCustom:
			res.Data, _ = source.Custom()
		}
		return res, true, "", nil
	}

	decision, err := d.strategies.Resolve(c, settings, pricesync.StrategyName(req.Strategy))
	if err != nil {
		return res, false, "", err
	}
	if !decision.Success {
		return res, false, decision.Reason, nil
	}
	reason = req.Reason
	if reason == "" {
		reason = decision.Reason
	}
	return pricesync.Resolution{
		Strategy:     decision.Strategy,
		ChosenSource: decision.ChosenSource,
		Data:         decision.Data,
		Reason:       reason,
	}, true, "", nil
}

// Apply writes res back to the local entity and closes the conflict in one
// transaction. The conflict row is locked first so concurrent resolutions
// serialise and only one succeeds.
func (d *Dispatcher) Apply(ctx context.Context, tenantID, conflictID uuid.UUID, res pricesync.Resolution) (*pricesync.Conflict, error) {
	var out *pricesync.Conflict
	err := d.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		c, err := d.conflicts.FindByIDForUpdate(txCtx, tenantID, conflictID)
		if err != nil {
			return err
		}
		if !c.IsPending() {
			return pricesync.ErrConflictNotPending
		}
		if err := d.writeBack(txCtx, c, res.Data); err != nil {
			return err
		}
		if err := c.Resolve(res); err != nil {
			return err
		}
		if err := d.conflicts.Save(txCtx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Dispatcher) writeBack(ctx context.Context, c *pricesync.Conflict, data pricesync.ResolvedValues) error {
	switch c.EntityType {
	case pricesync.EntityTypeProduct:
		return d.writeProduct(ctx, c, data)
	case pricesync.EntityTypeOrder:
		return d.writeOrder(ctx, c, data)
	}
	return fmt.Errorf("unsupported entity type %q", c.EntityType)
}

// writeProduct refuses to overwrite a field that changed locally since the
// conflict was recorded
func (d *Dispatcher) writeProduct(ctx context.Context, c *pricesync.Conflict, data pricesync.ResolvedValues) error {
	p, err := d.products.FindByIDForUpdate(ctx, c.TenantID, c.EntityID)
	if err != nil {
		return err
	}
	seen := c.LocalData
	changed := false

	if data.Price != nil && !data.Price.Equal(p.Price) {
		if seen.Price != nil && !seen.Price.Equal(p.Price) {
			return pricesync.ErrConcurrentLocalWrite
		}
		if !data.Price.IsPositive() {
			return pricesync.ErrInvalidBasePrice
		}
		oldPrice := p.Price
		p.SetPrice(*data.Price)
		if err := d.history.Append(ctx, pricesync.NewResolutionPriceChange(c.TenantID, p.ID, oldPrice, *data.Price)); err != nil {
			return err
		}
		changed = true
	}
	if data.Stock != nil && *data.Stock != p.Stock {
		if seen.Stock != nil && *seen.Stock != p.Stock {
			return pricesync.ErrConcurrentLocalWrite
		}
		p.SetStock(*data.Stock)
		changed = true
	}
	if data.Name != nil || data.Description != nil {
		name, desc := p.Name, p.Description
		if data.Name != nil {
			name = *data.Name
		}
		if data.Description != nil {
			desc = *data.Description
		}
		if name != p.Name || desc != p.Description {
			if c.Type == pricesync.ConflictAttribute && (seen.Name != p.Name || seen.Description != p.Description) {
				return pricesync.ErrConcurrentLocalWrite
			}
			p.SetAttributes(name, desc)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return d.products.Save(ctx, p)
}

func (d *Dispatcher) writeOrder(ctx context.Context, c *pricesync.Conflict, data pricesync.ResolvedValues) error {
	if data.OrderStatus == nil {
		return nil
	}
	o, err := d.orders.FindByIDForUpdate(ctx, c.TenantID, c.EntityID)
	if err != nil {
		return err
	}
	if *data.OrderStatus == o.Status {
		return nil
	}
	if c.LocalData.OrderStatus != "" && c.LocalData.OrderStatus != o.Status {
		return pricesync.ErrConcurrentLocalWrite
	}
	o.SetStatus(*data.OrderStatus)
	return d.orders.Save(ctx, o)
}

// markFailed reloads c outside the failed transaction and records the error
func (d *Dispatcher) markFailed(ctx context.Context, c *pricesync.Conflict, cause error) (*pricesync.Conflict, error) {
	current, err := d.conflicts.FindByID(ctx, c.TenantID, c.ID)
	if err != nil {
		return nil, err
	}
	if !current.IsPending() {
		return current, nil
	}
	current.MarkAutoResolutionFailed(cause.Error())
	if err := d.conflicts.Save(ctx, current); err != nil {
		return nil, err
	}
	return current, nil
}
