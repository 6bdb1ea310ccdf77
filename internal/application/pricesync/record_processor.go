package pricesync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/erp/pricesync/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// ConflictRaiser records a conflict and runs it through resolution
type ConflictRaiser interface {
	Raise(ctx context.Context, c *pricesync.Conflict, settings pricesync.TenantSyncSettings) (*pricesync.Conflict, error)
}

// RecordInput is one ERP record paired with the local product it maps to
type RecordInput struct {
	Job        *pricesync.SyncJob
	Local      *pricesync.Product
	Erp        pricesync.ErpProduct
	Settings   pricesync.TenantSyncSettings
	PriceRules *pricesync.RuleSnapshot
	StockRules *pricesync.RuleSnapshot
}

// RecordResult reports what happened to one record. A record may be both
// rejected for price and updated for stock.
type RecordResult struct {
	Updated  bool
	Rejected bool
	Conflict bool
}

// RecordProcessor applies one ERP record to the local catalog
type RecordProcessor struct {
	products  pricesync.ProductRepository
	history   pricesync.PriceHistoryRepository
	tx        pricesync.Transactor
	conflicts ConflictRaiser
	logger    *zap.Logger
}

// NewRecordProcessor creates a RecordProcessor
func NewRecordProcessor(
	products pricesync.ProductRepository,
	history pricesync.PriceHistoryRepository,
	tx pricesync.Transactor,
	conflicts ConflictRaiser,
	logger *zap.Logger,
) *RecordProcessor {
	return &RecordProcessor{
		products:  products,
		history:   history,
		tx:        tx,
		conflicts: conflicts,
		logger:    logger,
	}
}

// Process mirrors the ERP record, evaluates rules, classifies the proposed
// price and writes accepted changes under a row lock. When the stored price
// moved after the job read the product, the proposal is measured against the
// stored price: past the conflict threshold it becomes a conflict, otherwise
// it is classified again and the last applied value wins. Stock is only
// written when nobody else changed it in between.
func (p *RecordProcessor) Process(ctx context.Context, in RecordInput) (RecordResult, error) {
	var result RecordResult
	local := in.Local
	log := logger.L(ctx, p.logger).With(zap.String("entity_id", local.ID.String()))

	mirror := in.Erp
	mirror.TenantID = local.TenantID
	if mirror.ObservedAt.IsZero() {
		mirror.ObservedAt = time.Now()
	}
	if err := p.products.UpsertErpMirror(ctx, &mirror); err != nil {
		return result, fmt.Errorf("mirror erp record: %w", err)
	}

	env := local.RuleEnv(mirror.Price, mirror.Stock)
	proposed := mirror.Price
	priceEval, err := pricesync.ApplyRules(in.PriceRules, env, mirror.Price)
	switch {
	case err == nil:
		proposed = priceEval.FinalValue
	case errors.Is(err, pricesync.ErrInvalidBasePrice):
		// The classifier rejects it as invalid_value below.
	default:
		return result, err
	}
	logSkipped(log, priceEval.Skipped)

	stockEval := pricesync.ApplyStockRules(in.StockRules, env, mirror.Stock)
	logSkipped(log, stockEval.Skipped)
	proposedStock := stockEval.FinalValue.IntPart()
	if proposedStock < 0 {
		proposedStock = 0
	}

	decision := pricesync.Classify(local.Price, proposed, in.Settings.ClassifierConfig())
	jobID := &in.Job.ID
	if decision.Reason.IsRejection() {
		rejected := pricesync.NewPriceChangeFromDecision(local.TenantID, local.ID, jobID, in.Job.JobType,
			local.Price, proposed, decision, priceEval.Applied)
		if err := p.history.Append(ctx, rejected); err != nil {
			return result, fmt.Errorf("record rejected change: %w", err)
		}
		result.Rejected = true
		log.Debug("price change rejected",
			zap.String("reason", string(decision.Reason)),
			zap.String("change_percent", decision.ChangePercent.StringFixed(2)))
	}

	stockChanged := proposedStock != local.Stock
	if !decision.ShouldUpdate && !stockChanged {
		return result, nil
	}

	var (
		current  *pricesync.Product
		conflict *pricesync.Conflict
		updated  bool
	)
	err = p.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		conflict, updated = nil, false
		var err error
		current, err = p.products.FindByIDForUpdate(txCtx, local.TenantID, local.ID)
		if err != nil {
			return err
		}

		applied := decision
		if decision.ShouldUpdate && !current.Price.Equal(local.Price) {
			conflict = pricesync.NewConcurrentPriceConflict(local.TenantID, current, &mirror, proposed, in.Settings)
			if conflict != nil {
				applied = pricesync.ChangeDecision{}
			} else {
				applied = pricesync.Classify(current.Price, proposed, in.Settings.ClassifierConfig())
			}
		}

		dirty := false
		if applied.ShouldUpdate {
			oldPrice := current.Price
			current.SetPrice(proposed)
			change := pricesync.NewPriceChangeFromDecision(local.TenantID, local.ID, jobID, in.Job.JobType,
				oldPrice, proposed, applied, priceEval.Applied)
			if err := p.history.Append(txCtx, change); err != nil {
				return err
			}
			dirty = true
		}
		if stockChanged {
			if current.Stock == local.Stock {
				current.SetStock(proposedStock)
				dirty = true
			} else {
				log.Debug("stock update skipped, stock changed during job")
			}
		}
		if !dirty {
			return nil
		}
		if err := p.products.Save(txCtx, current); err != nil {
			return err
		}
		updated = true
		return nil
	})
	if err != nil {
		return result, err
	}
	result.Updated = updated

	if conflict != nil {
		if _, err := p.conflicts.Raise(ctx, conflict, in.Settings); err != nil {
			return result, fmt.Errorf("raise concurrent write conflict: %w", err)
		}
		result.Conflict = true
	}
	return result, nil
}

func logSkipped(log *zap.Logger, skipped []pricesync.SkippedRule) {
	for _, s := range skipped {
		log.Warn("pricing rule skipped",
			zap.String("rule_id", s.RuleID.String()),
			zap.String("rule_name", s.RuleName),
			zap.Error(s.Err))
	}
}
