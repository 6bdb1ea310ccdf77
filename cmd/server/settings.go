package main

import (
	"time"

	pricesyncapp "github.com/erp/pricesync/internal/application/pricesync"
	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/erp/pricesync/internal/infrastructure/config"
	"github.com/erp/pricesync/internal/infrastructure/scheduler"
	"github.com/shopspring/decimal"
)

// defaultSettings builds the fallback tenant policy from [pricing]
func defaultSettings(p config.PricingConfig) (pricesync.TenantSyncSettings, error) {
	s := pricesync.DefaultTenantSyncSettings()
	s.TolerancePercent = decimal.NewFromFloat(p.TolerancePercent)
	s.MinAbsoluteChange = decimal.NewFromFloat(p.MinAbsoluteChange)
	s.MaxIncreasePercent = optionalPercent(p.MaxIncreasePercent)
	s.MaxDecreasePercent = optionalPercent(p.MaxDecreasePercent)
	s.ConflictThresholdPercent = decimal.NewFromFloat(p.ConflictThresholdPercent)
	s.MajorPriceDriftPercent = decimal.NewFromFloat(p.MajorPriceDriftPercent)
	s.StockConflictUnits = p.StockConflictUnits
	s.MajorStockDriftUnits = p.MajorStockDriftUnits
	s.AttributeSkew = p.AttributeSkew
	s.DefaultStrategy = pricesync.StrategyName(p.DefaultStrategy)
	s.SourcePriority = pricesync.FactSource(p.SourcePriority)

	s.AutoResolveTypes = make([]pricesync.ConflictType, 0, len(p.AutoResolveTypes))
	for _, t := range p.AutoResolveTypes {
		s.AutoResolveTypes = append(s.AutoResolveTypes, pricesync.ConflictType(t))
	}
	return s, s.Validate()
}

func optionalPercent(v float64) *decimal.Decimal {
	if v <= 0 {
		return nil
	}
	d := decimal.NewFromFloat(v)
	return &d
}

func orchestratorConfig(s config.SyncConfig, erp config.ERPConfig) pricesyncapp.OrchestratorConfig {
	return pricesyncapp.OrchestratorConfig{
		RealtimeBatchSize:    s.RealtimeBatchSize,
		IncrementalBatchSize: s.IncrementalBatchSize,
		BulkBatchSize:        s.BulkBatchSize,
		MaxConcurrentBatches: s.MaxConcurrentBatches,
		BatchStagger:         s.BatchStagger,
		JobTimeout:           s.JobTimeout,
		RealtimeWindow:       s.RealtimeWindow,
		IncrementalLookback:  s.IncrementalLookback,
		ErpRequestTimeout:    erp.RequestTimeout,
		StaleJobAfter:        s.StaleJobAfter,
	}
}

func cadenceIntervals(s config.SyncConfig) scheduler.CadenceTriggerConfig {
	intervals := make(map[pricesync.Cadence]time.Duration, 3)
	for _, c := range pricesync.AllCadences() {
		if d := s.Interval(string(c)); d > 0 {
			intervals[c] = d
		}
	}
	return scheduler.CadenceTriggerConfig{Intervals: intervals}
}
