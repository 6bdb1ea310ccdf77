package integration

import (
	"context"
	"testing"
	"time"

	pricesyncapp "github.com/erp/pricesync/internal/application/pricesync"
	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/erp/pricesync/internal/domain/shared"
	"github.com/erp/pricesync/internal/infrastructure/cache"
	"github.com/erp/pricesync/internal/infrastructure/erp"
	"github.com/erp/pricesync/internal/infrastructure/event"
	"github.com/erp/pricesync/internal/infrastructure/lock"
	"github.com/erp/pricesync/internal/infrastructure/persistence"
	"github.com/erp/pricesync/tests/testutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type syncStack struct {
	tenantID  uuid.UUID
	erp       *testutil.FakeERP
	events    *testutil.RecordingHandler
	products  *persistence.GormProductRepository
	history   *persistence.GormPriceHistoryRepository
	jobs      *persistence.GormSyncJobRepository
	conflicts *pricesyncapp.ConflictService
	rules     *pricesyncapp.RuleService
	orch      *pricesyncapp.SyncOrchestrator
}

func newSyncStack(t *testing.T) *syncStack {
	t.Helper()
	tdb := NewSharedTestDB(t)
	ctx := context.Background()
	log := zap.NewNop()

	s := &syncStack{
		tenantID: uuid.New(),
		erp:      testutil.NewFakeERP(t),
		events:   testutil.NewRecordingHandler(),
		products: persistence.NewGormProductRepository(tdb.DB),
		history:  persistence.NewGormPriceHistoryRepository(tdb.DB),
		jobs:     persistence.NewGormSyncJobRepository(tdb.DB),
	}
	conflictRepo := persistence.NewGormConflictRepository(tdb.DB)
	orderRepo := persistence.NewGormOrderRepository(tdb.DB)
	ruleRepo := persistence.NewGormPricingRuleRepository(tdb.DB)
	tx := persistence.NewGormTransactor(tdb.DB, persistence.WithRetry(3, 10*time.Millisecond))

	invalidator := cache.NewLocalInvalidator()
	settings := pricesyncapp.NewSettingsStore(persistence.NewGormSettingsRepository(tdb.DB),
		pricesync.DefaultTenantSyncSettings(), invalidator, log)
	_, err := settings.Update(ctx, pricesync.DefaultTenantSyncSettings().ForTenant(s.tenantID))
	require.NoError(t, err)
	ruleCache := pricesyncapp.NewRuleCache(ruleRepo, invalidator, log)

	bus := event.NewInMemoryEventBus(log)
	bus.Subscribe(s.events)
	require.NoError(t, bus.Start(ctx))
	t.Cleanup(func() { _ = bus.Stop(context.Background()) })

	dispatcher := pricesyncapp.NewDispatcher(conflictRepo, s.products, orderRepo, s.history, tx, nil, log)
	s.conflicts = pricesyncapp.NewConflictService(pricesyncapp.ConflictServiceDeps{
		Conflicts:  conflictRepo,
		Products:   s.products,
		Orders:     orderRepo,
		Dispatcher: dispatcher,
		Rules:      ruleCache,
		Settings:   settings,
		Tx:         tx,
		Publisher:  bus,
		Notifier:   pricesyncapp.NewLogReviewNotifier(log),
		Logger:     log,
		PageSize:   50,
	})
	s.rules = pricesyncapp.NewRuleService(ruleRepo, ruleCache, bus, log)

	client, err := erp.NewHTTPClient(erp.Config{BaseURL: s.erp.URL, APIKey: "test", MaxIDsPerRequest: 2}, log)
	require.NoError(t, err)

	cfg := pricesyncapp.DefaultOrchestratorConfig()
	cfg.BulkBatchSize = 2
	cfg.BatchStagger = 0
	cfg.JobTimeout = 30 * time.Second
	s.orch = pricesyncapp.NewSyncOrchestrator(pricesyncapp.OrchestratorDeps{
		Jobs:      s.jobs,
		Products:  s.products,
		Erp:       client,
		Processor: pricesyncapp.NewRecordProcessor(s.products, s.history, tx, s.conflicts, log),
		Rules:     ruleCache,
		Settings:  settings,
		Locker:    lock.NewMemoryJobLocker(),
		Publisher: bus,
		Logger:    log,
	}, cfg)
	t.Cleanup(func() { _ = s.orch.Shutdown(context.Background()) })
	return s
}

// seed stores a local product priced at local and an ERP item priced at erpPrice
func (s *syncStack) seed(t *testing.T, externalID, local, erpPrice string) *pricesync.Product {
	t.Helper()
	p := &pricesync.Product{
		TenantEntity: shared.NewTenantEntity(s.tenantID),
		ExternalID:   externalID,
		SKU:          "SKU-" + externalID,
		Name:         "Widget " + externalID,
		Category:     "Hardware",
		Price:        decimal.RequireFromString(local),
		Stock:        10,
		IsActive:     true,
		Version:      1,
	}
	require.NoError(t, s.products.Save(context.Background(), p))
	if erpPrice != "" {
		s.erp.Set(testutil.ErpItem{
			ExternalID: externalID,
			Name:       p.Name,
			Price:      decimal.RequireFromString(erpPrice),
			Stock:      10,
		})
	}
	return p
}

func (s *syncStack) runBulk(t *testing.T) *pricesyncapp.SyncJobResponse {
	t.Helper()
	ctx := context.Background()
	res, err := s.orch.TriggerSync(ctx, pricesyncapp.TriggerSyncRequest{
		TenantID:    s.tenantID,
		Cadence:     pricesync.CadenceBulk,
		TriggeredBy: pricesync.TriggerManual,
	})
	require.NoError(t, err)
	s.orch.Wait()

	job, err := s.orch.GetJobStatus(ctx, s.tenantID, res.JobID)
	require.NoError(t, err)
	return job
}

func (s *syncStack) price(t *testing.T, id uuid.UUID) decimal.Decimal {
	t.Helper()
	p, err := s.products.FindByID(context.Background(), s.tenantID, id)
	require.NoError(t, err)
	return p.Price
}

func TestSyncFlow_BulkSyncDetectAndResolve(t *testing.T) {
	s := newSyncStack(t)
	ctx := context.Background()

	accepted := s.seed(t, "A", "100.00", "110.00")
	capped := s.seed(t, "B", "100.00", "200.00")
	noise := s.seed(t, "C", "100.00", "100.20")
	s.seed(t, "D", "100.00", "")

	job := s.runBulk(t)
	assert.Equal(t, string(pricesync.JobStatusCompleted), job.Status)
	assert.Equal(t, 4, job.TotalCount)
	assert.Equal(t, 4, job.ProcessedCount)
	assert.Equal(t, 1, job.UpdatedCount)
	assert.Equal(t, 0, job.FailedCount)
	assert.GreaterOrEqual(t, s.erp.Requests(), int64(2), "ids are chunked per request")

	assert.True(t, decimal.RequireFromString("110.00").Equal(s.price(t, accepted.ID)))
	assert.True(t, decimal.RequireFromString("100.00").Equal(s.price(t, capped.ID)), "increase past the cap is rejected")
	assert.True(t, decimal.RequireFromString("100.00").Equal(s.price(t, noise.ID)), "change inside tolerance is ignored")

	changes, total, err := s.history.ListByEntity(ctx, s.tenantID, capped.ID, shared.Filter{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	assert.Equal(t, pricesync.ValidationRejected, changes[0].ValidationStatus)

	assert.True(t, testutil.WaitForEvent(t, s.events, pricesync.EventTypeSyncJobCompleted, 1, 2*time.Second))

	summary, err := s.conflicts.DetectConflicts(ctx, s.tenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Detected)
	assert.Equal(t, 0, summary.AutoResolved)

	pending, n, err := s.conflicts.ListConflicts(ctx, s.tenantID, pricesyncapp.ConflictListFilter{Status: "pending"})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	c := pending[0]
	assert.Equal(t, capped.ID, c.EntityID)
	assert.Equal(t, string(pricesync.ConflictPriceMajor), c.Type)
	assert.True(t, c.RequiresReview)

	again, err := s.conflicts.DetectConflicts(ctx, s.tenantID)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Created, "a second sweep refreshes the pending row")

	custom := decimal.RequireFromString("150.00")
	result, err := s.conflicts.ResolveConflict(ctx, s.tenantID, c.ID, pricesyncapp.ResolveConflictRequest{
		ChosenSource: "custom",
		CustomData:   &pricesync.ResolvedValues{Price: &custom},
		Reason:       "split the difference",
	}, "pricing@example.com")
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, string(pricesync.ConflictStatusResolved), result.Conflict.Status)
	assert.True(t, custom.Equal(s.price(t, capped.ID)))

	changes, total, err = s.history.ListByEntity(ctx, s.tenantID, capped.ID, shared.Filter{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	reasons := make([]string, 0, len(changes))
	for _, ch := range changes {
		reasons = append(reasons, ch.Reason)
	}
	assert.Contains(t, reasons, pricesync.ReasonConflictResolution)

	_, err = s.conflicts.ResolveConflict(ctx, s.tenantID, c.ID, pricesyncapp.ResolveConflictRequest{ChosenSource: "erp"}, "pricing@example.com")
	assert.ErrorIs(t, err, pricesync.ErrConflictNotPending)
	assert.True(t, testutil.WaitForEvent(t, s.events, pricesync.EventTypeConflictResolved, 1, 2*time.Second))
}

func TestSyncFlow_ErpOutageFailsJob(t *testing.T) {
	s := newSyncStack(t)
	p := s.seed(t, "A", "100.00", "110.00")
	s.erp.FailWith(503)

	job := s.runBulk(t)
	assert.Equal(t, string(pricesync.JobStatusFailed), job.Status)
	assert.NotEmpty(t, job.ErrorDetails)
	assert.True(t, decimal.RequireFromString("100.00").Equal(s.price(t, p.ID)))
	assert.True(t, testutil.WaitForEvent(t, s.events, pricesync.EventTypeSyncJobFailed, 1, 2*time.Second))

	s.erp.FailWith(0)
	job = s.runBulk(t)
	assert.Equal(t, string(pricesync.JobStatusCompleted), job.Status)
	assert.True(t, decimal.RequireFromString("110.00").Equal(s.price(t, p.ID)))
}

func TestSyncFlow_RulesShapeTheSyncedPrice(t *testing.T) {
	s := newSyncStack(t)
	ctx := context.Background()
	p := s.seed(t, "A", "100.00", "100.00")

	ten := decimal.NewFromInt(10)
	rule, err := s.rules.Upsert(ctx, s.tenantID, pricesyncapp.UpsertPricingRuleRequest{
		Name:       "Hardware markup",
		RuleType:   string(pricesync.RuleTypePrice),
		Priority:   10,
		Conditions: `category == "hardware"`,
		Actions: []pricesyncapp.RuleActionRequest{
			{Type: string(pricesync.ActionPercentageMarkup), Value: &ten},
		},
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, rule.ID)
	assert.True(t, testutil.WaitForEvent(t, s.events, pricesync.EventTypePricingRulesChanged, 1, 2*time.Second))

	job := s.runBulk(t)
	require.Equal(t, string(pricesync.JobStatusCompleted), job.Status)
	assert.True(t, decimal.RequireFromString("110.00").Equal(s.price(t, p.ID)))

	summary, err := s.conflicts.DetectConflicts(ctx, s.tenantID)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Detected, "drift is measured against the rule-adjusted value")
}
