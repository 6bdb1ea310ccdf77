package pricesync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type orchestratorFixture struct {
	tenantID  uuid.UUID
	jobs      *MockSyncJobRepository
	products  *MockProductRepository
	history   *MockPriceHistoryRepository
	erp       *MockErpClient
	locker    *MockJobLocker
	publisher *recordingPublisher
	settings  *SettingsStore
	orch      *SyncOrchestrator

	saved *pricesync.SyncJob
}

func newOrchestratorFixture(t *testing.T, withLocker bool) *orchestratorFixture {
	t.Helper()
	f := &orchestratorFixture{
		tenantID:  uuid.New(),
		jobs:      new(MockSyncJobRepository),
		products:  new(MockProductRepository),
		history:   new(MockPriceHistoryRepository),
		erp:       new(MockErpClient),
		publisher: &recordingPublisher{},
		settings:  newTestSettingsStore(),
	}
	processor := NewRecordProcessor(f.products, f.history, passthroughTx{}, new(MockConflictRaiser), zap.NewNop())

	cfg := DefaultOrchestratorConfig()
	cfg.BulkBatchSize = 3
	cfg.MaxConcurrentBatches = 2
	cfg.BatchStagger = 0
	cfg.JobTimeout = 10 * time.Second

	deps := OrchestratorDeps{
		Jobs:      f.jobs,
		Products:  f.products,
		Erp:       f.erp,
		Processor: processor,
		Rules:     newTestRuleCache(),
		Settings:  f.settings,
		Publisher: f.publisher,
		Logger:    zap.NewNop(),
	}
	if withLocker {
		f.locker = new(MockJobLocker)
		deps.Locker = f.locker
	}
	f.orch = NewSyncOrchestrator(deps, cfg)

	f.jobs.On("Save", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		f.saved = args.Get(1).(*pricesync.SyncJob)
	}).Return(nil)
	f.products.On("UpsertErpMirror", mock.Anything, mock.Anything).Return(nil)
	f.history.On("Append", mock.Anything, mock.Anything).Return(nil)
	return f
}

func (f *orchestratorFixture) noActiveJob() {
	f.jobs.On("FindActive", mock.Anything, f.tenantID, mock.Anything).Return(nil, pricesync.ErrJobNotFound)
}

func (f *orchestratorFixture) catalog(n int) []*pricesync.Product {
	products := make([]*pricesync.Product, n)
	for i := range products {
		p := newTestProduct(f.tenantID, uuid.NewString()[:8], "100.00", 10)
		products[i] = p
		f.products.On("FindByIDForUpdate", mock.Anything, f.tenantID, p.ID).Return(copyProduct(p), nil)
	}
	f.products.On("ListActive", mock.Anything, f.tenantID, uuid.Nil, bulkPageSize).Return(products, nil)
	f.erp.On("FetchPrices", mock.Anything, f.tenantID, mock.Anything).Return(
		func() []pricesync.ErpProduct {
			out := make([]pricesync.ErpProduct, len(products))
			for i, p := range products {
				out[i] = erpFor(p, "110.00", 10)
			}
			return out
		}(), nil)
	return products
}

func TestSyncOrchestrator_PartialFailureCompletesJob(t *testing.T) {
	f := newOrchestratorFixture(t, false)
	f.noActiveJob()
	products := f.catalog(10)
	bad := products[4]

	f.products.On("Save", mock.Anything, mock.MatchedBy(func(p *pricesync.Product) bool {
		return p.ID == bad.ID
	})).Return(errors.New("constraint violation"))
	f.products.On("Save", mock.Anything, mock.Anything).Return(nil)

	res, err := f.orch.TriggerSync(context.Background(), TriggerSyncRequest{
		TenantID: f.tenantID,
		Cadence:  pricesync.CadenceBulk,
	})
	require.NoError(t, err)
	assert.False(t, res.AlreadyRunning)
	f.orch.Wait()

	job := f.saved
	require.NotNil(t, job)
	assert.Equal(t, res.JobID, job.ID)
	assert.Equal(t, pricesync.JobStatusCompleted, job.Status)
	assert.Equal(t, 10, job.TotalCount)
	assert.Equal(t, 10, job.ProcessedCount)
	assert.Equal(t, 9, job.UpdatedCount)
	assert.Equal(t, 1, job.FailedCount)
	assert.NotNil(t, job.EndedAt)

	assert.Equal(t, []string{pricesync.EventTypeSyncJobStarted, pricesync.EventTypeSyncJobCompleted}, f.publisher.types())
	completed := f.publisher.last(pricesync.EventTypeSyncJobCompleted).(*pricesync.SyncJobCompletedEvent)
	assert.Equal(t, 9, completed.Counts.Updated)
	assert.Equal(t, 1, completed.Counts.Failed)
}

func TestSyncOrchestrator_ErpFailureFailsJob(t *testing.T) {
	f := newOrchestratorFixture(t, false)
	f.noActiveJob()
	p := newTestProduct(f.tenantID, "E-1", "100.00", 10)
	f.products.On("ListActive", mock.Anything, f.tenantID, uuid.Nil, bulkPageSize).Return([]*pricesync.Product{p}, nil)
	f.erp.On("FetchPrices", mock.Anything, f.tenantID, []string{"E-1"}).Return(nil, pricesync.ErrErpUnavailable)

	_, err := f.orch.TriggerSync(context.Background(), TriggerSyncRequest{TenantID: f.tenantID, Cadence: pricesync.CadenceBulk})
	require.NoError(t, err)
	f.orch.Wait()

	assert.Equal(t, pricesync.JobStatusFailed, f.saved.Status)
	assert.Contains(t, f.saved.ErrorDetails, "erp unavailable")
	assert.Equal(t, pricesync.EventTypeSyncJobFailed, f.publisher.types()[len(f.publisher.types())-1])
}

func TestSyncOrchestrator_UnknownErpIDsCountAsProcessed(t *testing.T) {
	f := newOrchestratorFixture(t, false)
	f.noActiveJob()
	p := newTestProduct(f.tenantID, "E-1", "100.00", 10)
	f.products.On("ListActive", mock.Anything, f.tenantID, uuid.Nil, bulkPageSize).Return([]*pricesync.Product{p}, nil)
	f.erp.On("FetchPrices", mock.Anything, f.tenantID, []string{"E-1"}).Return([]pricesync.ErpProduct{}, nil)

	_, err := f.orch.TriggerSync(context.Background(), TriggerSyncRequest{TenantID: f.tenantID, Cadence: pricesync.CadenceBulk})
	require.NoError(t, err)
	f.orch.Wait()

	assert.Equal(t, pricesync.JobStatusCompleted, f.saved.Status)
	assert.Equal(t, 1, f.saved.ProcessedCount)
	assert.Equal(t, 0, f.saved.UpdatedCount)
	assert.Equal(t, 0, f.saved.FailedCount)
}

func TestSyncOrchestrator_SingleInflightJobPerCadence(t *testing.T) {
	f := newOrchestratorFixture(t, false)
	f.noActiveJob()
	p := newTestProduct(f.tenantID, "E-1", "100.00", 10)
	f.products.On("ListActive", mock.Anything, f.tenantID, uuid.Nil, bulkPageSize).Return([]*pricesync.Product{p}, nil)

	release := make(chan struct{})
	f.erp.On("FetchPrices", mock.Anything, f.tenantID, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return([]pricesync.ErpProduct{}, nil)

	req := TriggerSyncRequest{TenantID: f.tenantID, Cadence: pricesync.CadenceBulk}
	first, err := f.orch.TriggerSync(context.Background(), req)
	require.NoError(t, err)
	second, err := f.orch.TriggerSync(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, second.AlreadyRunning)
	assert.Equal(t, first.JobID, second.JobID)

	close(release)
	f.orch.Wait()
	f.jobs.AssertNumberOfCalls(t, "FindActive", 1)
}

func TestSyncOrchestrator_BulkBatchesRespectConcurrencyCapAndStagger(t *testing.T) {
	const stagger = 5 * time.Millisecond
	f := newOrchestratorFixture(t, false)
	f.orch.cfg.BatchStagger = stagger
	f.noActiveJob()

	// 36 products in batches of 3, none of which needs a write
	products := make([]*pricesync.Product, 36)
	records := make([]pricesync.ErpProduct, len(products))
	for i := range products {
		p := newTestProduct(f.tenantID, fmt.Sprintf("E-%02d", i), "100.00", 10)
		products[i], records[i] = p, erpFor(p, "100.00", 10)
	}
	f.products.On("ListActive", mock.Anything, f.tenantID, uuid.Nil, bulkPageSize).Return(products, nil)

	var (
		mu     sync.Mutex
		active int
		peak   int
		starts []time.Time
	)
	f.erp.On("FetchPrices", mock.Anything, f.tenantID, mock.Anything).Run(func(mock.Arguments) {
		mu.Lock()
		active++
		peak = max(peak, active)
		starts = append(starts, time.Now())
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
	}).Return(records, nil)

	before := time.Now()
	_, err := f.orch.TriggerSync(context.Background(), TriggerSyncRequest{TenantID: f.tenantID, Cadence: pricesync.CadenceBulk})
	require.NoError(t, err)
	f.orch.Wait()

	require.NotNil(t, f.saved)
	assert.Equal(t, pricesync.JobStatusCompleted, f.saved.Status)
	assert.Equal(t, 36, f.saved.ProcessedCount)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, f.orch.cfg.MaxConcurrentBatches, peak)
	require.Len(t, starts, 12)
	slices.SortFunc(starts, func(a, b time.Time) int { return a.Compare(b) })
	for i, at := range starts {
		assert.GreaterOrEqual(t, at.Sub(before), time.Duration(i)*stagger, "batch %d started early", i)
	}
}

func TestSyncOrchestrator_SlowTriggerDoesNotBlockOtherTenants(t *testing.T) {
	f := newOrchestratorFixture(t, false)
	f.noActiveJob()
	f.products.On("ListActive", mock.Anything, f.tenantID, uuid.Nil, bulkPageSize).Return([]*pricesync.Product{}, nil)

	slowTenant := uuid.New()
	running, err := pricesync.NewSyncJob(slowTenant, pricesync.CadenceBulk, pricesync.TriggerSchedule)
	require.NoError(t, err)
	entered, unblock := make(chan struct{}), make(chan struct{})
	f.jobs.On("FindActive", mock.Anything, slowTenant, pricesync.CadenceBulk).Run(func(mock.Arguments) {
		close(entered)
		<-unblock
	}).Return(running, nil).Once()

	slowDone := make(chan error, 1)
	go func() {
		_, err := f.orch.TriggerSync(context.Background(), TriggerSyncRequest{TenantID: slowTenant, Cadence: pricesync.CadenceBulk})
		slowDone <- err
	}()
	<-entered
	defer func() {
		close(unblock)
		assert.NoError(t, <-slowDone)
		f.orch.Wait()
	}()

	fastDone := make(chan error, 1)
	go func() {
		_, err := f.orch.TriggerSync(context.Background(), TriggerSyncRequest{TenantID: f.tenantID, Cadence: pricesync.CadenceBulk})
		fastDone <- err
	}()
	select {
	case err := <-fastDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Error("trigger for another tenant waited on a slow job lookup")
	}
}

func TestSyncOrchestrator_ReturnsPersistedActiveJob(t *testing.T) {
	f := newOrchestratorFixture(t, false)
	active, err := pricesync.NewSyncJob(f.tenantID, pricesync.CadenceIncremental, pricesync.TriggerSchedule)
	require.NoError(t, err)
	f.jobs.On("FindActive", mock.Anything, f.tenantID, pricesync.CadenceIncremental).Return(active, nil)

	res, err := f.orch.TriggerSync(context.Background(), TriggerSyncRequest{TenantID: f.tenantID, Cadence: pricesync.CadenceIncremental})

	require.NoError(t, err)
	assert.True(t, res.AlreadyRunning)
	assert.Equal(t, active.ID, res.JobID)
	f.jobs.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestSyncOrchestrator_LockHeldElsewhere(t *testing.T) {
	f := newOrchestratorFixture(t, true)
	f.noActiveJob()
	f.locker.On("TryLock", mock.Anything, pricesync.JobLockKey(f.tenantID, pricesync.CadenceBulk), mock.Anything).
		Return(nil, pricesync.ErrLockNotObtained)

	_, err := f.orch.TriggerSync(context.Background(), TriggerSyncRequest{TenantID: f.tenantID, Cadence: pricesync.CadenceBulk})

	assert.ErrorIs(t, err, pricesync.ErrSyncAlreadyRunning)
	f.jobs.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestSyncOrchestrator_ReleasesLockWhenDone(t *testing.T) {
	f := newOrchestratorFixture(t, true)
	f.noActiveJob()
	lock := new(MockJobLock)
	lock.On("Release", mock.Anything).Return(nil).Once()
	f.locker.On("TryLock", mock.Anything, mock.Anything, mock.Anything).Return(lock, nil)
	f.products.On("ListActive", mock.Anything, f.tenantID, uuid.Nil, bulkPageSize).Return([]*pricesync.Product{}, nil)

	_, err := f.orch.TriggerSync(context.Background(), TriggerSyncRequest{TenantID: f.tenantID, Cadence: pricesync.CadenceBulk})
	require.NoError(t, err)
	f.orch.Wait()

	lock.AssertExpectations(t)
	assert.Equal(t, pricesync.JobStatusCompleted, f.saved.Status)
	assert.Equal(t, 0, f.saved.TotalCount)
}

func TestSyncOrchestrator_Validation(t *testing.T) {
	f := newOrchestratorFixture(t, false)

	_, err := f.orch.TriggerSync(context.Background(), TriggerSyncRequest{Cadence: pricesync.CadenceBulk})
	assert.ErrorIs(t, err, pricesync.ErrInvalidTenantID)

	_, err = f.orch.TriggerSync(context.Background(), TriggerSyncRequest{TenantID: f.tenantID, Cadence: "hourly"})
	assert.ErrorIs(t, err, pricesync.ErrInvalidCadence)

	disabled := pricesync.DefaultTenantSyncSettings().ForTenant(f.tenantID)
	disabled.SyncEnabled = false
	f.settings.swap(disabled)
	_, err = f.orch.TriggerSync(context.Background(), TriggerSyncRequest{TenantID: f.tenantID, Cadence: pricesync.CadenceBulk})
	assert.ErrorIs(t, err, pricesync.ErrSyncDisabled)
}

func TestSyncOrchestrator_IncrementalUsesLastCompletedStart(t *testing.T) {
	f := newOrchestratorFixture(t, false)
	f.noActiveJob()
	last, err := pricesync.NewSyncJob(f.tenantID, pricesync.CadenceIncremental, pricesync.TriggerSchedule)
	require.NoError(t, err)
	require.NoError(t, last.Start(0))
	require.NoError(t, last.Complete(pricesync.JobCounts{}))

	f.jobs.On("FindLastCompleted", mock.Anything, f.tenantID, pricesync.CadenceIncremental).Return(last, nil)
	f.products.On("FindChangedSince", mock.Anything, f.tenantID, *last.StartedAt).Return([]*pricesync.Product{}, nil).Once()

	_, err = f.orch.TriggerSync(context.Background(), TriggerSyncRequest{TenantID: f.tenantID, Cadence: pricesync.CadenceIncremental})
	require.NoError(t, err)
	f.orch.Wait()

	f.products.AssertExpectations(t)
}

func TestSyncOrchestrator_ShutdownRejectsNewJobs(t *testing.T) {
	f := newOrchestratorFixture(t, false)
	require.NoError(t, f.orch.Shutdown(context.Background()))

	_, err := f.orch.TriggerSync(context.Background(), TriggerSyncRequest{TenantID: f.tenantID, Cadence: pricesync.CadenceBulk})
	assert.ErrorIs(t, err, ErrOrchestratorClosed)
}

func TestSyncOrchestrator_RecoverStale(t *testing.T) {
	f := newOrchestratorFixture(t, false)
	f.jobs.On("FailStale", mock.Anything, mock.MatchedBy(func(before time.Time) bool {
		return time.Since(before) >= time.Hour-time.Minute
	}), mock.Anything).Return(int64(2), nil)

	n, err := f.orch.RecoverStale(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestChunk(t *testing.T) {
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, chunk([]int{1, 2, 3, 4, 5}, 2))
	assert.Equal(t, [][]int{{1, 2}}, chunk([]int{1, 2}, 5))
}
