package pricesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/erp/pricesync/internal/domain/shared"
	"github.com/erp/pricesync/internal/infrastructure/logger"
	"github.com/erp/pricesync/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ErrOrchestratorClosed is returned by TriggerSync after Shutdown
var ErrOrchestratorClosed = shared.NewDomainError(shared.CodeInvalidState, "Sync orchestrator is shutting down")

const (
	bulkPageSize     = 500
	finalSaveTimeout = 10 * time.Second
	lockGrace        = time.Minute
)

// OrchestratorConfig tunes job execution
type OrchestratorConfig struct {
	RealtimeBatchSize    int
	IncrementalBatchSize int
	BulkBatchSize        int
	MaxConcurrentBatches int
	BatchStagger         time.Duration
	JobTimeout           time.Duration
	RealtimeWindow       time.Duration
	IncrementalLookback  time.Duration
	ErpRequestTimeout    time.Duration
	StaleJobAfter        time.Duration
}

// DefaultOrchestratorConfig returns the built-in tuning
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		RealtimeBatchSize:    25,
		IncrementalBatchSize: 50,
		BulkBatchSize:        100,
		MaxConcurrentBatches: 5,
		BatchStagger:         100 * time.Millisecond,
		JobTimeout:           30 * time.Minute,
		RealtimeWindow:       5 * time.Minute,
		IncrementalLookback:  24 * time.Hour,
		ErpRequestTimeout:    15 * time.Second,
		StaleJobAfter:        time.Hour,
	}
}

func (c OrchestratorConfig) batchSize(cadence pricesync.Cadence) int {
	var n int
	switch cadence {
	case pricesync.CadenceRealtime:
		n = c.RealtimeBatchSize
	case pricesync.CadenceIncremental:
		n = c.IncrementalBatchSize
	default:
		n = c.BulkBatchSize
	}
	if n <= 0 {
		return 50
	}
	return n
}

// OrchestratorDeps are the collaborators of a SyncOrchestrator. Locker,
// Publisher and Metrics are optional.
type OrchestratorDeps struct {
	Jobs      pricesync.SyncJobRepository
	Products  pricesync.ProductRepository
	Erp       pricesync.ErpClient
	Processor *RecordProcessor
	Rules     *RuleCache
	Settings  *SettingsStore
	Locker    pricesync.JobLocker
	Publisher shared.EventPublisher
	Metrics   *telemetry.SyncMetrics
	Logger    *zap.Logger
}

type inflightKey struct {
	tenantID uuid.UUID
	cadence  pricesync.Cadence
}

// SyncOrchestrator runs sync jobs. At most one job per tenant and cadence is
// active at a time, enforced in-process and, with a Locker, across instances.
type SyncOrchestrator struct {
	deps OrchestratorDeps
	cfg  OrchestratorConfig

	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards inflight, triggers and closed. It is never held across I/O.
	mu       sync.Mutex
	inflight map[inflightKey]uuid.UUID
	triggers map[inflightKey]*sync.Mutex
	closed   bool
}

// NewSyncOrchestrator creates a SyncOrchestrator
func NewSyncOrchestrator(deps OrchestratorDeps, cfg OrchestratorConfig) *SyncOrchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.MaxConcurrentBatches <= 0 {
		cfg.MaxConcurrentBatches = 1
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultOrchestratorConfig().JobTimeout
	}
	root, cancel := context.WithCancel(context.Background())
	return &SyncOrchestrator{
		deps:     deps,
		cfg:      cfg,
		root:     root,
		cancel:   cancel,
		inflight: make(map[inflightKey]uuid.UUID),
		triggers: make(map[inflightKey]*sync.Mutex),
	}
}

// TriggerSync starts a job and returns without waiting for it. If a job for
// the same tenant and cadence is already active its ID is returned instead.
func (o *SyncOrchestrator) TriggerSync(ctx context.Context, req TriggerSyncRequest) (*TriggerSyncResult, error) {
	if req.TenantID == uuid.Nil {
		return nil, pricesync.ErrInvalidTenantID
	}
	if !req.Cadence.IsValid() {
		return nil, pricesync.ErrInvalidCadence
	}
	if !o.deps.Settings.Get(req.TenantID).SyncEnabled {
		return nil, pricesync.ErrSyncDisabled
	}

	key := inflightKey{tenantID: req.TenantID, cadence: req.Cadence}
	serial := o.triggerLock(key)
	serial.Lock()
	defer serial.Unlock()

	id, running, err := o.inflightJob(key)
	if err != nil {
		return nil, err
	}
	if running {
		return &TriggerSyncResult{JobID: id, AlreadyRunning: true}, nil
	}

	active, err := o.deps.Jobs.FindActive(ctx, req.TenantID, req.Cadence)
	switch {
	case err == nil:
		return &TriggerSyncResult{JobID: active.ID, AlreadyRunning: true}, nil
	case !errors.Is(err, pricesync.ErrJobNotFound):
		return nil, err
	}

	var lock pricesync.JobLock
	if o.deps.Locker != nil {
		lock, err = o.deps.Locker.TryLock(ctx, pricesync.JobLockKey(req.TenantID, req.Cadence), o.cfg.JobTimeout+lockGrace)
		if errors.Is(err, pricesync.ErrLockNotObtained) {
			return nil, pricesync.ErrSyncAlreadyRunning
		}
		if err != nil {
			return nil, fmt.Errorf("acquire job lock: %w", err)
		}
	}

	job, err := pricesync.NewSyncJob(req.TenantID, req.Cadence, req.TriggeredBy)
	if err == nil {
		err = o.deps.Jobs.Save(ctx, job)
	}
	if err != nil {
		o.release(ctx, lock)
		return nil, err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		// The pending row is failed by RecoverStale on the next start.
		o.release(ctx, lock)
		return nil, ErrOrchestratorClosed
	}
	o.inflight[key] = job.ID
	o.wg.Add(1)
	o.mu.Unlock()
	go o.run(job, req, lock)

	return &TriggerSyncResult{JobID: job.ID}, nil
}

// triggerLock serializes triggers for one tenant and cadence
func (o *SyncOrchestrator) triggerLock(key inflightKey) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.triggers[key]
	if !ok {
		m = new(sync.Mutex)
		o.triggers[key] = m
	}
	return m
}

func (o *SyncOrchestrator) inflightJob(key inflightKey) (uuid.UUID, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return uuid.Nil, false, ErrOrchestratorClosed
	}
	id, ok := o.inflight[key]
	return id, ok, nil
}

// TriggerScheduled starts a scheduled job for the scheduler
func (o *SyncOrchestrator) TriggerScheduled(ctx context.Context, tenantID uuid.UUID, cadence pricesync.Cadence) (uuid.UUID, bool, error) {
	res, err := o.TriggerSync(ctx, TriggerSyncRequest{
		TenantID:    tenantID,
		Cadence:     cadence,
		TriggeredBy: pricesync.TriggerSchedule,
	})
	if err != nil {
		return uuid.Nil, false, err
	}
	return res.JobID, res.AlreadyRunning, nil
}

// GetJobStatus returns a job with its current counters
func (o *SyncOrchestrator) GetJobStatus(ctx context.Context, tenantID, jobID uuid.UUID) (*SyncJobResponse, error) {
	job, err := o.deps.Jobs.FindByID(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	resp := ToSyncJobResponse(job)
	return &resp, nil
}

// JobListFilter narrows job listings
type JobListFilter struct {
	Cadence  string `form:"cadence" binding:"omitempty,cadence"`
	Status   string `form:"status" binding:"omitempty,job_status"`
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
}

// ListJobs pages a tenant's jobs, newest first
func (o *SyncOrchestrator) ListJobs(ctx context.Context, tenantID uuid.UUID, filter JobListFilter) ([]SyncJobResponse, int64, error) {
	f := pricesync.JobFilter{
		Filter:  shared.DefaultFilter(),
		Cadence: pricesync.Cadence(filter.Cadence),
		Status:  pricesync.JobStatus(filter.Status),
	}
	if filter.Page > 0 {
		f.Page = filter.Page
	}
	if filter.PageSize > 0 {
		f.PageSize = filter.PageSize
	}
	jobs, total, err := o.deps.Jobs.List(ctx, tenantID, f)
	if err != nil {
		return nil, 0, err
	}
	out := make([]SyncJobResponse, len(jobs))
	for i := range jobs {
		out[i] = ToSyncJobResponse(&jobs[i])
	}
	return out, total, nil
}

// RecoverStale fails jobs left active by a previous process
func (o *SyncOrchestrator) RecoverStale(ctx context.Context) (int64, error) {
	after := o.cfg.StaleJobAfter
	if after <= 0 {
		after = o.cfg.JobTimeout
	}
	n, err := o.deps.Jobs.FailStale(ctx, time.Now().Add(-after), "job interrupted before completion")
	if err != nil {
		return 0, err
	}
	if n > 0 {
		o.deps.Logger.Warn("failed stale sync jobs", zap.Int64("count", n))
	}
	return n, nil
}

// Shutdown stops accepting jobs, cancels running ones and waits for them to
// record their final state, or for ctx to expire
func (o *SyncOrchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every running job has finished
func (o *SyncOrchestrator) Wait() {
	o.wg.Wait()
}

// jobRun is the mutable state of one executing job
type jobRun struct {
	job        *pricesync.SyncJob
	req        TriggerSyncRequest
	settings   pricesync.TenantSyncSettings
	priceRules *pricesync.RuleSnapshot
	stockRules *pricesync.RuleSnapshot

	processed atomic.Int64
	updated   atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	conflicts atomic.Int64

	// guards job
	mu sync.Mutex
}

func (r *jobRun) counts() pricesync.JobCounts {
	return pricesync.JobCounts{
		Total:     r.job.TotalCount,
		Processed: int(r.processed.Load()),
		Updated:   int(r.updated.Load()),
		Failed:    int(r.failed.Load()),
	}
}

func (o *SyncOrchestrator) run(job *pricesync.SyncJob, req TriggerSyncRequest, lock pricesync.JobLock) {
	defer o.wg.Done()

	ctx, cancel := context.WithTimeout(o.root, o.cfg.JobTimeout)
	defer cancel()
	ctx = logger.WithTenantID(ctx, job.TenantID.String())
	ctx = logger.WithJobID(ctx, job.ID.String())
	ctx, span := telemetry.StartSpan(ctx, "sync", "job",
		telemetry.SpanAttrTenantID, job.TenantID.String(),
		telemetry.SpanAttrJobID, job.ID.String(),
		telemetry.SpanAttrCadence, string(job.JobType),
	)
	defer span.End()

	defer func() {
		o.release(context.WithoutCancel(ctx), lock)
		o.mu.Lock()
		delete(o.inflight, inflightKey{tenantID: job.TenantID, cadence: job.JobType})
		o.mu.Unlock()
	}()

	r := &jobRun{job: job, req: req}
	var err error
	telemetry.WithProfilingLabels(ctx, telemetry.SyncJobLabels(string(job.JobType), job.TenantID.String()), func(ctx context.Context) {
		err = o.execute(ctx, r)
	})
	telemetry.RecordError(span, err)
	o.finish(ctx, r, err)
}

func (o *SyncOrchestrator) execute(ctx context.Context, r *jobRun) error {
	tenantID := r.job.TenantID
	r.settings = o.deps.Settings.Get(tenantID)

	var err error
	if r.priceRules, err = o.deps.Rules.Snapshot(ctx, tenantID, pricesync.RuleTypePrice); err != nil {
		return fmt.Errorf("load price rules: %w", err)
	}
	if r.stockRules, err = o.deps.Rules.Snapshot(ctx, tenantID, pricesync.RuleTypeStock); err != nil {
		return fmt.Errorf("load stock rules: %w", err)
	}

	candidates, err := o.candidates(ctx, r)
	if err != nil {
		return fmt.Errorf("select candidates: %w", err)
	}

	if err := r.job.Start(len(candidates)); err != nil {
		return err
	}
	if err := o.deps.Jobs.Save(ctx, r.job); err != nil {
		return err
	}
	o.publish(ctx, pricesync.NewSyncJobStartedEvent(r.job))
	logger.L(ctx, o.deps.Logger).Info("sync job started",
		zap.String("cadence", string(r.job.JobType)),
		zap.String("triggered_by", string(r.job.TriggeredBy)),
		zap.Int("candidates", len(candidates)))

	if len(candidates) == 0 {
		return nil
	}

	batches := chunk(candidates, o.cfg.batchSize(r.job.JobType))
	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(o.cfg.MaxConcurrentBatches))
	for i, batch := range batches {
		if i > 0 && o.cfg.BatchStagger > 0 {
			if err := sleepCtx(gctx, o.cfg.BatchStagger); err != nil {
				break
			}
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			if err := o.runBatch(gctx, r, i, batch); err != nil {
				return err
			}
			o.flushProgress(gctx, r)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	// The launch loop stops early only when ctx ends.
	return ctx.Err()
}

func (o *SyncOrchestrator) runBatch(ctx context.Context, r *jobRun, index int, batch []*pricesync.Product) error {
	ctx, span := telemetry.StartSpan(ctx, "sync", "batch",
		telemetry.SpanAttrBatchIndex, index,
		telemetry.SpanAttrBatchSize, len(batch),
	)
	defer span.End()
	log := logger.L(ctx, o.deps.Logger)

	ids := make([]string, 0, len(batch))
	for _, p := range batch {
		if p.ExternalID != "" {
			ids = append(ids, p.ExternalID)
		}
	}

	var records []pricesync.ErpProduct
	if len(ids) > 0 {
		fetchCtx, cancel := context.WithTimeout(ctx, o.erpTimeout())
		var err error
		records, err = o.deps.Erp.FetchPrices(fetchCtx, r.job.TenantID, ids)
		cancel()
		if err != nil {
			telemetry.RecordError(span, err)
			return fmt.Errorf("fetch batch %d: %w", index, err)
		}
	}
	byExternalID := make(map[string]pricesync.ErpProduct, len(records))
	for _, rec := range records {
		byExternalID[rec.ExternalID] = rec
	}

	for _, p := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, ok := byExternalID[p.ExternalID]
		if !ok {
			r.processed.Add(1)
			continue
		}
		res, err := o.deps.Processor.Process(ctx, RecordInput{
			Job:        r.job,
			Local:      p,
			Erp:        rec,
			Settings:   r.settings,
			PriceRules: r.priceRules,
			StockRules: r.stockRules,
		})
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		r.processed.Add(1)
		if err != nil {
			r.failed.Add(1)
			log.Warn("sync record failed",
				zap.String("entity_id", p.ID.String()),
				zap.String("external_id", p.ExternalID),
				zap.Error(err))
			continue
		}
		if res.Updated {
			r.updated.Add(1)
		}
		if res.Rejected {
			r.rejected.Add(1)
		}
		if res.Conflict {
			r.conflicts.Add(1)
		}
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrRecordCount, len(records))
	return nil
}

func (o *SyncOrchestrator) flushProgress(ctx context.Context, r *jobRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.job.RecordProgress(r.counts()); err != nil {
		return
	}
	if err := o.deps.Jobs.Save(ctx, r.job); err != nil {
		logger.L(ctx, o.deps.Logger).Warn("failed to save job progress", zap.Error(err))
	}
}

func (o *SyncOrchestrator) finish(ctx context.Context, r *jobRun, runErr error) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalSaveTimeout)
	defer cancel()
	log := logger.L(ctx, o.deps.Logger)

	r.mu.Lock()
	defer r.mu.Unlock()

	counts := r.counts()
	var event shared.DomainEvent
	if runErr != nil {
		if err := r.job.Fail(counts, failureDetails(runErr, o.cfg.JobTimeout)); err != nil {
			log.Error("failed to mark job failed", zap.Error(err))
		}
		failed := pricesync.NewSyncJobFailedEvent(r.job)
		failed.Rejected = int(r.rejected.Load())
		failed.Conflicts = int(r.conflicts.Load())
		event = failed
	} else {
		if err := r.job.Complete(counts); err != nil {
			log.Error("failed to mark job completed", zap.Error(err))
		}
		completed := pricesync.NewSyncJobCompletedEvent(r.job)
		completed.Rejected = int(r.rejected.Load())
		completed.Conflicts = int(r.conflicts.Load())
		event = completed
	}

	if err := o.deps.Jobs.Save(saveCtx, r.job); err != nil {
		log.Error("failed to save final job state", zap.Error(err))
	}
	o.publish(saveCtx, event)

	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordJob(saveCtx, telemetry.JobOutcome{
			TenantID:  r.job.TenantID,
			Cadence:   string(r.job.JobType),
			Status:    string(r.job.Status),
			Duration:  r.job.Duration(),
			Updated:   counts.Updated,
			Rejected:  int(r.rejected.Load()),
			Failed:    counts.Failed,
			Conflicts: int(r.conflicts.Load()),
		})
	}

	fields := []zap.Field{
		zap.String("status", string(r.job.Status)),
		zap.Int("total", r.job.TotalCount),
		zap.Int("processed", counts.Processed),
		zap.Int("updated", counts.Updated),
		zap.Int("failed", counts.Failed),
		zap.Int64("rejected", r.rejected.Load()),
		zap.Int64("conflicts", r.conflicts.Load()),
		zap.Duration("duration", r.job.Duration()),
	}
	if runErr != nil {
		log.Warn("sync job failed", append(fields, zap.Error(runErr))...)
		return
	}
	log.Info("sync job completed", fields...)
}

// candidates selects the products a job visits. Explicit IDs win over the
// cadence's own selection.
func (o *SyncOrchestrator) candidates(ctx context.Context, r *jobRun) ([]*pricesync.Product, error) {
	tenantID := r.job.TenantID
	if len(r.req.EntityIDs) > 0 {
		products, err := o.deps.Products.FindByIDs(ctx, tenantID, r.req.EntityIDs)
		return activeOnly(products), err
	}
	if len(r.req.ExternalIDs) > 0 {
		products, err := o.deps.Products.FindByExternalIDs(ctx, tenantID, r.req.ExternalIDs)
		return activeOnly(products), err
	}

	now := time.Now()
	switch r.job.JobType {
	case pricesync.CadenceRealtime:
		return o.deps.Products.FindChangedSince(ctx, tenantID, now.Add(-o.cfg.RealtimeWindow))
	case pricesync.CadenceIncremental:
		since := now.Add(-o.cfg.IncrementalLookback)
		last, err := o.deps.Jobs.FindLastCompleted(ctx, tenantID, pricesync.CadenceIncremental)
		switch {
		case err == nil && last.StartedAt != nil:
			since = *last.StartedAt
		case err != nil && !errors.Is(err, pricesync.ErrJobNotFound):
			return nil, err
		}
		return o.deps.Products.FindChangedSince(ctx, tenantID, since)
	default:
		var all []*pricesync.Product
		after := uuid.Nil
		for {
			page, err := o.deps.Products.ListActive(ctx, tenantID, after, bulkPageSize)
			if err != nil {
				return nil, err
			}
			all = append(all, page...)
			if len(page) < bulkPageSize {
				return all, nil
			}
			after = page[len(page)-1].ID
		}
	}
}

func (o *SyncOrchestrator) erpTimeout() time.Duration {
	if o.cfg.ErpRequestTimeout > 0 {
		return o.cfg.ErpRequestTimeout
	}
	return DefaultOrchestratorConfig().ErpRequestTimeout
}

func (o *SyncOrchestrator) publish(ctx context.Context, event shared.DomainEvent) {
	if o.deps.Publisher == nil {
		return
	}
	if err := o.deps.Publisher.Publish(ctx, event); err != nil {
		logger.L(ctx, o.deps.Logger).Warn("failed to publish event",
			zap.String("event_type", event.EventType()),
			zap.Error(err))
	}
}

func (o *SyncOrchestrator) release(ctx context.Context, lock pricesync.JobLock) {
	if lock == nil {
		return
	}
	if err := lock.Release(ctx); err != nil {
		o.deps.Logger.Warn("failed to release job lock", zap.Error(err))
	}
}

func failureDetails(err error, timeout time.Duration) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("job timed out after %s", timeout)
	case errors.Is(err, context.Canceled):
		return "job cancelled"
	}
	return err.Error()
}

func activeOnly(products []*pricesync.Product) []*pricesync.Product {
	out := products[:0]
	for _, p := range products {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out
}

func chunk[T any](items []T, size int) [][]T {
	batches := make([][]T, 0, (len(items)+size-1)/size)
	for size < len(items) {
		items, batches = items[size:], append(batches, items[:size:size])
	}
	return append(batches, items)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
