package pricesync

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/erp/pricesync/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// ============================================================================
// Mocks
// ============================================================================

type MockSyncJobRepository struct {
	mock.Mock
}

func (m *MockSyncJobRepository) Save(ctx context.Context, job *pricesync.SyncJob) error {
	return m.Called(ctx, job).Error(0)
}

func (m *MockSyncJobRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*pricesync.SyncJob, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pricesync.SyncJob), args.Error(1)
}

func (m *MockSyncJobRepository) FindActive(ctx context.Context, tenantID uuid.UUID, cadence pricesync.Cadence) (*pricesync.SyncJob, error) {
	args := m.Called(ctx, tenantID, cadence)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pricesync.SyncJob), args.Error(1)
}

func (m *MockSyncJobRepository) FindLastCompleted(ctx context.Context, tenantID uuid.UUID, cadence pricesync.Cadence) (*pricesync.SyncJob, error) {
	args := m.Called(ctx, tenantID, cadence)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pricesync.SyncJob), args.Error(1)
}

func (m *MockSyncJobRepository) List(ctx context.Context, tenantID uuid.UUID, filter pricesync.JobFilter) ([]pricesync.SyncJob, int64, error) {
	args := m.Called(ctx, tenantID, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]pricesync.SyncJob), args.Get(1).(int64), args.Error(2)
}

func (m *MockSyncJobRepository) FailStale(ctx context.Context, before time.Time, details string) (int64, error) {
	args := m.Called(ctx, before, details)
	return args.Get(0).(int64), args.Error(1)
}

type MockPriceHistoryRepository struct {
	mock.Mock
}

func (m *MockPriceHistoryRepository) Append(ctx context.Context, change *pricesync.PriceChange) error {
	return m.Called(ctx, change).Error(0)
}

func (m *MockPriceHistoryRepository) ListByEntity(ctx context.Context, tenantID, entityID uuid.UUID, filter shared.Filter) ([]pricesync.PriceChange, int64, error) {
	args := m.Called(ctx, tenantID, entityID, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]pricesync.PriceChange), args.Get(1).(int64), args.Error(2)
}

type MockConflictRepository struct {
	mock.Mock
}

func (m *MockConflictRepository) UpsertPending(ctx context.Context, c *pricesync.Conflict) (*pricesync.Conflict, bool, error) {
	args := m.Called(ctx, c)
	if args.Get(0) == nil {
		return nil, false, args.Error(2)
	}
	return args.Get(0).(*pricesync.Conflict), args.Bool(1), args.Error(2)
}

func (m *MockConflictRepository) Save(ctx context.Context, c *pricesync.Conflict) error {
	return m.Called(ctx, c).Error(0)
}

func (m *MockConflictRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*pricesync.Conflict, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pricesync.Conflict), args.Error(1)
}

func (m *MockConflictRepository) FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*pricesync.Conflict, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pricesync.Conflict), args.Error(1)
}

func (m *MockConflictRepository) List(ctx context.Context, tenantID uuid.UUID, filter pricesync.ConflictFilter) ([]pricesync.Conflict, int64, error) {
	args := m.Called(ctx, tenantID, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]pricesync.Conflict), args.Get(1).(int64), args.Error(2)
}

func (m *MockConflictRepository) ListRetryable(ctx context.Context, tenantID uuid.UUID, limit int) ([]*pricesync.Conflict, error) {
	args := m.Called(ctx, tenantID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*pricesync.Conflict), args.Error(1)
}

func (m *MockConflictRepository) CountPending(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	args := m.Called(ctx, tenantID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockConflictRepository) FindArchivable(ctx context.Context, before time.Time, limit int) ([]*pricesync.Conflict, error) {
	args := m.Called(ctx, before, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*pricesync.Conflict), args.Error(1)
}

func (m *MockConflictRepository) MoveToHistory(ctx context.Context, conflicts []*pricesync.Conflict) (int64, error) {
	args := m.Called(ctx, conflicts)
	return args.Get(0).(int64), args.Error(1)
}

type MockPricingRuleRepository struct {
	mock.Mock
}

func (m *MockPricingRuleRepository) Save(ctx context.Context, rule *pricesync.PricingRule) error {
	return m.Called(ctx, rule).Error(0)
}

func (m *MockPricingRuleRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*pricesync.PricingRule, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pricesync.PricingRule), args.Error(1)
}

func (m *MockPricingRuleRepository) FindActive(ctx context.Context, tenantID uuid.UUID, ruleType pricesync.RuleType) ([]*pricesync.PricingRule, error) {
	args := m.Called(ctx, tenantID, ruleType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*pricesync.PricingRule), args.Error(1)
}

func (m *MockPricingRuleRepository) List(ctx context.Context, tenantID uuid.UUID, ruleType pricesync.RuleType, includeInactive bool) ([]*pricesync.PricingRule, error) {
	args := m.Called(ctx, tenantID, ruleType, includeInactive)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*pricesync.PricingRule), args.Error(1)
}

type MockProductRepository struct {
	mock.Mock
}

func (m *MockProductRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*pricesync.Product, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pricesync.Product), args.Error(1)
}

func (m *MockProductRepository) FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*pricesync.Product, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pricesync.Product), args.Error(1)
}

func (m *MockProductRepository) FindByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*pricesync.Product, error) {
	args := m.Called(ctx, tenantID, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*pricesync.Product), args.Error(1)
}

func (m *MockProductRepository) FindByExternalIDs(ctx context.Context, tenantID uuid.UUID, externalIDs []string) ([]*pricesync.Product, error) {
	args := m.Called(ctx, tenantID, externalIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*pricesync.Product), args.Error(1)
}

func (m *MockProductRepository) FindChangedSince(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]*pricesync.Product, error) {
	args := m.Called(ctx, tenantID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*pricesync.Product), args.Error(1)
}

func (m *MockProductRepository) ListActive(ctx context.Context, tenantID uuid.UUID, afterID uuid.UUID, limit int) ([]*pricesync.Product, error) {
	args := m.Called(ctx, tenantID, afterID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*pricesync.Product), args.Error(1)
}

func (m *MockProductRepository) Save(ctx context.Context, p *pricesync.Product) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockProductRepository) UpsertErpMirror(ctx context.Context, e *pricesync.ErpProduct) error {
	return m.Called(ctx, e).Error(0)
}

func (m *MockProductRepository) ListPairs(ctx context.Context, tenantID uuid.UUID, afterID uuid.UUID, limit int) ([]pricesync.ProductPair, error) {
	args := m.Called(ctx, tenantID, afterID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]pricesync.ProductPair), args.Error(1)
}

type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*pricesync.Order, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pricesync.Order), args.Error(1)
}

func (m *MockOrderRepository) Save(ctx context.Context, o *pricesync.Order) error {
	return m.Called(ctx, o).Error(0)
}

func (m *MockOrderRepository) UpsertErpMirror(ctx context.Context, e *pricesync.ErpOrder) error {
	return m.Called(ctx, e).Error(0)
}

func (m *MockOrderRepository) ListPairs(ctx context.Context, tenantID uuid.UUID, afterID uuid.UUID, limit int) ([]pricesync.OrderPair, error) {
	args := m.Called(ctx, tenantID, afterID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]pricesync.OrderPair), args.Error(1)
}

type MockSettingsRepository struct {
	mock.Mock
}

func (m *MockSettingsRepository) Find(ctx context.Context, tenantID uuid.UUID) (*pricesync.TenantSyncSettings, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pricesync.TenantSyncSettings), args.Error(1)
}

func (m *MockSettingsRepository) Save(ctx context.Context, s *pricesync.TenantSyncSettings) error {
	return m.Called(ctx, s).Error(0)
}

func (m *MockSettingsRepository) ListAll(ctx context.Context) ([]pricesync.TenantSyncSettings, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]pricesync.TenantSyncSettings), args.Error(1)
}

type MockErpClient struct {
	mock.Mock
}

func (m *MockErpClient) FetchPrices(ctx context.Context, tenantID uuid.UUID, externalIDs []string) ([]pricesync.ErpProduct, error) {
	args := m.Called(ctx, tenantID, externalIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]pricesync.ErpProduct), args.Error(1)
}

type MockJobLocker struct {
	mock.Mock
}

func (m *MockJobLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (pricesync.JobLock, error) {
	args := m.Called(ctx, key, ttl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pricesync.JobLock), args.Error(1)
}

type MockJobLock struct {
	mock.Mock
}

func (m *MockJobLock) Release(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type MockArchiveStore struct {
	mock.Mock
}

func (m *MockArchiveStore) Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	args := m.Called(ctx, key, body, contentType)
	return args.String(0), args.Error(1)
}

type MockCacheInvalidator struct {
	mock.Mock
}

func (m *MockCacheInvalidator) Publish(ctx context.Context, msg pricesync.CacheUpdateMessage) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *MockCacheInvalidator) Subscribe(ctx context.Context, callback func(msg pricesync.CacheUpdateMessage)) error {
	return m.Called(ctx, callback).Error(0)
}

func (m *MockCacheInvalidator) Close() error {
	return m.Called().Error(0)
}

type MockReviewNotifier struct {
	mock.Mock
}

func (m *MockReviewNotifier) NotifyReview(ctx context.Context, c *pricesync.Conflict) error {
	return m.Called(ctx, c).Error(0)
}

// ============================================================================
// Fakes
// ============================================================================

// passthroughTx runs fn directly, as if inside a transaction
type passthroughTx struct{}

func (passthroughTx) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// recordingPublisher collects published events
type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

func (p *recordingPublisher) last(eventType string) shared.DomainEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].EventType() == eventType {
			return p.events[i]
		}
	}
	return nil
}
