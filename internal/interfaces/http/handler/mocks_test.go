package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	pricesyncapp "github.com/erp/pricesync/internal/application/pricesync"
	"github.com/erp/pricesync/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type MockSyncJobService struct {
	mock.Mock
}

func (m *MockSyncJobService) TriggerSync(ctx context.Context, req pricesyncapp.TriggerSyncRequest) (*pricesyncapp.TriggerSyncResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pricesyncapp.TriggerSyncResult), args.Error(1)
}

func (m *MockSyncJobService) GetJobStatus(ctx context.Context, tenantID, jobID uuid.UUID) (*pricesyncapp.SyncJobResponse, error) {
	args := m.Called(ctx, tenantID, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pricesyncapp.SyncJobResponse), args.Error(1)
}

func (m *MockSyncJobService) ListJobs(ctx context.Context, tenantID uuid.UUID, filter pricesyncapp.JobListFilter) ([]pricesyncapp.SyncJobResponse, int64, error) {
	args := m.Called(ctx, tenantID, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]pricesyncapp.SyncJobResponse), args.Get(1).(int64), args.Error(2)
}

type MockConflictService struct {
	mock.Mock
}

func (m *MockConflictService) ListConflicts(ctx context.Context, tenantID uuid.UUID, filter pricesyncapp.ConflictListFilter) ([]pricesyncapp.ConflictResponse, int64, error) {
	args := m.Called(ctx, tenantID, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]pricesyncapp.ConflictResponse), args.Get(1).(int64), args.Error(2)
}

func (m *MockConflictService) GetConflict(ctx context.Context, tenantID, conflictID uuid.UUID) (*pricesyncapp.ConflictResponse, error) {
	args := m.Called(ctx, tenantID, conflictID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pricesyncapp.ConflictResponse), args.Error(1)
}

func (m *MockConflictService) ResolveConflict(ctx context.Context, tenantID, conflictID uuid.UUID, req pricesyncapp.ResolveConflictRequest, resolvedBy string) (*pricesyncapp.ResolveConflictResult, error) {
	args := m.Called(ctx, tenantID, conflictID, req, resolvedBy)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pricesyncapp.ResolveConflictResult), args.Error(1)
}

func (m *MockConflictService) IgnoreConflict(ctx context.Context, tenantID, conflictID uuid.UUID, req pricesyncapp.IgnoreConflictRequest, ignoredBy string) (*pricesyncapp.ConflictResponse, error) {
	args := m.Called(ctx, tenantID, conflictID, req, ignoredBy)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pricesyncapp.ConflictResponse), args.Error(1)
}

func (m *MockConflictService) DetectConflicts(ctx context.Context, tenantID uuid.UUID) (pricesyncapp.DetectionSummary, error) {
	args := m.Called(ctx, tenantID)
	return args.Get(0).(pricesyncapp.DetectionSummary), args.Error(1)
}

type MockRuleService struct {
	mock.Mock
}

func (m *MockRuleService) Upsert(ctx context.Context, tenantID uuid.UUID, req pricesyncapp.UpsertPricingRuleRequest) (*pricesyncapp.PricingRuleResponse, error) {
	args := m.Called(ctx, tenantID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pricesyncapp.PricingRuleResponse), args.Error(1)
}

func (m *MockRuleService) Get(ctx context.Context, tenantID, ruleID uuid.UUID) (*pricesyncapp.PricingRuleResponse, error) {
	args := m.Called(ctx, tenantID, ruleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pricesyncapp.PricingRuleResponse), args.Error(1)
}

func (m *MockRuleService) List(ctx context.Context, tenantID uuid.UUID, ruleType string, includeInactive bool) ([]pricesyncapp.PricingRuleResponse, error) {
	args := m.Called(ctx, tenantID, ruleType, includeInactive)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]pricesyncapp.PricingRuleResponse), args.Error(1)
}

func (m *MockRuleService) Deactivate(ctx context.Context, tenantID, ruleID uuid.UUID) (*pricesyncapp.PricingRuleResponse, error) {
	args := m.Called(ctx, tenantID, ruleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pricesyncapp.PricingRuleResponse), args.Error(1)
}

type MockSettingsService struct {
	mock.Mock
}

func (m *MockSettingsService) Get(ctx context.Context, tenantID uuid.UUID) pricesyncapp.SettingsResponse {
	args := m.Called(ctx, tenantID)
	return args.Get(0).(pricesyncapp.SettingsResponse)
}

func (m *MockSettingsService) Update(ctx context.Context, tenantID uuid.UUID, req pricesyncapp.SettingsRequest) (*pricesyncapp.SettingsResponse, error) {
	args := m.Called(ctx, tenantID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pricesyncapp.SettingsResponse), args.Error(1)
}

type MockHistoryService struct {
	mock.Mock
}

func (m *MockHistoryService) ListByEntity(ctx context.Context, tenantID, entityID uuid.UUID, filter pricesyncapp.HistoryFilter) ([]pricesyncapp.PriceChangeResponse, int64, error) {
	args := m.Called(ctx, tenantID, entityID, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]pricesyncapp.PriceChangeResponse), args.Get(1).(int64), args.Error(2)
}

func init() {
	middleware.SetupValidator()
}

// newTestEngine returns an engine whose requests carry the given identity
func newTestEngine(tenantID, userID uuid.UUID) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if tenantID != uuid.Nil {
			setJWTContext(c, tenantID, userID)
		}
		c.Next()
	})
	return r
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
