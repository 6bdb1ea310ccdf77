package pricesync

import (
	"context"
	"testing"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRuleCache_LoadsOncePerKey(t *testing.T) {
	repo := new(MockPricingRuleRepository)
	tenantID := uuid.New()
	rule, err := pricesync.NewPricingRule(tenantID, "Markup", pricesync.RuleTypePrice, 1, "",
		[]pricesync.RuleAction{{Type: pricesync.ActionPercentageMarkup, Value: dec("5")}})
	require.NoError(t, err)
	repo.On("FindActive", mock.Anything, tenantID, pricesync.RuleTypePrice).Return([]*pricesync.PricingRule{rule}, nil).Once()
	repo.On("FindActive", mock.Anything, tenantID, pricesync.RuleTypeStock).Return([]*pricesync.PricingRule{}, nil).Once()
	cache := NewRuleCache(repo, nil, zap.NewNop())

	first, err := cache.Snapshot(context.Background(), tenantID, pricesync.RuleTypePrice)
	require.NoError(t, err)
	second, err := cache.Snapshot(context.Background(), tenantID, pricesync.RuleTypePrice)
	require.NoError(t, err)
	_, err = cache.Snapshot(context.Background(), tenantID, pricesync.RuleTypeStock)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, first.Len())
	assert.Equal(t, 2, cache.Len())
	repo.AssertExpectations(t)
}

func TestRuleCache_Invalidate(t *testing.T) {
	repo := new(MockPricingRuleRepository)
	repo.On("FindActive", mock.Anything, mock.Anything, mock.Anything).Return([]*pricesync.PricingRule{}, nil)
	cache := NewRuleCache(repo, nil, zap.NewNop())
	a, b := uuid.New(), uuid.New()
	for _, id := range []uuid.UUID{a, b} {
		for _, rt := range []pricesync.RuleType{pricesync.RuleTypePrice, pricesync.RuleTypeStock} {
			_, err := cache.Snapshot(context.Background(), id, rt)
			require.NoError(t, err)
		}
	}
	require.Equal(t, 4, cache.Len())

	cache.Invalidate(a, pricesync.RuleTypePrice)
	assert.Equal(t, 3, cache.Len())

	cache.Invalidate(a, "")
	assert.Equal(t, 2, cache.Len())

	cache.InvalidateAll()
	assert.Equal(t, 0, cache.Len())
}

func TestCacheUpdateApplier_Apply(t *testing.T) {
	rules := new(MockPricingRuleRepository)
	rules.On("FindActive", mock.Anything, mock.Anything, mock.Anything).Return([]*pricesync.PricingRule{}, nil)
	cache := NewRuleCache(rules, nil, zap.NewNop())

	settingsRepo := new(MockSettingsRepository)
	store := NewSettingsStore(settingsRepo, pricesync.DefaultTenantSyncSettings(), nil, zap.NewNop())
	applier := NewCacheUpdateApplier(cache, store, zap.NewNop())

	tenantID := uuid.New()
	_, err := cache.Snapshot(context.Background(), tenantID, pricesync.RuleTypePrice)
	require.NoError(t, err)

	applier.Apply(context.Background(), pricesync.CacheUpdateMessage{Scope: pricesync.CacheScopeRules, TenantID: tenantID})
	assert.Equal(t, 0, cache.Len())

	stored := pricesync.DefaultTenantSyncSettings().ForTenant(tenantID)
	stored.SyncEnabled = false
	settingsRepo.On("Find", mock.Anything, tenantID).Return(&stored, nil).Once()
	applier.Apply(context.Background(), pricesync.CacheUpdateMessage{Scope: pricesync.CacheScopeSettings, TenantID: tenantID})
	assert.False(t, store.Get(tenantID).SyncEnabled)

	settingsRepo.On("ListAll", mock.Anything).Return([]pricesync.TenantSyncSettings{}, nil).Once()
	applier.Apply(context.Background(), pricesync.CacheUpdateMessage{Scope: pricesync.CacheScopeAll})
	assert.True(t, store.Get(tenantID).SyncEnabled)
	settingsRepo.AssertExpectations(t)
}
