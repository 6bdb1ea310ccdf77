package pricesync

import (
	"context"
	"sync"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RuleCacheKey identifies one cached rule snapshot
type RuleCacheKey struct {
	TenantID uuid.UUID
	RuleType pricesync.RuleType
}

// RuleCache holds compiled rule snapshots per tenant and rule type. Entries
// live until a rule write invalidates them, locally or via broadcast.
type RuleCache struct {
	repo        pricesync.PricingRuleRepository
	invalidator pricesync.CacheInvalidator
	logger      *zap.Logger

	mu      sync.RWMutex
	entries map[RuleCacheKey]*pricesync.RuleSnapshot
}

// NewRuleCache creates a rule cache. invalidator may be nil.
func NewRuleCache(repo pricesync.PricingRuleRepository, invalidator pricesync.CacheInvalidator, logger *zap.Logger) *RuleCache {
	return &RuleCache{
		repo:        repo,
		invalidator: invalidator,
		logger:      logger,
		entries:     make(map[RuleCacheKey]*pricesync.RuleSnapshot),
	}
}

// Snapshot returns the active rules of one type for a tenant, loading and
// compiling them on a miss
func (c *RuleCache) Snapshot(ctx context.Context, tenantID uuid.UUID, ruleType pricesync.RuleType) (*pricesync.RuleSnapshot, error) {
	key := RuleCacheKey{TenantID: tenantID, RuleType: ruleType}

	c.mu.RLock()
	snap, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return snap, nil
	}

	rules, err := c.repo.FindActive(ctx, tenantID, ruleType)
	if err != nil {
		return nil, err
	}
	snap = pricesync.NewRuleSnapshot(tenantID, ruleType, rules)

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another loader may have won; keep whichever is already stored so every
	// caller shares one snapshot.
	if existing, ok := c.entries[key]; ok {
		return existing, nil
	}
	c.entries[key] = snap
	return snap, nil
}

// Invalidate drops cached snapshots. An empty ruleType drops every type of
// the tenant.
func (c *RuleCache) Invalidate(tenantID uuid.UUID, ruleType pricesync.RuleType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ruleType != "" {
		delete(c.entries, RuleCacheKey{TenantID: tenantID, RuleType: ruleType})
		return
	}
	for key := range c.entries {
		if key.TenantID == tenantID {
			delete(c.entries, key)
		}
	}
}

// InvalidateAll empties the cache
func (c *RuleCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Len returns the number of cached snapshots
func (c *RuleCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Broadcast invalidates locally and tells other instances to do the same
func (c *RuleCache) Broadcast(ctx context.Context, tenantID uuid.UUID, ruleType pricesync.RuleType) {
	c.Invalidate(tenantID, ruleType)
	if c.invalidator == nil {
		return
	}
	msg := pricesync.CacheUpdateMessage{Scope: pricesync.CacheScopeRules, TenantID: tenantID, RuleType: ruleType}
	if err := c.invalidator.Publish(ctx, msg); err != nil {
		c.logger.Warn("failed to broadcast rule cache invalidation",
			zap.String("tenant_id", tenantID.String()),
			zap.String("rule_type", string(ruleType)),
			zap.Error(err))
	}
}

// CacheUpdateApplier applies broadcast cache updates to the local rule cache
// and settings store
type CacheUpdateApplier struct {
	rules    *RuleCache
	settings *SettingsStore
	logger   *zap.Logger
}

// NewCacheUpdateApplier creates an applier
func NewCacheUpdateApplier(rules *RuleCache, settings *SettingsStore, logger *zap.Logger) *CacheUpdateApplier {
	return &CacheUpdateApplier{rules: rules, settings: settings, logger: logger}
}

// Apply handles one received message
func (a *CacheUpdateApplier) Apply(ctx context.Context, msg pricesync.CacheUpdateMessage) {
	switch msg.Scope {
	case pricesync.CacheScopeRules:
		a.rules.Invalidate(msg.TenantID, msg.RuleType)
	case pricesync.CacheScopeSettings:
		if err := a.settings.ReloadTenant(ctx, msg.TenantID); err != nil {
			a.logger.Warn("failed to reload tenant settings",
				zap.String("tenant_id", msg.TenantID.String()),
				zap.Error(err))
		}
	case pricesync.CacheScopeAll:
		a.rules.InvalidateAll()
		if err := a.settings.Reload(ctx); err != nil {
			a.logger.Warn("failed to reload settings", zap.Error(err))
		}
	default:
		a.logger.Debug("ignoring cache update", zap.String("scope", string(msg.Scope)))
	}
}

// Run subscribes to the invalidator and applies messages until ctx is done
func (a *CacheUpdateApplier) Run(ctx context.Context, invalidator pricesync.CacheInvalidator) error {
	return invalidator.Subscribe(ctx, func(msg pricesync.CacheUpdateMessage) {
		a.Apply(ctx, msg)
	})
}
