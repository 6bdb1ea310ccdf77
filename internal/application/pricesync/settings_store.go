package pricesync

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/erp/pricesync/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SettingsSnapshot is an immutable view of every tenant's sync policy.
// It is replaced wholesale, never mutated, so readers holding an old
// snapshot keep a consistent view for the rest of their job.
type SettingsSnapshot struct {
	defaults pricesync.TenantSyncSettings
	tenants  map[uuid.UUID]pricesync.TenantSyncSettings
	loadedAt time.Time
}

// For returns the tenant's settings, falling back to the defaults
func (s *SettingsSnapshot) For(tenantID uuid.UUID) pricesync.TenantSyncSettings {
	if t, ok := s.tenants[tenantID]; ok {
		return t.Clone()
	}
	return s.defaults.ForTenant(tenantID)
}

// TenantIDs returns the tenants with stored settings, sorted
func (s *SettingsSnapshot) TenantIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s.tenants))
	for id := range s.tenants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// LoadedAt returns when the snapshot was built
func (s *SettingsSnapshot) LoadedAt() time.Time { return s.loadedAt }

// with returns a copy of s with one tenant replaced
func (s *SettingsSnapshot) with(settings pricesync.TenantSyncSettings) *SettingsSnapshot {
	tenants := make(map[uuid.UUID]pricesync.TenantSyncSettings, len(s.tenants)+1)
	for k, v := range s.tenants {
		tenants[k] = v
	}
	tenants[settings.TenantID] = settings.Clone()
	return &SettingsSnapshot{defaults: s.defaults, tenants: tenants, loadedAt: time.Now()}
}

// SettingsStore serves tenant settings from an atomically swapped snapshot.
// Writes go to the repository first, then replace the snapshot and notify
// other instances.
type SettingsStore struct {
	repo        pricesync.SettingsRepository
	invalidator pricesync.CacheInvalidator
	logger      *zap.Logger

	current atomic.Pointer[SettingsSnapshot]
	writeMu sync.Mutex
}

// NewSettingsStore creates a store serving defaults until Reload is called.
// invalidator may be nil for single-instance deployments.
func NewSettingsStore(
	repo pricesync.SettingsRepository,
	defaults pricesync.TenantSyncSettings,
	invalidator pricesync.CacheInvalidator,
	logger *zap.Logger,
) *SettingsStore {
	s := &SettingsStore{repo: repo, invalidator: invalidator, logger: logger}
	s.current.Store(&SettingsSnapshot{
		defaults: defaults.Clone(),
		tenants:  map[uuid.UUID]pricesync.TenantSyncSettings{},
		loadedAt: time.Now(),
	})
	return s
}

// Snapshot returns the current snapshot
func (s *SettingsStore) Snapshot() *SettingsSnapshot {
	return s.current.Load()
}

// Get returns the settings for a tenant
func (s *SettingsStore) Get(tenantID uuid.UUID) pricesync.TenantSyncSettings {
	return s.Snapshot().For(tenantID)
}

// Defaults returns the built-in policy
func (s *SettingsStore) Defaults() pricesync.TenantSyncSettings {
	return s.Snapshot().defaults.Clone()
}

// Reload rebuilds the snapshot from the repository
func (s *SettingsStore) Reload(ctx context.Context) error {
	all, err := s.repo.ListAll(ctx)
	if err != nil {
		return err
	}
	tenants := make(map[uuid.UUID]pricesync.TenantSyncSettings, len(all))
	for _, t := range all {
		tenants[t.TenantID] = t.Clone()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.current.Store(&SettingsSnapshot{
		defaults: s.Snapshot().defaults,
		tenants:  tenants,
		loadedAt: time.Now(),
	})
	s.logger.Debug("sync settings reloaded", zap.Int("tenants", len(tenants)))
	return nil
}

// ReloadTenant refreshes a single tenant from the repository
func (s *SettingsStore) ReloadTenant(ctx context.Context, tenantID uuid.UUID) error {
	settings, err := s.repo.Find(ctx, tenantID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.swap(*settings)
	return nil
}

// Update validates, persists and publishes new settings for a tenant
func (s *SettingsStore) Update(ctx context.Context, settings pricesync.TenantSyncSettings) (pricesync.TenantSyncSettings, error) {
	if settings.TenantID == uuid.Nil {
		return pricesync.TenantSyncSettings{}, pricesync.ErrInvalidTenantID
	}
	if err := settings.Validate(); err != nil {
		return pricesync.TenantSyncSettings{}, err
	}
	settings.UpdatedAt = time.Now()
	if err := s.repo.Save(ctx, &settings); err != nil {
		return pricesync.TenantSyncSettings{}, err
	}
	s.swap(settings)

	if s.invalidator != nil {
		msg := pricesync.CacheUpdateMessage{Scope: pricesync.CacheScopeSettings, TenantID: settings.TenantID}
		if err := s.invalidator.Publish(ctx, msg); err != nil {
			s.logger.Warn("failed to broadcast settings change",
				zap.String("tenant_id", settings.TenantID.String()),
				zap.Error(err))
		}
	}
	return settings.Clone(), nil
}

// SyncEnabledTenantIDs lists tenants with stored settings and sync enabled
func (s *SettingsStore) SyncEnabledTenantIDs(_ context.Context) ([]uuid.UUID, error) {
	snap := s.Snapshot()
	ids := make([]uuid.UUID, 0, len(snap.tenants))
	for _, id := range snap.TenantIDs() {
		if snap.tenants[id].SyncEnabled {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *SettingsStore) swap(settings pricesync.TenantSyncSettings) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.current.Store(s.Snapshot().with(settings))
}
