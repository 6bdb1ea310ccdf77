package pricesync

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

// CacheUpdateScope says which cached snapshot a CacheUpdateMessage invalidates
type CacheUpdateScope string

const (
	CacheScopeRules    CacheUpdateScope = "rules"
	CacheScopeSettings CacheUpdateScope = "settings"
	CacheScopeAll      CacheUpdateScope = "all"
)

// CacheUpdateMessage is broadcast to every instance after a rule or settings
// write. An empty RuleType with CacheScopeRules drops every rule type of the tenant.
type CacheUpdateMessage struct {
	Scope     CacheUpdateScope `json:"scope"`
	TenantID  uuid.UUID        `json:"tenant_id"`
	RuleType  RuleType         `json:"rule_type,omitempty"`
	Timestamp int64            `json:"timestamp"`
}

// CacheInvalidator fans cache updates out to other instances
type CacheInvalidator interface {
	Publish(ctx context.Context, msg CacheUpdateMessage) error
	// Subscribe blocks, invoking callback per received message, until ctx is done
	Subscribe(ctx context.Context, callback func(msg CacheUpdateMessage)) error
	Close() error
}

// ErrLockNotObtained is returned by JobLocker when another holder owns the key
var ErrLockNotObtained = errors.New("pricesync: job lock held elsewhere")

// JobLock is a held lock
type JobLock interface {
	Release(ctx context.Context) error
}

// JobLocker provides a cross-instance mutex per job key
type JobLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (JobLock, error)
}

// JobLockKey is the lock key for a tenant's cadence
func JobLockKey(tenantID uuid.UUID, cadence Cadence) string {
	return "pricesync:job:" + tenantID.String() + ":" + string(cadence)
}

// ArchiveStore receives exported conflict history
type ArchiveStore interface {
	// Put stores body under key and returns a locator for logs
	Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
}
