package persistence

import (
	"context"
	"time"

	"github.com/erp/pricesync/internal/domain/pricesync"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type txKey struct{}

// conn returns the transaction carried by ctx, or db bound to ctx
func conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

// inTransaction runs fn in the transaction carried by ctx, opening one on
// db when there is none.
func inTransaction(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(tx.WithContext(ctx))
	}
	return db.WithContext(ctx).Transaction(fn)
}

// GormTransactor opens transactions and hands them to repositories through
// the context. Serialization failures and deadlocks are retried.
type GormTransactor struct {
	db       *gorm.DB
	attempts int
	backoff  time.Duration
	logger   *zap.Logger
}

// TransactorOption configures a GormTransactor
type TransactorOption func(*GormTransactor)

// WithRetry sets how often a retryable failure is re-run and the base
// backoff between attempts
func WithRetry(attempts int, backoff time.Duration) TransactorOption {
	return func(t *GormTransactor) {
		if attempts > 0 {
			t.attempts = attempts
		}
		t.backoff = backoff
	}
}

// WithTransactorLogger sets the logger used to report retries
func WithTransactorLogger(l *zap.Logger) TransactorOption {
	return func(t *GormTransactor) {
		t.logger = l
	}
}

// NewGormTransactor creates a transactor over db
func NewGormTransactor(db *gorm.DB, opts ...TransactorOption) *GormTransactor {
	t := &GormTransactor{
		db:       db,
		attempts: 1,
		backoff:  50 * time.Millisecond,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// WithinTransaction runs fn in a transaction. A ctx already carrying a
// transaction joins it and is never retried on its own.
func (t *GormTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}

	var err error
	for attempt := 1; attempt <= t.attempts; attempt++ {
		err = t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(context.WithValue(ctx, txKey{}, tx))
		})
		if err == nil || !isRetryableTxError(err) || attempt == t.attempts {
			return err
		}
		t.logger.Warn("retrying transaction",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if sleepErr := sleepWithContext(ctx, t.backoff*time.Duration(attempt)); sleepErr != nil {
			return sleepErr
		}
	}
	return err
}

var _ pricesync.Transactor = (*GormTransactor)(nil)
