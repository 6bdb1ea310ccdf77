package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/pricesync/internal/infrastructure/config"
	"github.com/erp/pricesync/internal/infrastructure/logger"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const defaultConnectTimeout = 10 * time.Second

// Database wraps the gorm handle shared by every repository
type Database struct {
	DB *gorm.DB
}

// DatabaseOption customizes how the pool is opened
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	logLevel       gormlogger.LogLevel
	slowThreshold  time.Duration
	connectTimeout time.Duration
}

// WithSQLLogging logs statements at level and flags those slower than slow.
func WithSQLLogging(level gormlogger.LogLevel, slow time.Duration) DatabaseOption {
	return func(o *databaseOptions) {
		o.logLevel = level
		o.slowThreshold = slow
	}
}

// WithConnectTimeout bounds the initial ping.
func WithConnectTimeout(d time.Duration) DatabaseOption {
	return func(o *databaseOptions) {
		if d > 0 {
			o.connectTimeout = d
		}
	}
}

// OpenDatabase opens the postgres pool described by cfg and verifies it
// answers before returning.
func OpenDatabase(ctx context.Context, cfg *config.DatabaseConfig, zl *zap.Logger, opts ...DatabaseOption) (*Database, error) {
	o := databaseOptions{logLevel: gormlogger.Warn, slowThreshold: 200 * time.Millisecond, connectTimeout: defaultConnectTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	gdb, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:                 logger.NewGormLogger(zl, o.logLevel, o.slowThreshold),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres %s/%s: %w", cfg.Host, cfg.DBName, err)
	}
	db := &Database{DB: gdb}
	if err := db.tunePool(cfg); err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, o.connectTimeout)
	defer cancel()
	if err := db.Ping(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (d *Database) tunePool(cfg *config.DatabaseConfig) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)
	return nil
}

// Ping round-trips to the server. It doubles as the readiness probe.
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("access connection pool: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close releases every pooled connection
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("access connection pool: %w", err)
	}
	return sqlDB.Close()
}
