package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withCleanEnv unsets the given variables for the duration of the test
func withCleanEnv(t *testing.T, keys ...string) {
	t.Helper()
	original := make(map[string]string, len(keys))
	for _, k := range keys {
		original[k] = os.Getenv(k)
		os.Unsetenv(k)
	}
	t.Cleanup(func() {
		for k, v := range original {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	})
}

var loadEnvKeys = []string{
	"ERP_APP_NAME",
	"ERP_APP_ENV",
	"ERP_APP_PORT",
	"ERP_DATABASE_HOST",
	"ERP_DATABASE_PORT",
	"ERP_DATABASE_PASSWORD",
	"ERP_DATABASE_SSLMODE",
	"ERP_DATABASE_MAX_OPEN_CONNS",
	"ERP_DATABASE_MAX_IDLE_CONNS",
	"ERP_JWT_SECRET",
	"ERP_ERP_BASE_URL",
	"ERP_SYNC_BULK_BATCH_SIZE",
	"ERP_SYNC_MAX_CONCURRENT_BATCHES",
	"ERP_SYNC_REALTIME_INTERVAL",
	"ERP_PRICING_CONFLICT_THRESHOLD_PERCENT",
	"ERP_PRICING_MAJOR_PRICE_DRIFT_PERCENT",
	"ERP_CONFLICT_ARCHIVE_ENABLED",
	"ERP_STORAGE_BUCKET",
	"ERP_SYNC_JOB_TIMEOUT",
	"ERP_HTTP_TRIGGER_RATE_PER_SECOND",
	"ERP_PRICING_AUTO_RESOLVE_TYPES",
}

func TestLoad(t *testing.T) {
	t.Run("loads default values when env vars not set", func(t *testing.T) {
		withCleanEnv(t, loadEnvKeys...)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "erp-pricesync", cfg.App.Name)
		assert.Equal(t, "development", cfg.App.Env)
		assert.Equal(t, "8080", cfg.App.Port)
		assert.Equal(t, "localhost", cfg.Database.Host)
		assert.Equal(t, 5432, cfg.Database.Port)
		assert.Equal(t, "pricesync", cfg.Database.DBName)
		assert.Equal(t, 25, cfg.Database.MaxOpenConns)

		assert.Equal(t, time.Minute, cfg.Sync.RealtimeInterval)
		assert.Equal(t, 15*time.Minute, cfg.Sync.IncrementalInterval)
		assert.Equal(t, 24*time.Hour, cfg.Sync.BulkInterval)
		assert.Equal(t, 25, cfg.Sync.RealtimeBatchSize)
		assert.Equal(t, 50, cfg.Sync.IncrementalBatchSize)
		assert.Equal(t, 100, cfg.Sync.BulkBatchSize)
		assert.Equal(t, 5, cfg.Sync.MaxConcurrentBatches)
		assert.Equal(t, 100*time.Millisecond, cfg.Sync.BatchStagger)
		assert.Equal(t, 60*time.Minute, cfg.Sync.StaleJobAfter)

		assert.Equal(t, 10.0, cfg.Pricing.ConflictThresholdPercent)
		assert.Equal(t, 20.0, cfg.Pricing.MajorPriceDriftPercent)
		assert.Equal(t, []string{"price_minor", "stock_minor"}, cfg.Pricing.AutoResolveTypes)
		assert.Equal(t, "smart_merge", cfg.Pricing.DefaultStrategy)

		assert.Equal(t, 5*time.Minute, cfg.Conflict.SweepInterval)
		assert.Equal(t, 90*24*time.Hour, cfg.Conflict.Retention)
		assert.Equal(t, 15*time.Second, cfg.ERP.RequestTimeout)
		assert.Equal(t, "us-east-1", cfg.Storage.Region)
	})

	t.Run("loads values from environment variables with ERP prefix", func(t *testing.T) {
		withCleanEnv(t, loadEnvKeys...)
		os.Setenv("ERP_APP_NAME", "test-app")
		os.Setenv("ERP_APP_PORT", "9000")
		os.Setenv("ERP_DATABASE_HOST", "testdb.local")
		os.Setenv("ERP_DATABASE_PORT", "5433")
		os.Setenv("ERP_SYNC_BULK_BATCH_SIZE", "250")
		os.Setenv("ERP_SYNC_REALTIME_INTERVAL", "30s")
		os.Setenv("ERP_ERP_BASE_URL", "https://erp.example.com")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "test-app", cfg.App.Name)
		assert.Equal(t, "9000", cfg.App.Port)
		assert.Equal(t, "testdb.local", cfg.Database.Host)
		assert.Equal(t, 5433, cfg.Database.Port)
		assert.Equal(t, 250, cfg.Sync.BulkBatchSize)
		assert.Equal(t, 30*time.Second, cfg.Sync.RealtimeInterval)
		assert.Equal(t, "https://erp.example.com", cfg.ERP.BaseURL)
	})

	t.Run("derives dependent settings", func(t *testing.T) {
		withCleanEnv(t, loadEnvKeys...)
		os.Setenv("ERP_SYNC_JOB_TIMEOUT", "10m")
		os.Setenv("ERP_HTTP_TRIGGER_RATE_PER_SECOND", "2.5")
		os.Setenv("ERP_PRICING_AUTO_RESOLVE_TYPES", "price_minor,attribute")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 20*time.Minute, cfg.Sync.StaleJobAfter)
		assert.Equal(t, 2.5, cfg.HTTP.TriggerRatePerSecond)
		assert.Equal(t, 5, cfg.HTTP.TriggerBurst)
		assert.Equal(t, []string{"price_minor", "attribute"}, cfg.Pricing.AutoResolveTypes)
	})

	t.Run("fails validation when max_idle_conns exceeds max_open_conns", func(t *testing.T) {
		withCleanEnv(t, loadEnvKeys...)
		os.Setenv("ERP_DATABASE_MAX_OPEN_CONNS", "5")
		os.Setenv("ERP_DATABASE_MAX_IDLE_CONNS", "10")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot exceed database.max_open_conns")
	})

	t.Run("fails validation when major drift is below conflict threshold", func(t *testing.T) {
		withCleanEnv(t, loadEnvKeys...)
		os.Setenv("ERP_PRICING_CONFLICT_THRESHOLD_PERCENT", "30")
		os.Setenv("ERP_PRICING_MAJOR_PRICE_DRIFT_PERCENT", "15")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "major_price_drift_percent")
	})

	t.Run("requires bucket when archive is enabled", func(t *testing.T) {
		withCleanEnv(t, loadEnvKeys...)
		os.Setenv("ERP_CONFLICT_ARCHIVE_ENABLED", "true")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "storage.bucket is required")
	})
}

func TestLoad_ProductionValidation(t *testing.T) {
	setValidProductionBase := func() {
		os.Setenv("ERP_APP_ENV", "production")
		os.Setenv("ERP_JWT_SECRET", "this-is-a-very-secure-jwt-secret-key-32chars")
		os.Setenv("ERP_DATABASE_PASSWORD", "secure-password")
		os.Setenv("ERP_DATABASE_SSLMODE", "require")
		os.Setenv("ERP_ERP_BASE_URL", "https://erp.example.com")
	}

	tests := []struct {
		name    string
		mutate  func()
		wantErr string
	}{
		{
			name:    "requires jwt.secret in production",
			mutate:  func() { os.Unsetenv("ERP_JWT_SECRET") },
			wantErr: "jwt.secret is required in production",
		},
		{
			name:    "requires jwt.secret at least 32 characters in production",
			mutate:  func() { os.Setenv("ERP_JWT_SECRET", "short-secret") },
			wantErr: "jwt.secret must be at least 32 characters",
		},
		{
			name:    "requires database.password in production",
			mutate:  func() { os.Unsetenv("ERP_DATABASE_PASSWORD") },
			wantErr: "database.password is required in production",
		},
		{
			name:    "requires SSL enabled in production",
			mutate:  func() { os.Setenv("ERP_DATABASE_SSLMODE", "disable") },
			wantErr: "database.sslmode cannot be 'disable' in production",
		},
		{
			name:    "requires erp.base_url in production",
			mutate:  func() { os.Unsetenv("ERP_ERP_BASE_URL") },
			wantErr: "erp.base_url is required in production",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withCleanEnv(t, loadEnvKeys...)
			setValidProductionBase()
			tt.mutate()

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("passes validation with valid production config", func(t *testing.T) {
		withCleanEnv(t, loadEnvKeys...)
		setValidProductionBase()

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "production", cfg.App.Env)
	})
}

func TestSyncConfig_PerCadence(t *testing.T) {
	s := SyncConfig{
		RealtimeBatchSize:    25,
		IncrementalBatchSize: 50,
		BulkBatchSize:        100,
		RealtimeInterval:     time.Minute,
		IncrementalInterval:  15 * time.Minute,
		BulkInterval:         24 * time.Hour,
	}

	assert.Equal(t, 25, s.BatchSize("realtime"))
	assert.Equal(t, 50, s.BatchSize("incremental"))
	assert.Equal(t, 100, s.BatchSize("bulk"))
	assert.Equal(t, time.Minute, s.Interval("realtime"))
	assert.Equal(t, 15*time.Minute, s.Interval("incremental"))
	assert.Equal(t, 24*time.Hour, s.Interval("bulk"))
}

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Run("generates valid DSN", func(t *testing.T) {
		cfg := DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "testuser",
			Password: "testpass",
			DBName:   "testdb",
			SSLMode:  "disable",
		}

		dsn := cfg.DSN()
		assert.Contains(t, dsn, "localhost:5432")
		assert.Contains(t, dsn, "testuser")
		assert.Contains(t, dsn, "testdb")
		assert.Contains(t, dsn, "sslmode=disable")
	})

	t.Run("escapes special characters in password", func(t *testing.T) {
		cfg := DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "user",
			Password: "pass@word#123",
			DBName:   "db",
			SSLMode:  "disable",
		}

		assert.Contains(t, cfg.DSN(), "pass%40word%23123")
	})
}
