// Package config loads service configuration from config.toml and ERP_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Log       LogConfig       `mapstructure:"log"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Conflict  ConflictConfig  `mapstructure:"conflict"`
	ERP       ERPConfig       `mapstructure:"erp"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
	Output string `mapstructure:"output"` // stdout, stderr or a file path
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Port string `mapstructure:"port"`
}

// DatabaseConfig describes the PostgreSQL pool. Lifetimes are minutes.
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time"`
}

// DSN renders a postgres URL with user info and parameters escaped
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + strconv.Itoa(d.Port),
		Path:     d.DBName,
		RawQuery: url.Values{"sslmode": {d.SSLMode}}.Encode(),
	}
	return u.String()
}

// RedisConfig is optional. Channel carries settings invalidations between
// replicas.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

func (r *RedisConfig) Addr() string {
	return r.Host + ":" + strconv.Itoa(r.Port)
}

// JWTConfig verifies operator tokens. An empty secret disables
// verification and is refused in production.
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type HTTPConfig struct {
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	MaxHeaderBytes   int           `mapstructure:"max_header_bytes"`
	MaxBodySize      int64         `mapstructure:"max_body_size"`
	CORSAllowOrigins []string      `mapstructure:"cors_allow_origins"`
	CORSAllowMethods []string      `mapstructure:"cors_allow_methods"`
	CORSAllowHeaders []string      `mapstructure:"cors_allow_headers"`
	TrustedProxies   []string      `mapstructure:"trusted_proxies"`

	// per tenant token bucket on job triggers and webhooks, 0 disables
	TriggerRatePerSecond float64 `mapstructure:"trigger_rate_per_second"`
	TriggerBurst         int     `mapstructure:"trigger_burst"`

	WebhookMaxBodySize int64 `mapstructure:"webhook_max_body_size"`
}

type SyncConfig struct {
	SchedulerEnabled     bool          `mapstructure:"scheduler_enabled"`
	RealtimeInterval     time.Duration `mapstructure:"realtime_interval"`
	IncrementalInterval  time.Duration `mapstructure:"incremental_interval"`
	BulkInterval         time.Duration `mapstructure:"bulk_interval"`
	RealtimeBatchSize    int           `mapstructure:"realtime_batch_size"`
	IncrementalBatchSize int           `mapstructure:"incremental_batch_size"`
	BulkBatchSize        int           `mapstructure:"bulk_batch_size"`
	MaxConcurrentBatches int           `mapstructure:"max_concurrent_batches"`
	BatchStagger         time.Duration `mapstructure:"batch_stagger"`
	JobTimeout           time.Duration `mapstructure:"job_timeout"`
	RealtimeWindow       time.Duration `mapstructure:"realtime_window"`
	IncrementalLookback  time.Duration `mapstructure:"incremental_lookback"`
	TxRetryAttempts      int           `mapstructure:"tx_retry_attempts"`
	TxRetryBackoff       time.Duration `mapstructure:"tx_retry_backoff"`
	SettingsRefresh      time.Duration `mapstructure:"settings_refresh"`
	// zero means twice JobTimeout
	StaleJobAfter time.Duration `mapstructure:"stale_job_after"`
}

// BatchSize is the page size used by a cadence. Unknown cadences get the
// bulk size.
func (s *SyncConfig) BatchSize(cadence string) int {
	switch cadence {
	case "realtime":
		return s.RealtimeBatchSize
	case "incremental":
		return s.IncrementalBatchSize
	}
	return s.BulkBatchSize
}

func (s *SyncConfig) Interval(cadence string) time.Duration {
	switch cadence {
	case "realtime":
		return s.RealtimeInterval
	case "incremental":
		return s.IncrementalInterval
	}
	return s.BulkInterval
}

// PricingConfig is the policy for tenants without stored sync settings.
// Zero increase or decrease caps mean unbounded.
type PricingConfig struct {
	TolerancePercent         float64       `mapstructure:"tolerance_percent"`
	MinAbsoluteChange        float64       `mapstructure:"min_absolute_change"`
	MaxIncreasePercent       float64       `mapstructure:"max_increase_percent"`
	MaxDecreasePercent       float64       `mapstructure:"max_decrease_percent"`
	ConflictThresholdPercent float64       `mapstructure:"conflict_threshold_percent"`
	MajorPriceDriftPercent   float64       `mapstructure:"major_price_drift_percent"`
	StockConflictUnits       int64         `mapstructure:"stock_conflict_units"`
	MajorStockDriftUnits     int64         `mapstructure:"major_stock_drift_units"`
	AttributeSkew            time.Duration `mapstructure:"attribute_skew"`
	AutoResolveTypes         []string      `mapstructure:"auto_resolve_types"`
	DefaultStrategy          string        `mapstructure:"default_strategy"`
	SourcePriority           string        `mapstructure:"source_priority"`
}

type ConflictConfig struct {
	SweepEnabled     bool          `mapstructure:"sweep_enabled"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	SweepPageSize    int           `mapstructure:"sweep_page_size"`
	Retention        time.Duration `mapstructure:"retention"`
	ArchiveEnabled   bool          `mapstructure:"archive_enabled"`
	ArchiveInterval  time.Duration `mapstructure:"archive_interval"`
	ArchiveBatchSize int           `mapstructure:"archive_batch_size"`
}

type ERPConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	APIKey             string        `mapstructure:"api_key"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	RateLimitPerSecond int           `mapstructure:"rate_limit_per_second"`
	MaxIDsPerRequest   int           `mapstructure:"max_ids_per_request"`
	WebhookSecret      string        `mapstructure:"webhook_secret"`
	WebhookDeliveryTTL time.Duration `mapstructure:"webhook_delivery_ttl"`
}

// StorageConfig points the conflict archive at an S3 compatible bucket
type StorageConfig struct {
	Endpoint     string `mapstructure:"endpoint"`
	Region       string `mapstructure:"region"`
	Bucket       string `mapstructure:"bucket"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	UseSSL       bool   `mapstructure:"use_ssl"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	Prefix       string `mapstructure:"prefix"`
}

type TelemetryConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	CollectorEndpoint string        `mapstructure:"collector_endpoint"` // OTLP gRPC host:port
	SamplingRatio     float64       `mapstructure:"sampling_ratio"`
	ServiceName       string        `mapstructure:"service_name"`
	Insecure          bool          `mapstructure:"insecure"`
	LogExportEnabled  bool          `mapstructure:"log_export_enabled"`
	MetricsInterval   time.Duration `mapstructure:"metrics_interval"`

	DBTraceEnabled    bool          `mapstructure:"db_trace_enabled"`
	DBSlowQueryThresh time.Duration `mapstructure:"db_slow_query_threshold"`

	ProfilingEnabled  bool     `mapstructure:"profiling_enabled"`
	PyroscopeAddress  string   `mapstructure:"pyroscope_address"`
	PyroscopeUser     string   `mapstructure:"pyroscope_user"`
	PyroscopePassword string   `mapstructure:"pyroscope_password"`
	ProfileTypes      []string `mapstructure:"profile_types"`
}

// defaults registers every key, which also lets AutomaticEnv resolve keys
// that appear in no config file.
var defaults = map[string]any{
	"app.name": "erp-pricesync",
	"app.env":  "development",
	"app.port": "8080",

	"database.host":               "localhost",
	"database.port":               5432,
	"database.user":               "postgres",
	"database.password":           "",
	"database.dbname":             "pricesync",
	"database.sslmode":            "disable",
	"database.max_open_conns":     25,
	"database.max_idle_conns":     5,
	"database.conn_max_lifetime":  60,
	"database.conn_max_idle_time": 30,

	"redis.enabled":  false,
	"redis.host":     "localhost",
	"redis.port":     6379,
	"redis.password": "",
	"redis.db":       0,
	"redis.channel":  "pricesync:invalidation",

	"jwt.secret": "",
	"jwt.issuer": "erp-pricesync",

	"log.level":  "info",
	"log.format": "console",
	"log.output": "stdout",

	"http.read_timeout":            15 * time.Second,
	"http.write_timeout":           15 * time.Second,
	"http.idle_timeout":            time.Minute,
	"http.max_header_bytes":        1 << 20,
	"http.max_body_size":           2 << 20,
	"http.cors_allow_origins":      []string{},
	"http.cors_allow_methods":      []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
	"http.cors_allow_headers":      []string{"Content-Type", "Authorization", "X-Request-ID", "X-Tenant-ID"},
	"http.trusted_proxies":         []string{},
	"http.trigger_rate_per_second": 0.0,
	"http.trigger_burst":           0,
	"http.webhook_max_body_size":   256 << 10,

	"sync.scheduler_enabled":      false,
	"sync.realtime_interval":      time.Minute,
	"sync.incremental_interval":   15 * time.Minute,
	"sync.bulk_interval":          24 * time.Hour,
	"sync.realtime_batch_size":    25,
	"sync.incremental_batch_size": 50,
	"sync.bulk_batch_size":        100,
	"sync.max_concurrent_batches": 5,
	"sync.batch_stagger":          100 * time.Millisecond,
	"sync.job_timeout":            30 * time.Minute,
	"sync.realtime_window":        5 * time.Minute,
	"sync.incremental_lookback":   24 * time.Hour,
	"sync.tx_retry_attempts":      3,
	"sync.tx_retry_backoff":       50 * time.Millisecond,
	"sync.settings_refresh":       time.Minute,
	"sync.stale_job_after":        time.Duration(0),

	"pricing.tolerance_percent":          0.5,
	"pricing.min_absolute_change":        0.5,
	"pricing.max_increase_percent":       50.0,
	"pricing.max_decrease_percent":       50.0,
	"pricing.conflict_threshold_percent": 10.0,
	"pricing.major_price_drift_percent":  20.0,
	"pricing.stock_conflict_units":       5,
	"pricing.major_stock_drift_units":    50,
	"pricing.attribute_skew":             5 * time.Minute,
	"pricing.auto_resolve_types":         []string{"price_minor", "stock_minor"},
	"pricing.default_strategy":           "smart_merge",
	"pricing.source_priority":            "erp",

	"conflict.sweep_enabled":      false,
	"conflict.sweep_interval":     5 * time.Minute,
	"conflict.sweep_page_size":    200,
	"conflict.retention":          90 * 24 * time.Hour,
	"conflict.archive_enabled":    false,
	"conflict.archive_interval":   24 * time.Hour,
	"conflict.archive_batch_size": 500,

	"erp.base_url":              "",
	"erp.api_key":               "",
	"erp.request_timeout":       15 * time.Second,
	"erp.rate_limit_per_second": 10,
	"erp.max_ids_per_request":   100,
	"erp.webhook_secret":        "",
	"erp.webhook_delivery_ttl":  24 * time.Hour,

	"storage.endpoint":       "",
	"storage.region":         "us-east-1",
	"storage.bucket":         "",
	"storage.access_key":     "",
	"storage.secret_key":     "",
	"storage.use_ssl":        true,
	"storage.use_path_style": false,
	"storage.prefix":         "conflict-archive/",

	"telemetry.enabled":                 false,
	"telemetry.collector_endpoint":      "localhost:4317",
	"telemetry.sampling_ratio":          1.0,
	"telemetry.service_name":            "erp-pricesync",
	"telemetry.insecure":                false,
	"telemetry.log_export_enabled":      false,
	"telemetry.metrics_interval":        time.Minute,
	"telemetry.db_trace_enabled":        false,
	"telemetry.db_slow_query_threshold": 200 * time.Millisecond,
	"telemetry.profiling_enabled":       false,
	"telemetry.pyroscope_address":       "",
	"telemetry.pyroscope_user":          "",
	"telemetry.pyroscope_password":      "",
	"telemetry.profile_types":           []string{},
}

// Load reads configuration. Sources in decreasing priority: ERP_ prefixed
// environment variables (ERP_DATABASE_PASSWORD), config.toml in the working
// directory or /app, built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("ERP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.derive()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// derive fills settings whose default depends on another setting
func (c *Config) derive() {
	if c.Sync.StaleJobAfter <= 0 {
		c.Sync.StaleJobAfter = 2 * c.Sync.JobTimeout
	}
	if c.HTTP.TriggerRatePerSecond > 0 && c.HTTP.TriggerBurst <= 0 {
		c.HTTP.TriggerBurst = 5
	}
}

func (c *Config) validate() error {
	db := c.Database
	switch {
	case db.MaxOpenConns <= 0:
		return errors.New("database.max_open_conns must be positive")
	case db.MaxIdleConns < 0:
		return errors.New("database.max_idle_conns cannot be negative")
	case db.MaxIdleConns > db.MaxOpenConns:
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			db.MaxIdleConns, db.MaxOpenConns)
	case c.Sync.MaxConcurrentBatches < 1:
		return errors.New("sync.max_concurrent_batches must be at least 1")
	case min(c.Sync.RealtimeBatchSize, c.Sync.IncrementalBatchSize, c.Sync.BulkBatchSize) < 1:
		return errors.New("sync batch sizes must be positive")
	case c.Pricing.MajorPriceDriftPercent < c.Pricing.ConflictThresholdPercent:
		return fmt.Errorf("pricing.major_price_drift_percent (%.2f) cannot be below pricing.conflict_threshold_percent (%.2f)",
			c.Pricing.MajorPriceDriftPercent, c.Pricing.ConflictThresholdPercent)
	case c.Conflict.ArchiveEnabled && c.Storage.Bucket == "":
		return errors.New("storage.bucket is required when conflict.archive_enabled is true")
	case c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1:
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %g", c.Telemetry.SamplingRatio)
	}
	if c.App.Env == "production" {
		return c.validateProduction()
	}
	return nil
}

func (c *Config) validateProduction() error {
	switch {
	case c.JWT.Secret == "":
		return errors.New("jwt.secret is required in production")
	case len(c.JWT.Secret) < 32:
		return errors.New("jwt.secret must be at least 32 characters in production")
	case c.Database.Password == "":
		return errors.New("database.password is required in production")
	case c.Database.SSLMode == "disable":
		return errors.New("database.sslmode cannot be 'disable' in production")
	case c.ERP.BaseURL == "":
		return errors.New("erp.base_url is required in production")
	case slices.Contains(c.HTTP.CORSAllowOrigins, "*"):
		return errors.New("http.cors_allow_origins cannot contain '*' in production")
	}
	return nil
}
