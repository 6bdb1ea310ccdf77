package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig holds configuration for database tracing.
type DBTracingConfig struct {
	Enabled         bool
	LogFullSQL      bool          // include bind variables in spans; dev only
	SlowQueryThresh time.Duration // default 200ms
	DBName          string
	// TracerProvider overrides the global provider when set.
	TracerProvider trace.TracerProvider
}

type queryStartKey struct{}

// callbackRegistrar is satisfied by gorm's positioned callback builder.
type callbackRegistrar interface {
	Register(name string, fn func(*gorm.DB)) error
}

// RegisterDBTracing installs the otelgorm plugin and a slow-query annotator
// on db. It does nothing when tracing is disabled.
func RegisterDBTracing(db *gorm.DB, cfg DBTracingConfig, logger *zap.Logger) error {
	if !cfg.Enabled {
		logger.Debug("Database tracing disabled, skipping otelgorm registration")
		return nil
	}
	if cfg.SlowQueryThresh <= 0 {
		cfg.SlowQueryThresh = 200 * time.Millisecond
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(cfg.DBName)}
	if !cfg.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if cfg.TracerProvider != nil {
		opts = append(opts, otelgorm.WithTracerProvider(cfg.TracerProvider))
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	annotate := slowQueryAnnotator(cfg.SlowQueryThresh)
	cb := db.Callback()
	steps := []struct {
		name string
		at   callbackRegistrar
		fn   func(*gorm.DB)
	}{
		{"otel_timing:before_create", cb.Create().Before("gorm:create"), markQueryStart},
		{"otel_timing:before_query", cb.Query().Before("gorm:query"), markQueryStart},
		{"otel_timing:before_update", cb.Update().Before("gorm:update"), markQueryStart},
		{"otel_timing:before_delete", cb.Delete().Before("gorm:delete"), markQueryStart},
		{"otel_timing:before_row", cb.Row().Before("gorm:row"), markQueryStart},
		{"otel_timing:before_raw", cb.Raw().Before("gorm:raw"), markQueryStart},
		{"otel_timing:after_create", cb.Create().After("gorm:create"), annotate},
		{"otel_timing:after_query", cb.Query().After("gorm:query"), annotate},
		{"otel_timing:after_update", cb.Update().After("gorm:update"), annotate},
		{"otel_timing:after_delete", cb.Delete().After("gorm:delete"), annotate},
		{"otel_timing:after_row", cb.Row().After("gorm:row"), annotate},
		{"otel_timing:after_raw", cb.Raw().After("gorm:raw"), annotate},
	}
	for _, st := range steps {
		if err := st.at.Register(st.name, st.fn); err != nil {
			return err
		}
	}

	logger.Info("Database tracing enabled",
		zap.Bool("log_full_sql", cfg.LogFullSQL),
		zap.Duration("slow_query_threshold", cfg.SlowQueryThresh),
	)
	return nil
}

func markQueryStart(db *gorm.DB) {
	if db.Statement.Context != nil {
		db.Statement.Context = context.WithValue(db.Statement.Context, queryStartKey{}, time.Now())
	}
}

func slowQueryAnnotator(threshold time.Duration) func(*gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			return
		}
		span := trace.SpanFromContext(ctx)
		if !span.IsRecording() {
			return
		}

		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
		if db.Statement.Table != "" {
			span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
		}
		if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Error, db.Error.Error())
			span.RecordError(db.Error)
		}

		start, ok := ctx.Value(queryStartKey{}).(time.Time)
		if !ok {
			return
		}
		if elapsed := time.Since(start); elapsed > threshold {
			span.SetAttributes(
				attribute.Bool("db.slow_query", true),
				attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
			)
			span.AddEvent("slow_query_warning", trace.WithAttributes(
				attribute.Int64("duration_ms", elapsed.Milliseconds()),
				attribute.Int64("threshold_ms", threshold.Milliseconds()),
			))
		}
	}
}
