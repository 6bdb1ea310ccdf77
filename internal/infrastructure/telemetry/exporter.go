package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.uber.org/zap"
)

// shutdownTimeout bounds the final flush of each signal
const shutdownTimeout = 10 * time.Second

// Exporter is the OTLP/gRPC collector shared by traces, metrics and logs.
type Exporter struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	ServiceName string
	Version     string
}

func (e Exporter) resource() (*resource.Resource, error) {
	version := e.Version
	if version == "" {
		version = "dev"
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(e.ServiceName),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}
	return res, nil
}

// shutdownSignal flushes one provider within shutdownTimeout.
func shutdownSignal(ctx context.Context, logger *zap.Logger, signal string, shutdown func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Error("Telemetry flush failed", zap.String("signal", signal), zap.Error(err))
		return fmt.Errorf("shutdown %s: %w", signal, err)
	}
	logger.Debug("Telemetry flushed", zap.String("signal", signal))
	return nil
}
