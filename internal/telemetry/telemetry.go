// Package telemetry wires OpenTelemetry tracing and metrics. Until Init runs the
// global providers are no-ops, so instrumented code works unchanged in tests.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pysugar/assistant/internal/config"
	"github.com/pysugar/assistant/internal/logging"
	"github.com/pysugar/assistant/internal/version"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const instrumentationName = "github.com/pysugar/assistant"

// Tracer returns the assistant tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Meter returns the assistant meter from the global provider.
func Meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// Count adds n to the named counter. Instrument errors are ignored.
func Count(ctx context.Context, name string, n int64, attrs ...attribute.KeyValue) {
	counter, err := Meter().Int64Counter(name)
	if err != nil {
		return
	}
	counter.Add(ctx, n, metric.WithAttributes(attrs...))
}

// Init installs file-exporting trace and metric providers when cfg.Enabled.
// The returned function flushes and closes them.
func Init(ctx context.Context, cfg config.Telemetry, service string) (func(), error) {
	if !cfg.Enabled {
		return func() {}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(service),
			semconv.ServiceVersion(version.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tracePath := cfg.TraceFile
	if tracePath == "" {
		tracePath = filepath.Join("logs", "assistant_traces.log")
	}
	if err := os.MkdirAll(filepath.Dir(tracePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create telemetry directory: %w", err)
	}

	traceFile := &lumberjack.Logger{
		Filename:   tracePath,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(traceFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricsFile := &lumberjack.Logger{
		Filename:   metricsPath(tracePath),
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(metricsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(10*time.Second))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logging.L().Info("📈 Telemetry enabled", zap.String("traces", tracePath))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logging.L().Error("failed to shutdown tracer provider", zap.Error(err))
		}
		if err := mp.Shutdown(ctx); err != nil {
			logging.L().Error("failed to shutdown meter provider", zap.Error(err))
		}
		traceFile.Close()
		metricsFile.Close()
	}, nil
}

func metricsPath(tracePath string) string {
	ext := filepath.Ext(tracePath)
	return tracePath[:len(tracePath)-len(ext)] + "_metrics" + ext
}
