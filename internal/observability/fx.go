// Package observability wires the billing service's zap logger, otel
// tracer and meter providers, and the overdue sweep metrics into fx.
package observability

import (
	"time"

	"github.com/smallbiznis/clientbilling/internal/observability/logger"
	"github.com/smallbiznis/clientbilling/internal/observability/metrics"
	"github.com/smallbiznis/clientbilling/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		splitConfig,
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
	),
	fx.Invoke(registerSweepMetrics),
)

// splitConfig derives the per-signal configs. Outside debug the logger
// keeps the first 50 identical entries per second and then one in 20, so a
// provider redelivery storm cannot flood stdout.
func splitConfig(cfg Config) (logger.Config, tracing.Config, metrics.Config) {
	logCfg := logger.Config{
		ServiceName:         cfg.ServiceName,
		Environment:         cfg.Environment,
		Version:             cfg.Version,
		Level:               cfg.LogLevel,
		Format:              cfg.LogFormat,
		IncludeCaller:       true,
		IncludeStackOnError: cfg.Debug(),
	}
	if !cfg.Debug() {
		logCfg.SamplingInitial = 50
		logCfg.SamplingThereafter = 20
		logCfg.SamplingWindow = time.Second
	}

	traceCfg := tracing.Config{
		Enabled:          cfg.OtelEnabled,
		ServiceName:      cfg.ServiceName,
		ServiceVersion:   cfg.Version,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		SamplingRatio:    cfg.OtelSamplingRatio,
	}

	metricCfg := metrics.Config{
		Enabled:          cfg.OtelEnabled,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		ServiceName:      cfg.ServiceName,
		Environment:      cfg.Environment,
	}
	return logCfg, traceCfg, metricCfg
}

// registerSweepMetrics registers the scheduler collectors with the service
// labels before the overdue sweep first runs. Taking the tracer provider
// forces it to be built even when nothing else asks for it.
func registerSweepMetrics(cfg metrics.Config, _ *sdktrace.TracerProvider, log *zap.Logger) {
	metrics.SchedulerWithConfig(cfg)
	log.Debug("observability ready",
		zap.Bool("otel_enabled", cfg.Enabled),
		zap.String("environment", cfg.Environment),
	)
}
