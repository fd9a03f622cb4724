package observability

import (
	"time"

	"go.uber.org/fx"

	"github.com/thelab33/futurefunded/internal/observability/logger"
	"github.com/thelab33/futurefunded/internal/observability/metrics"
	"github.com/thelab33/futurefunded/internal/observability/tracing"
)

// Module wires logging, tracing and metrics into the app graph.
var Module = fx.Module("observability",
	fx.Provide(LoadConfig),
	fx.Provide(provideLoggerConfig),
	fx.Provide(logger.New),
	fx.Provide(provideTracingConfig),
	fx.Provide(tracing.NewProvider),
	fx.Provide(provideMetricsConfig),
	fx.Provide(metrics.NewProvider),
	fx.Provide(metrics.New),
	fx.Provide(metrics.NewHTTPMetrics),
)

func provideLoggerConfig(cfg Config) logger.Config {
	return logger.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,

		SamplingInitial:     100,
		SamplingThereafter:  100,
		SamplingWindow:      time.Second,
		IncludeCaller:       true,
		IncludeStackOnError: cfg.Debug(),
	}
}

func provideTracingConfig(cfg Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.OtelEnabled,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		ServiceName:      cfg.ServiceName,
		ServiceVersion:   cfg.Version,
		Environment:      cfg.Environment,
		SamplingRatio:    cfg.OtelSamplingRatio,
	}
}

func provideMetricsConfig(cfg Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.OtelEnabled,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		ServiceName:      cfg.ServiceName,
		Environment:      cfg.Environment,
	}
}
