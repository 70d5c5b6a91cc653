// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry tracing and metrics for the
// authorization and UMA engines, exported over OTLP and on a Prometheus
// endpoint.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/stacklok/idserver/pkg/logger"
)

// Config holds the telemetry configuration.
type Config struct {
	ServiceName    string `yaml:"serviceName" mapstructure:"serviceName"`
	ServiceVersion string `yaml:"serviceVersion" mapstructure:"serviceVersion"`

	// OTLPEndpoint is the collector endpoint, e.g. "localhost:4318"
	OTLPEndpoint   string            `yaml:"otlpEndpoint" mapstructure:"otlpEndpoint"`
	Headers        map[string]string `yaml:"headers" mapstructure:"headers"`
	Insecure       bool              `yaml:"insecure" mapstructure:"insecure"`
	TracingEnabled bool              `yaml:"tracingEnabled" mapstructure:"tracingEnabled"`
	MetricsEnabled bool              `yaml:"metricsEnabled" mapstructure:"metricsEnabled"`
	SamplingRate   float64           `yaml:"samplingRate" mapstructure:"samplingRate" validate:"gte=0,lte=1"`

	// EnablePrometheusMetricsPath serves the metrics on a Prometheus
	// handler
	EnablePrometheusMetricsPath bool `yaml:"enablePrometheusMetricsPath" mapstructure:"enablePrometheusMetricsPath"`
	IncludeRuntimeMetrics       bool `yaml:"includeRuntimeMetrics" mapstructure:"includeRuntimeMetrics"`
}

func (c Config) otlpMetrics() bool {
	return c.OTLPEndpoint != "" && c.MetricsEnabled
}

func (c Config) otlpTracing() bool {
	return c.OTLPEndpoint != "" && c.TracingEnabled
}

// Providers bundles the tracer and meter providers and the optional
// Prometheus handler.
type Providers struct {
	tracerProvider    trace.TracerProvider
	meterProvider     metric.MeterProvider
	prometheusHandler http.Handler
	shutdownFuncs     []func(context.Context) error
}

// NewProviders creates the providers described by config. Without any
// exporter configured no-op providers are returned.
func NewProviders(ctx context.Context, config Config) (*Providers, error) {
	if !config.otlpMetrics() && !config.otlpTracing() && !config.EnablePrometheusMetricsPath {
		logger.Debugw("no telemetry configured, using no-op providers")
		return &Providers{
			tracerProvider: tracenoop.NewTracerProvider(),
			meterProvider:  noop.NewMeterProvider(),
		}, nil
	}

	// exporter and SDK diagnostics go through the server logger
	otel.SetLogger(logger.NewLogr())

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource for service %q: %w", config.ServiceName, err)
	}

	p := &Providers{}
	if err := p.buildMeterProvider(ctx, config, res); err != nil {
		return nil, err
	}
	if err := p.buildTracerProvider(ctx, config, res); err != nil {
		_ = p.Shutdown(ctx)
		return nil, err
	}
	logger.Infow("telemetry providers created",
		"otlp_endpoint", config.OTLPEndpoint,
		"tracing", config.otlpTracing(),
		"metrics", config.otlpMetrics(),
		"prometheus", config.EnablePrometheusMetricsPath)
	return p, nil
}

func (p *Providers) buildMeterProvider(ctx context.Context, config Config, res *resource.Resource) error {
	if !config.otlpMetrics() && !config.EnablePrometheusMetricsPath {
		p.meterProvider = noop.NewMeterProvider()
		return nil
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if config.EnablePrometheusMetricsPath {
		reader, handler, err := NewPrometheusReader(config.IncludeRuntimeMetrics)
		if err != nil {
			return err
		}
		opts = append(opts, sdkmetric.WithReader(reader))
		p.prometheusHandler = handler
	}
	if config.otlpMetrics() {
		reader, err := newOTLPMetricReader(ctx, config)
		if err != nil {
			return err
		}
		opts = append(opts, sdkmetric.WithReader(reader))
	}

	provider := sdkmetric.NewMeterProvider(opts...)
	p.meterProvider = provider
	p.shutdownFuncs = append(p.shutdownFuncs, provider.Shutdown)
	return nil
}

func (p *Providers) buildTracerProvider(ctx context.Context, config Config, res *resource.Resource) error {
	if !config.otlpTracing() {
		p.tracerProvider = tracenoop.NewTracerProvider()
		return nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(config.OTLPEndpoint)}
	if len(config.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(config.Headers))
	}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SamplingRate)),
	)
	p.tracerProvider = provider
	p.shutdownFuncs = append(p.shutdownFuncs, provider.Shutdown)
	return nil
}

func newOTLPMetricReader(ctx context.Context, config Config) (sdkmetric.Reader, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(config.OTLPEndpoint)}
	if len(config.Headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(config.Headers))
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}
	return sdkmetric.NewPeriodicReader(exporter), nil
}

// NewPrometheusReader creates a metric reader registered on a dedicated
// Prometheus registry and the handler serving that registry.
func NewPrometheusReader(includeRuntimeMetrics bool) (sdkmetric.Reader, http.Handler, error) {
	registry := prometheus.NewRegistry()
	if includeRuntimeMetrics {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
	return exporter, handler, nil
}

// TracerProvider returns the tracer provider.
func (p *Providers) TracerProvider() trace.TracerProvider {
	return p.tracerProvider
}

// MeterProvider returns the meter provider.
func (p *Providers) MeterProvider() metric.MeterProvider {
	return p.meterProvider
}

// PrometheusHandler returns the Prometheus handler, nil when disabled.
func (p *Providers) PrometheusHandler() http.Handler {
	return p.prometheusHandler
}

// Shutdown flushes and stops the providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var errs []error
	for _, shutdown := range p.shutdownFuncs {
		if err := shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
