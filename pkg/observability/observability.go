// Package observability wires structured logging and OpenTelemetry metrics
// for a node process. Metrics export over OTLP gRPC when an endpoint is
// configured; otherwise instruments record into a provider with no reader.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Provider holds the process logger and meter provider.
type Provider struct {
	Logger  *slog.Logger
	Metrics *Metrics

	meterProvider *sdkmetric.MeterProvider
}

// Config selects the service identity and log destination.
type Config struct {
	ServiceName  string
	ProfileName  string
	LogsDir      string // when set, logs also append to <LogsDir>/agent.log
	OTLPEndpoint string // when set, metrics export over OTLP gRPC
	Debug        bool
}

// New builds the provider. The returned logger writes JSON lines to stderr
// and, when LogsDir is set, to a log file as well.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	opts := []sdkmetric.Option{}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			attribute.String("node.profile", cfg.ProfileName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}
	opts = append(opts, sdkmetric.WithResource(res))

	if cfg.OTLPEndpoint != "" {
		exporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create otlp metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	metrics, err := newMetrics(mp.Meter("agentnode"))
	if err != nil {
		return nil, err
	}

	return &Provider{Logger: logger, Metrics: metrics, meterProvider: mp}, nil
}

// Shutdown flushes pending metric exports.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.Shutdown(ctx)
}

func newLogger(cfg Config) (*slog.Logger, error) {
	var out io.Writer = os.Stderr
	if cfg.LogsDir != "" {
		if err := os.MkdirAll(cfg.LogsDir, 0o755); err != nil {
			return nil, fmt.Errorf("create logs dir: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(cfg.LogsDir, "agent.log"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
	}
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
	return logger.With("profile", cfg.ProfileName), nil
}

// Metrics exposes the node's counters. A nil *Metrics is a no-op, so callers
// never need to guard instrumentation sites.
type Metrics struct {
	envelopesAccepted metric.Int64Counter
	envelopesRejected metric.Int64Counter
	toolExecutions    metric.Int64Counter
	sends             metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.envelopesAccepted, err = meter.Int64Counter("interop.envelopes.accepted",
		metric.WithDescription("Inbound envelopes accepted")); err != nil {
		return nil, err
	}
	if m.envelopesRejected, err = meter.Int64Counter("interop.envelopes.rejected",
		metric.WithDescription("Inbound envelopes rejected")); err != nil {
		return nil, err
	}
	if m.toolExecutions, err = meter.Int64Counter("tools.executions",
		metric.WithDescription("Tool invocations by decision")); err != nil {
		return nil, err
	}
	if m.sends, err = meter.Int64Counter("interop.sends",
		metric.WithDescription("Outbound send attempts by status")); err != nil {
		return nil, err
	}
	return m, nil
}

// EnvelopeAccepted counts an accepted inbound envelope.
func (m *Metrics) EnvelopeAccepted(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.envelopesAccepted.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// EnvelopeRejected counts a rejected inbound envelope by reason.
func (m *Metrics) EnvelopeRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.envelopesRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// ToolExecution counts a tool invocation by policy decision.
func (m *Metrics) ToolExecution(ctx context.Context, tool, decision string) {
	if m == nil {
		return
	}
	m.toolExecutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("decision", decision),
	))
}

// Send counts an outbound send attempt by terminal status.
func (m *Metrics) Send(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.sends.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
