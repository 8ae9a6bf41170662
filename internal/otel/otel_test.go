package otel

import (
	"context"
	"testing"

	"github.com/basket/redflow/internal/config"
)

func TestDisabledProviderIsNoop(t *testing.T) {
	p, err := Init(context.Background(), config.TelemetryConfig{Enabled: false})
	if err != nil {
		t.Fatalf("init disabled: %v", err)
	}
	if p.Tracer == nil || p.Meter == nil {
		t.Fatalf("noop provider must still expose tracer and meter")
	}
	_, span := StartSpan(context.Background(), p.Tracer, "test.span")
	span.End()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestStdoutExporter(t *testing.T) {
	p, err := Init(context.Background(), config.TelemetryConfig{
		Enabled:  true,
		Exporter: "stdout",
	})
	if err != nil {
		t.Fatalf("init stdout: %v", err)
	}
	defer func() { _ = p.Shutdown(context.Background()) }()
	if p.TracerProvider == nil {
		t.Fatalf("expected real tracer provider")
	}
}

func TestUnknownExporterRejected(t *testing.T) {
	_, err := Init(context.Background(), config.TelemetryConfig{
		Enabled:  true,
		Exporter: "carrier-pigeon",
	})
	if err == nil {
		t.Fatalf("expected error for unknown exporter")
	}
}

func TestNewMetricsInstruments(t *testing.T) {
	p, err := Init(context.Background(), config.TelemetryConfig{Enabled: false})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	if m.CycleDuration == nil || m.TokensUsed == nil || m.GuardRejects == nil {
		t.Fatalf("instruments missing: %+v", m)
	}
	// Recording through noop instruments must not panic.
	m.TokensUsed.Add(context.Background(), 10)
	m.CycleDuration.Record(context.Background(), 1.5)
}
