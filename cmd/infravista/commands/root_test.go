package commands

import (
	"context"
	"testing"
)

func setTelemetryFlags(t *testing.T, level, format, exporter, endpoint string) {
	t.Helper()
	prevLevel, prevFormat := logLevel, logFormat
	prevExporter, prevEndpoint := traceExporter, traceEndpoint
	t.Cleanup(func() {
		logLevel, logFormat = prevLevel, prevFormat
		traceExporter, traceEndpoint = prevExporter, prevEndpoint
	})
	logLevel, logFormat = level, format
	traceExporter, traceEndpoint = exporter, endpoint
}

func TestNewTelemetryBuildsFullStack(t *testing.T) {
	setTelemetryFlags(t, "info", "json", "none", "")

	logger, metrics, tracer, err := newTelemetry("test")
	if err != nil {
		t.Fatalf("newTelemetry: %v", err)
	}
	if logger == nil || metrics == nil || tracer == nil {
		t.Fatal("every command depends on logger, metrics, and tracer being built")
	}

	// Even with the exporter off, spans must be usable and shutdown clean
	ctx, span := tracer.StartPlanSpan(context.Background(), "recipes/network")
	if ctx == nil || span == nil {
		t.Fatal("tracer handed back unusable span")
	}
	span.End()
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestNewTelemetryStdoutExporter(t *testing.T) {
	setTelemetryFlags(t, "debug", "console", "stdout", "")

	_, _, tracer, err := newTelemetry("test")
	if err != nil {
		t.Fatalf("newTelemetry: %v", err)
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestNewTelemetryOTLPNeedsEndpoint(t *testing.T) {
	setTelemetryFlags(t, "info", "console", "otlp", "")

	if _, _, _, err := newTelemetry("test"); err == nil {
		t.Fatal("otlp exporter without an endpoint must be rejected")
	}
}

func TestNewTelemetryRejectsBadLogFormat(t *testing.T) {
	setTelemetryFlags(t, "info", "xml", "none", "")

	if _, _, _, err := newTelemetry("test"); err == nil {
		t.Fatal("unsupported log format must be rejected")
	}
}
