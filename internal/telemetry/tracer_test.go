package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/trace/noop"
)

func TestInitTracerNoopWhenEmpty(t *testing.T) {
	tracer, shutdown, err := InitTracer(context.Background(), "", "oju", "v0.0.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, span := tracer.Start(context.Background(), "monitor.run")
	if _, ok := span.(noop.Span); !ok {
		t.Error("expected noop span when endpoint is empty")
	}
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Errorf("noop shutdown returned error: %v", err)
	}
}
