package telemetry

import (
	"context"
	"testing"
)

func TestSetupNoopWhenEndpointEmpty(t *testing.T) {
	shutdown, err := Setup(context.Background(), "test-service", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestTracerWithoutProvider(t *testing.T) {
	_, span := Tracer().Start(context.Background(), "test")
	defer span.End()
	if span.SpanContext().IsSampled() {
		t.Fatal("Span sampled without a provider")
	}
}
