package tracing

import (
	"context"
	"testing"
)

func TestStartSpanSetsTraceID(t *testing.T) {
	if err := InitOpenTelemetry("freeagent-test", "test", 1); err != nil {
		t.Fatalf("init: %v", err)
	}

	ctx, span := StartSpan(context.Background(), "freeagent.test", "test.span")
	defer span.End()

	if GetTraceID(ctx) == "" {
		t.Error("trace ID not stored in context")
	}

	// An existing trace ID is kept.
	ctx, child := StartSpan(WithTraceID(context.Background(), "fixed"), "freeagent.test", "test.child")
	defer child.End()
	if GetTraceID(ctx) != "fixed" {
		t.Errorf("trace ID = %q", GetTraceID(ctx))
	}
}
