package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithSessionKey(WithTraceID(context.Background(), "trace-9"), "tg-1")
	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"trace_id":"trace-9"`) {
		t.Errorf("trace_id missing: %s", out)
	}
	if !strings.Contains(out, `"session_key":"tg-1"`) {
		t.Errorf("session_key missing: %s", out)
	}
	if strings.Contains(out, "run_id") {
		t.Errorf("unexpected run_id: %s", out)
	}
}

func TestDetach(t *testing.T) {
	parent, cancel := context.WithCancel(WithRunID(context.Background(), "run-3"))
	detached := Detach(parent)
	cancel()

	if detached.Err() != nil {
		t.Error("detached context should not be cancelled with its parent")
	}
	if GetRunID(detached) != "run-3" {
		t.Errorf("run ID = %q", GetRunID(detached))
	}
}
