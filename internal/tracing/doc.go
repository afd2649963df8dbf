// Package tracing carries request identity through context.Context and
// wraps OpenTelemetry span creation.
//
// Each chat message gets a trace ID, each agent run a run ID; both end up
// as fields on loggers built with LoggerFromContext.
package tracing
