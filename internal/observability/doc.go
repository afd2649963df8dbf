// Package observability holds the process-wide Prometheus metrics.
//
// Metrics are registered lazily on first use, so packages can record
// without any setup. MetricsHandler exposes them over HTTP.
package observability
