// Package logger configures the process-wide zerolog logger: console and
// rotating file output, with API keys and bot tokens redacted before they
// reach any writer.
package logger
