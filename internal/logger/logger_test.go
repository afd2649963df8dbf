package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("console output sets the global logger", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := newWithConsole(Config{Level: "warn", Console: true}, &buf)
		require.NoError(t, err)
		defer logger.Close()

		log.Info().Msg("dropped")
		log.Warn().Str("provider", "groq").Msg("Kept")

		assert.NotContains(t, buf.String(), "dropped")
		assert.Contains(t, buf.String(), `"provider":"groq"`)
		assert.Equal(t, zerolog.WarnLevel, logger.GetZerolog().GetLevel())
	})

	t.Run("file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "test.log")

		logger, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)

		log.Debug().Msg("test message")
		require.NoError(t, logger.Close())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "test message")
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := newWithConsole(Config{Level: "chatty", Console: true}, &buf)
		require.NoError(t, err)
		assert.Equal(t, zerolog.InfoLevel, logger.GetZerolog().GetLevel())
	})

	t.Run("redaction", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := newWithConsole(Config{Level: "info", Console: true, Redaction: true}, &buf)
		require.NoError(t, err)

		log.Info().Str("key", "gsk_abcdefghijklmnopqrstuvwxyz123456").Msg("Calling groq")

		assert.Contains(t, buf.String(), "[REDACTED]")
		assert.NotContains(t, buf.String(), "gsk_abcdefghijklmnop")
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Redaction)
	assert.Equal(t, 100, cfg.MaxSize)
}
