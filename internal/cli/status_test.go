package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the CLI at a fresh data directory and config file.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("FREEAGENT_DATA_DIR", dir)
	for _, key := range []string{"GEMINI_API_KEYS", "GROQ_API_KEYS", "MISTRAL_API_KEYS", "CLAUDE_API_KEYS", "TELEGRAM_BOT_TOKEN", "DEFAULT_PROVIDER", "ENABLE_SYSTEM_TOOLS"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	prev := cfgFile
	cfgFile = filepath.Join(dir, "freeagent.json")
	t.Cleanup(func() { cfgFile = prev })
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := GetRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(append(args, "--config", cfgFile))
	err := cmd.Execute()
	return out.String(), err
}

func TestStatusCommand(t *testing.T) {
	t.Run("stopped", func(t *testing.T) {
		isolate(t)

		out, err := execute(t, "status")
		require.NoError(t, err)
		assert.Contains(t, out, "Status: stopped")
		assert.Contains(t, out, "(none configured)")
		assert.Contains(t, out, "System tools: disabled")
	})

	t.Run("running", func(t *testing.T) {
		dir := isolate(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "freeagent.pid"), []byte(strconv.Itoa(os.Getpid())), 0o644))

		out, err := execute(t, "status")
		require.NoError(t, err)
		assert.Contains(t, out, "Status: running")
		assert.Contains(t, out, "PID: "+strconv.Itoa(os.Getpid()))
	})
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"seconds only", 45 * time.Second, "45s"},
		{"minutes and seconds", 2*time.Minute + 30*time.Second, "2m30s"},
		{"hours minutes seconds", 3*time.Hour + 15*time.Minute + 20*time.Second, "3h15m20s"},
		{"zero", 0, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatDuration(tt.duration)
			assert.Equal(t, tt.expected, result)
		})
	}
}
