package logger

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatingWriter(t *testing.T) {
	t.Run("defaults follow the logging config", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "freeagent.log")

		rw, err := NewRotatingWriter(logFile, RotationOptions{})
		require.NoError(t, err)
		defer rw.Close()

		assert.Equal(t, int64(DefaultMaxSizeMB)*1024*1024, rw.maxSize)
		assert.Equal(t, time.Duration(DefaultMaxAgeDays)*24*time.Hour, rw.maxAge)

		_, err = os.Stat(logFile)
		assert.NoError(t, err)
	})

	t.Run("negative max age keeps files", func(t *testing.T) {
		rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "freeagent.log"), RotationOptions{MaxSizeMB: 5, MaxAgeDays: -1})
		require.NoError(t, err)
		defer rw.Close()

		assert.Equal(t, int64(5*1024*1024), rw.maxSize)
		assert.Zero(t, rw.maxAge)
	})

	t.Run("creates the log directory", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "freeagent.log")

		rw, err := NewRotatingWriter(logFile, RotationOptions{})
		require.NoError(t, err)
		defer rw.Close()

		_, err = os.Stat(filepath.Dir(logFile))
		assert.NoError(t, err)
	})

	t.Run("appends to an existing file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "freeagent.log")
		require.NoError(t, os.WriteFile(logFile, []byte("earlier\n"), 0644))

		rw, err := NewRotatingWriter(logFile, RotationOptions{})
		require.NoError(t, err)
		defer rw.Close()

		assert.Equal(t, int64(len("earlier\n")), rw.size)
	})
}

func TestRotatingWriter_Rotation(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "freeagent.log")

	rw, err := NewRotatingWriter(logFile, RotationOptions{MaxAgeDays: -1})
	require.NoError(t, err)
	defer rw.Close()
	rw.maxSize = 300
	rw.now = func() time.Time { return time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC) }

	entry := []byte(strings.Repeat("a", 199) + "\n")
	for i := 0; i < 3; i++ {
		_, err := rw.Write(entry)
		require.NoError(t, err)
	}

	_, err = os.Stat(filepath.Join(dir, "freeagent-20261016T093000.log"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "freeagent-20261016T093000.1.log"))
	assert.NoError(t, err, "same-second rotations get a counter")

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, entry, content, "entries are never split")
}

func TestRotatingWriter_Closed(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "freeagent.log"), RotationOptions{})
	require.NoError(t, err)

	require.NoError(t, rw.Close())
	assert.NoError(t, rw.Close())

	_, err = rw.Write([]byte("late\n"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestCompressFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "freeagent-20261016T093000.log")
	require.NoError(t, os.WriteFile(path, []byte("rotated entries"), 0644))

	require.NoError(t, compressFile(path))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	f, err := os.Open(path + ".gz")
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "rotated entries", string(data))
}

func TestRotatingWriter_Cleanup(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "freeagent.log")

	old := time.Now().AddDate(0, 0, -10)
	write := func(name string, mod time.Time) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
		require.NoError(t, os.Chtimes(path, mod, mod))
		return path
	}

	expired := write("freeagent-20200101T120000.log", old)
	expiredGz := write("freeagent-20200101T120000.1.log.gz", old)
	recent := write("freeagent-20261015T120000.log", time.Now())
	unrelated := write("freeagent-notes.log", old)
	other := write("other-20200101T120000.log", old)

	rw, err := NewRotatingWriter(logFile, RotationOptions{MaxAgeDays: 7})
	require.NoError(t, err)
	defer rw.Close()

	rw.cleanup(time.Now())

	for _, gone := range []string{expired, expiredGz} {
		_, err := os.Stat(gone)
		assert.True(t, os.IsNotExist(err), gone)
	}
	for _, kept := range []string{recent, unrelated, other, logFile} {
		_, err := os.Stat(kept)
		assert.NoError(t, err, kept)
	}
}
