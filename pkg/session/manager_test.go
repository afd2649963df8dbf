package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/freeagent/pkg/provider"
)

func setupTestManager(t *testing.T) (*SessionManager, string) {
	tempDir := t.TempDir()
	sm, err := New(tempDir)
	require.NoError(t, err)
	return sm, tempDir
}

func user(text string) provider.Message {
	return provider.Message{Role: provider.RoleUser, Content: text}
}

func assistant(text string) provider.Message {
	return provider.Message{Role: provider.RoleAssistant, Content: text}
}

func TestSessionManager_ValidateSessionKey(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		shouldErr bool
	}{
		{"valid key", "tg-42", false},
		{"empty key", "", true},
		{"path traversal", "../etc/passwd", true},
		{"forward slash", "test/session", true},
		{"backslash", "test\\session", true},
		{"null byte", "test\x00session", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSessionKey(tt.key)
			if tt.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSessionManager_AppendAndLoad(t *testing.T) {
	sm, dir := setupTestManager(t)
	ctx := context.Background()

	require.NoError(t, sm.Append(ctx, "tg-1", user("hi")))
	require.NoError(t, sm.Append(ctx, "tg-1", assistant("hello there")))

	_, err := os.Stat(filepath.Join(dir, "tg-1.jsonl"))
	require.NoError(t, err)

	messages, err := sm.Load(ctx, "tg-1", 0)
	require.NoError(t, err)
	assert.Equal(t, []provider.Message{user("hi"), assistant("hello there")}, messages)

	t.Run("missing session is empty", func(t *testing.T) {
		messages, err := sm.Load(ctx, "tg-404", 10)
		require.NoError(t, err)
		assert.Empty(t, messages)
	})

	t.Run("invalid messages rejected", func(t *testing.T) {
		assert.Error(t, sm.Append(ctx, "tg-1", provider.Message{Content: "no role"}))
		assert.Error(t, sm.Append(ctx, "tg-1", provider.Message{Role: provider.RoleUser}))
		assert.Error(t, sm.Append(ctx, "../x", user("x")))
	})
}

func TestSessionManager_LoadWindowStartsWithUser(t *testing.T) {
	sm, _ := setupTestManager(t)
	ctx := context.Background()

	for _, m := range []provider.Message{user("q1"), assistant("a1"), user("q2"), assistant("a2")} {
		require.NoError(t, sm.Append(ctx, "tg-1", m))
	}

	messages, err := sm.Load(ctx, "tg-1", 3)
	require.NoError(t, err)
	assert.Equal(t, []provider.Message{user("q2"), assistant("a2")}, messages)
}

func TestSessionManager_SkipsCorruptLines(t *testing.T) {
	sm, dir := setupTestManager(t)
	ctx := context.Background()

	require.NoError(t, sm.Append(ctx, "tg-1", user("q1")))

	f, err := os.OpenFile(filepath.Join(dir, "tg-1.jsonl"), os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, sm.Append(ctx, "tg-1", assistant("a1")))

	messages, err := sm.Load(ctx, "tg-1", 0)
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestSessionManager_DeleteAndList(t *testing.T) {
	sm, _ := setupTestManager(t)
	ctx := context.Background()

	require.NoError(t, sm.Append(ctx, "tg-1", user("a")))
	require.NoError(t, sm.Append(ctx, "tg-2", user("b")))

	sessions, err := sm.List()
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	require.NoError(t, sm.Delete(ctx, "tg-1"))
	require.NoError(t, sm.Delete(ctx, "tg-1"))

	sessions, err = sm.List()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "tg-2", sessions[0].Key)
}

func TestSessionManager_Prune(t *testing.T) {
	sm, dir := setupTestManager(t)
	ctx := context.Background()

	require.NoError(t, sm.Append(ctx, "old", user("a")))
	require.NoError(t, sm.Append(ctx, "fresh", user("b")))

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "old.jsonl"), past, past))

	removed, err := sm.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, removed)

	sessions, err := sm.List()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "fresh", sessions[0].Key)
}

func TestSessionManager_ConcurrentAppend(t *testing.T) {
	sm, _ := setupTestManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, sm.Append(ctx, "tg-1", user("x")))
		}()
	}
	wg.Wait()

	messages, err := sm.Load(ctx, "tg-1", 0)
	require.NoError(t, err)
	assert.Len(t, messages, 20)
}
