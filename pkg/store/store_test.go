package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "freeagent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

func TestFacts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id1, err := s.SaveFact(ctx, "tg-1", "Prefers Go over Rust", "preference")
	require.NoError(t, err)
	_, err = s.SaveFact(ctx, "tg-1", "Works on the billing service", "")
	require.NoError(t, err)
	_, err = s.SaveFact(ctx, "tg-2", "Likes Rust", "preference")
	require.NoError(t, err)

	t.Run("empty content rejected", func(t *testing.T) {
		_, err := s.SaveFact(ctx, "tg-1", "   ", "general")
		assert.Error(t, err)
	})

	t.Run("list is scoped by owner", func(t *testing.T) {
		facts, err := s.ListFacts(ctx, "tg-1", "")
		require.NoError(t, err)
		require.Len(t, facts, 2)
		assert.Equal(t, "Prefers Go over Rust", facts[0].Content)
		assert.Equal(t, "general", facts[1].Category)

		prefs, err := s.ListFacts(ctx, "tg-1", "preference")
		require.NoError(t, err)
		assert.Len(t, prefs, 1)
	})

	t.Run("search matches content and category", func(t *testing.T) {
		facts, err := s.SearchFacts(ctx, "tg-1", "rust", 10)
		require.NoError(t, err)
		require.Len(t, facts, 1)
		assert.Equal(t, id1, facts[0].ID)

		facts, err = s.SearchFacts(ctx, "tg-1", "preference", 10)
		require.NoError(t, err)
		assert.Len(t, facts, 1)

		facts, err = s.SearchFacts(ctx, "tg-1", "100%", 10)
		require.NoError(t, err)
		assert.Empty(t, facts)
	})

	t.Run("memory context", func(t *testing.T) {
		text, err := s.MemoryContext(ctx, "tg-1", 1)
		require.NoError(t, err)
		assert.Equal(t, "- [general] Works on the billing service", text)

		empty, err := s.MemoryContext(ctx, "tg-9", 10)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("delete", func(t *testing.T) {
		assert.ErrorIs(t, s.DeleteFact(ctx, "tg-2", id1), ErrNotFound)
		require.NoError(t, s.DeleteFact(ctx, "tg-1", id1))
		assert.ErrorIs(t, s.DeleteFact(ctx, "tg-1", id1), ErrNotFound)
	})
}

func TestPlan(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	plan, err := s.GetPlan(ctx, "tg-1")
	require.NoError(t, err)
	assert.Empty(t, plan)

	require.NoError(t, s.SetPlan(ctx, "tg-1", "1. draft\n2. review"))
	require.NoError(t, s.SetPlan(ctx, "tg-1", "1. ship"))

	plan, err = s.GetPlan(ctx, "tg-1")
	require.NoError(t, err)
	assert.Equal(t, "1. ship", plan)
}

func TestTodos(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, err := s.AddTodo(ctx, "tg-1", "write tests")
	require.NoError(t, err)
	b, err := s.AddTodo(ctx, "tg-1", "deploy")
	require.NoError(t, err)

	require.NoError(t, s.UpdateTodoStatus(ctx, "tg-1", a, TodoCompleted))
	require.NoError(t, s.UpdateTodoStatus(ctx, "tg-1", b, TodoInProgress))
	assert.Error(t, s.UpdateTodoStatus(ctx, "tg-1", b, "done"))
	assert.ErrorIs(t, s.UpdateTodoStatus(ctx, "tg-2", b, TodoCompleted), ErrNotFound)

	todos, err := s.ListTodos(ctx, "tg-1")
	require.NoError(t, err)
	require.Len(t, todos, 2)
	assert.Equal(t, TodoCompleted, todos[0].Status)
	assert.Equal(t, TodoInProgress, todos[1].Status)

	n, err := s.ClearCompletedTodos(ctx, "tg-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, s.DeleteTodo(ctx, "tg-1", b))
	todos, err = s.ListTodos(ctx, "tg-1")
	require.NoError(t, err)
	assert.Empty(t, todos)
}

func TestQueryLog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.LogQuery(ctx, QueryRecord{
		Owner: "tg-1", Provider: "gemini", Prompt: "hello", Turns: 1,
		Elapsed: 200 * time.Millisecond, InputTokens: 10, OutputTokens: 5, Success: true,
	}))
	require.NoError(t, s.LogQuery(ctx, QueryRecord{
		Owner: "tg-1", Provider: "groq", Prompt: "search", Turns: 3, Tools: []string{"web_search"},
		Elapsed: 400 * time.Millisecond, Success: false,
	}))

	stats, err := s.QueryStats(ctx, "tg-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, map[string]int{"gemini": 1, "groq": 1}, stats.ByProvider)
	assert.Equal(t, 300*time.Millisecond, stats.AvgElapsed)
	assert.Equal(t, 10, stats.InputTokens)

	n, err := s.PruneQueries(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.PruneQueries(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}
