package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Todo statuses.
const (
	TodoPending    = "pending"
	TodoInProgress = "in_progress"
	TodoCompleted  = "completed"
)

// Todo is one item of a user's todo list.
type Todo struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidTodoStatus reports whether status is one of the known statuses.
func ValidTodoStatus(status string) bool {
	switch status {
	case TodoPending, TodoInProgress, TodoCompleted:
		return true
	}
	return false
}

// GetPlan returns the owner's plan, or "" if none was written.
func (s *Store) GetPlan(ctx context.Context, owner string) (content string, err error) {
	ctx, finish := s.begin(ctx, "plan_get")
	defer func() { finish(err) }()

	err = s.db.QueryRowContext(ctx, `SELECT content FROM plans WHERE owner = ?`, owner).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read plan: %w", err)
	}
	return content, nil
}

// SetPlan replaces the owner's plan.
func (s *Store) SetPlan(ctx context.Context, owner, content string) (err error) {
	ctx, finish := s.begin(ctx, "plan_set")
	defer func() { finish(err) }()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plans (owner, content, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(owner) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		owner, content, now())
	if err != nil {
		return fmt.Errorf("failed to write plan: %w", err)
	}
	return nil
}

// AddTodo appends a pending todo and returns its id.
func (s *Store) AddTodo(ctx context.Context, owner, content string) (id int64, err error) {
	ctx, finish := s.begin(ctx, "todo_add")
	defer func() { finish(err) }()

	ts := now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO todos (owner, content, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		owner, content, TodoPending, ts, ts)
	if err != nil {
		return 0, fmt.Errorf("failed to add todo: %w", err)
	}
	return res.LastInsertId()
}

// ListTodos returns the owner's todos in creation order.
func (s *Store) ListTodos(ctx context.Context, owner string) (todos []Todo, err error) {
	ctx, finish := s.begin(ctx, "todo_list")
	defer func() { finish(err) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, status, created_at FROM todos WHERE owner = ? ORDER BY id ASC`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list todos: %w", err)
	}
	defer rows.Close()

	todos = []Todo{}
	for rows.Next() {
		var t Todo
		var created int64
		if err := rows.Scan(&t.ID, &t.Content, &t.Status, &created); err != nil {
			return nil, fmt.Errorf("failed to scan todo: %w", err)
		}
		t.CreatedAt = time.Unix(created, 0)
		todos = append(todos, t)
	}
	return todos, rows.Err()
}

// UpdateTodoStatus sets the status of one todo.
func (s *Store) UpdateTodoStatus(ctx context.Context, owner string, id int64, status string) (err error) {
	ctx, finish := s.begin(ctx, "todo_update")
	defer func() { finish(err) }()

	if !ValidTodoStatus(status) {
		return fmt.Errorf("invalid todo status %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE todos SET status = ?, updated_at = ? WHERE owner = ? AND id = ?`,
		status, now(), owner, id)
	if err != nil {
		return fmt.Errorf("failed to update todo: %w", err)
	}
	return requireAffected(res)
}

// DeleteTodo removes one todo.
func (s *Store) DeleteTodo(ctx context.Context, owner string, id int64) (err error) {
	ctx, finish := s.begin(ctx, "todo_delete")
	defer func() { finish(err) }()

	res, err := s.db.ExecContext(ctx, `DELETE FROM todos WHERE owner = ? AND id = ?`, owner, id)
	if err != nil {
		return fmt.Errorf("failed to delete todo: %w", err)
	}
	return requireAffected(res)
}

// ClearCompletedTodos deletes completed todos and returns how many were removed.
func (s *Store) ClearCompletedTodos(ctx context.Context, owner string) (n int64, err error) {
	ctx, finish := s.begin(ctx, "todo_clear")
	defer func() { finish(err) }()

	res, err := s.db.ExecContext(ctx, `DELETE FROM todos WHERE owner = ? AND status = ?`, owner, TodoCompleted)
	if err != nil {
		return 0, fmt.Errorf("failed to clear todos: %w", err)
	}
	return res.RowsAffected()
}
