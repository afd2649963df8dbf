package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// FactCategories are the categories a fact may be filed under.
var FactCategories = []string{"preference", "decision", "personal", "technical", "project", "workflow", "general"}

// Fact is one remembered piece of information.
type Fact struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

// SaveFact stores a fact and returns its id. An empty category becomes "general".
func (s *Store) SaveFact(ctx context.Context, owner, content, category string) (id int64, err error) {
	ctx, finish := s.begin(ctx, "fact_save")
	defer func() { finish(err) }()

	content = strings.TrimSpace(content)
	if content == "" {
		return 0, fmt.Errorf("fact content cannot be empty")
	}
	if category == "" {
		category = "general"
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO facts (owner, content, category, created_at) VALUES (?, ?, ?, ?)`,
		owner, content, category, now())
	if err != nil {
		return 0, fmt.Errorf("failed to save fact: %w", err)
	}
	return res.LastInsertId()
}

// SearchFacts matches keyword against content and category, newest first.
func (s *Store) SearchFacts(ctx context.Context, owner, keyword string, limit int) (facts []Fact, err error) {
	ctx, finish := s.begin(ctx, "fact_search")
	defer func() { finish(err) }()

	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(strings.TrimSpace(keyword)) + "%"

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, category, created_at FROM facts
		WHERE owner = ? AND (content LIKE ? ESCAPE '\' OR category LIKE ? ESCAPE '\')
		ORDER BY id DESC LIMIT ?`,
		owner, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search facts: %w", err)
	}
	return scanFacts(rows)
}

// ListFacts returns the owner's facts, oldest first, optionally filtered by category.
func (s *Store) ListFacts(ctx context.Context, owner, category string) (facts []Fact, err error) {
	ctx, finish := s.begin(ctx, "fact_list")
	defer func() { finish(err) }()

	query := `SELECT id, content, category, created_at FROM facts WHERE owner = ?`
	args := []interface{}{owner}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list facts: %w", err)
	}
	return scanFacts(rows)
}

// DeleteFact removes one fact. Returns ErrNotFound if the owner has no such fact.
func (s *Store) DeleteFact(ctx context.Context, owner string, id int64) (err error) {
	ctx, finish := s.begin(ctx, "fact_delete")
	defer func() { finish(err) }()

	res, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE owner = ? AND id = ?`, owner, id)
	if err != nil {
		return fmt.Errorf("failed to delete fact: %w", err)
	}
	return requireAffected(res)
}

// MemoryContext renders the most recent facts as a bullet list for the system prompt.
func (s *Store) MemoryContext(ctx context.Context, owner string, limit int) (string, error) {
	facts, err := s.ListFacts(ctx, owner, "")
	if err != nil {
		return "", err
	}
	if limit > 0 && len(facts) > limit {
		facts = facts[len(facts)-limit:]
	}

	var sb strings.Builder
	for _, f := range facts {
		fmt.Fprintf(&sb, "- [%s] %s\n", f.Category, f.Content)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
	Close() error
}

func scanFacts(rows rowScanner) ([]Fact, error) {
	defer rows.Close()

	facts := []Fact{}
	for rows.Next() {
		var f Fact
		var created int64
		if err := rows.Scan(&f.ID, &f.Content, &f.Category, &created); err != nil {
			return nil, fmt.Errorf("failed to scan fact: %w", err)
		}
		f.CreatedAt = time.Unix(created, 0)
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

type affected interface {
	RowsAffected() (int64, error)
}

func requireAffected(res affected) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
