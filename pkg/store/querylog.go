package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// QueryRecord describes one finished agent run.
type QueryRecord struct {
	Owner        string
	Provider     string
	Prompt       string
	Turns        int
	Tools        []string
	Elapsed      time.Duration
	InputTokens  int
	OutputTokens int
	Success      bool
}

// QueryStats aggregates the query log of one owner.
type QueryStats struct {
	Total        int
	Failed       int
	ByProvider   map[string]int
	AvgElapsed   time.Duration
	InputTokens  int
	OutputTokens int
}

const maxLoggedPrompt = 500

// LogQuery appends a run to the query log. Prompts are capped at 500 bytes.
func (s *Store) LogQuery(ctx context.Context, rec QueryRecord) (err error) {
	ctx, finish := s.begin(ctx, "query_log")
	defer func() { finish(err) }()

	prompt := rec.Prompt
	if len(prompt) > maxLoggedPrompt {
		prompt = strings.ToValidUTF8(prompt[:maxLoggedPrompt], "")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO query_log (owner, provider, prompt, turns, tools, elapsed_ms, input_tokens, output_tokens, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Owner, rec.Provider, prompt, rec.Turns, strings.Join(rec.Tools, ","),
		rec.Elapsed.Milliseconds(), rec.InputTokens, rec.OutputTokens, rec.Success, now())
	if err != nil {
		return fmt.Errorf("failed to log query: %w", err)
	}
	return nil
}

// QueryStats summarizes the owner's logged runs.
func (s *Store) QueryStats(ctx context.Context, owner string) (stats QueryStats, err error) {
	ctx, finish := s.begin(ctx, "query_stats")
	defer func() { finish(err) }()

	stats.ByProvider = map[string]int{}

	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, COUNT(*), SUM(CASE WHEN success THEN 0 ELSE 1 END),
		       SUM(elapsed_ms), SUM(input_tokens), SUM(output_tokens)
		FROM query_log WHERE owner = ? GROUP BY provider`, owner)
	if err != nil {
		return stats, fmt.Errorf("failed to read query stats: %w", err)
	}
	defer rows.Close()

	var totalMs int64
	for rows.Next() {
		var provider string
		var count, failed, in, out int
		var ms int64
		if err := rows.Scan(&provider, &count, &failed, &ms, &in, &out); err != nil {
			return stats, fmt.Errorf("failed to scan query stats: %w", err)
		}
		stats.ByProvider[provider] = count
		stats.Total += count
		stats.Failed += failed
		stats.InputTokens += in
		stats.OutputTokens += out
		totalMs += ms
	}
	if stats.Total > 0 {
		stats.AvgElapsed = time.Duration(totalMs/int64(stats.Total)) * time.Millisecond
	}
	return stats, rows.Err()
}

// PruneQueries deletes log rows older than before and returns the count.
func (s *Store) PruneQueries(ctx context.Context, before time.Time) (n int64, err error) {
	ctx, finish := s.begin(ctx, "query_prune")
	defer func() { finish(err) }()

	res, err := s.db.ExecContext(ctx, `DELETE FROM query_log WHERE created_at < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune query log: %w", err)
	}
	return res.RowsAffected()
}
