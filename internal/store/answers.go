package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// AnswerRow is one cached answer as stored in the answers table.
// Timestamps are RFC3339 strings in UTC.
type AnswerRow struct {
	Key          string
	QueryText    string
	Normalized   string
	Category     string
	Content      string
	Citations    string // JSON array
	Tier         string
	TokensIn     int
	TokensOut    int
	CostUSD      float64
	QualityScore float64
	CreatedAt    string
	ExpiresAt    string
	HitCount     int64
	LastAccess   string
}

// GetAnswer retrieves a cached answer by its key. Returns sql.ErrNoRows
// (wrapped) when the key does not exist.
func (s *Store) GetAnswer(key string) (*AnswerRow, error) {
	r := &AnswerRow{}
	err := s.reader.QueryRow(`
		SELECT key, query_text, normalized, category, content, citations, tier,
		       tokens_in, tokens_out, cost_usd, quality_score,
		       created_at, expires_at, hit_count, last_access
		FROM answers WHERE key = ?`, key,
	).Scan(
		&r.Key, &r.QueryText, &r.Normalized, &r.Category, &r.Content, &r.Citations, &r.Tier,
		&r.TokensIn, &r.TokensOut, &r.CostUSD, &r.QualityScore,
		&r.CreatedAt, &r.ExpiresAt, &r.HitCount, &r.LastAccess,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get answer %s: %w", key, err)
	}
	return r, nil
}

// PutAnswer inserts or replaces a cached answer.
func (s *Store) PutAnswer(r *AnswerRow) error {
	_, err := s.writer.Exec(`
		INSERT OR REPLACE INTO answers (
			key, query_text, normalized, category, content, citations, tier,
			tokens_in, tokens_out, cost_usd, quality_score,
			created_at, expires_at, hit_count, last_access
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Key, r.QueryText, r.Normalized, r.Category, r.Content, r.Citations, r.Tier,
		r.TokensIn, r.TokensOut, r.CostUSD, r.QualityScore,
		r.CreatedAt, r.ExpiresAt, r.HitCount, r.LastAccess,
	)
	if err != nil {
		return fmt.Errorf("store: put answer: %w", err)
	}
	return nil
}

// DeleteAnswer removes a cached answer by key. Missing keys are not an error.
func (s *Store) DeleteAnswer(key string) error {
	if _, err := s.writer.Exec("DELETE FROM answers WHERE key = ?", key); err != nil {
		return fmt.Errorf("store: delete answer %s: %w", key, err)
	}
	return nil
}

// TouchAnswer increments hit_count and stamps last_access for a cached
// answer.
func (s *Store) TouchAnswer(key string, at time.Time) error {
	result, err := s.writer.Exec(`
		UPDATE answers SET hit_count = hit_count + 1, last_access = ?
		WHERE key = ?`, at.UTC().Format(time.RFC3339), key,
	)
	if err != nil {
		return fmt.Errorf("store: touch answer: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: touch answer rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: touch answer %s: %w", key, sql.ErrNoRows)
	}
	return nil
}

// LoadAnswers returns every non-expired answer row, deleting expired rows
// on the way through. Rows that fail to scan are logged and skipped so one
// corrupt row cannot poison a startup load.
func (s *Store) LoadAnswers(now time.Time) ([]*AnswerRow, error) {
	if _, err := s.Prune(now); err != nil {
		return nil, err
	}

	rows, err := s.reader.Query(`
		SELECT key, query_text, normalized, category, content, citations, tier,
		       tokens_in, tokens_out, cost_usd, quality_score,
		       created_at, expires_at, hit_count, last_access
		FROM answers`)
	if err != nil {
		return nil, fmt.Errorf("store: load answers: %w", err)
	}
	defer rows.Close()

	var out []*AnswerRow
	for rows.Next() {
		r := &AnswerRow{}
		err := rows.Scan(
			&r.Key, &r.QueryText, &r.Normalized, &r.Category, &r.Content, &r.Citations, &r.Tier,
			&r.TokensIn, &r.TokensOut, &r.CostUSD, &r.QualityScore,
			&r.CreatedAt, &r.ExpiresAt, &r.HitCount, &r.LastAccess,
		)
		if err != nil {
			log.Warn().Err(err).Msg("store: skipping unreadable cache row")
			continue
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("store: iterating answers: %w", err)
	}
	return out, nil
}

// AnswerCount returns the number of rows in the answers table.
func (s *Store) AnswerCount() (int64, error) {
	var n int64
	if err := s.reader.QueryRow("SELECT COUNT(*) FROM answers").Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count answers: %w", err)
	}
	return n, nil
}
