package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// UsageIncrement is one batch of accumulated usage to add to the per-session
// and per-provider totals.
type UsageIncrement struct {
	SessionID    int64
	Provider     string
	Cost         float64
	InputTokens  int64
	OutputTokens int64
	CachedTokens int64
}

// AddUsage applies an increment atomically to both accumulator tables using
// upsert-with-increment, so concurrent turns on the same session produce
// correct totals without explicit locking.
func (s *Store) AddUsage(ctx context.Context, inc UsageIncrement) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	inc.Provider = strings.TrimSpace(inc.Provider)
	if inc.SessionID <= 0 || inc.Provider == "" {
		return errors.New("usage requires session_id and provider")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO session_usage(session_id, cost, input_tokens, output_tokens, cached_tokens)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
  cost = cost + excluded.cost,
  input_tokens = input_tokens + excluded.input_tokens,
  output_tokens = output_tokens + excluded.output_tokens,
  cached_tokens = cached_tokens + excluded.cached_tokens
`, inc.SessionID, inc.Cost, inc.InputTokens, inc.OutputTokens, inc.CachedTokens); err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO provider_usage(provider, cost, input_tokens, output_tokens, cached_tokens, last_updated_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(provider) DO UPDATE SET
  cost = cost + excluded.cost,
  input_tokens = input_tokens + excluded.input_tokens,
  output_tokens = output_tokens + excluded.output_tokens,
  cached_tokens = cached_tokens + excluded.cached_tokens,
  last_updated_at_unix_ms = excluded.last_updated_at_unix_ms
`, inc.Provider, inc.Cost, inc.InputTokens, inc.OutputTokens, inc.CachedTokens, now); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetSessionUsage(ctx context.Context, sessionID int64) (*SessionUsage, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var u SessionUsage
	err := s.db.QueryRowContext(ctx, `
SELECT session_id, cost, input_tokens, output_tokens, cached_tokens
FROM session_usage
WHERE session_id = ?
`, sessionID).Scan(&u.SessionID, &u.Cost, &u.InputTokens, &u.OutputTokens, &u.CachedTokens)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &SessionUsage{SessionID: sessionID}, nil
		}
		return nil, err
	}
	return &u, nil
}

// GlobalCost sums cost across all providers.
func (s *Store) GlobalCost(ctx context.Context) (float64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var cost sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `SELECT SUM(cost) FROM provider_usage`).Scan(&cost); err != nil {
		return 0, err
	}
	return cost.Float64, nil
}

func (s *Store) ListProviderUsage(ctx context.Context) ([]ProviderUsage, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT provider, cost, input_tokens, output_tokens, cached_tokens, last_updated_at_unix_ms
FROM provider_usage
ORDER BY provider ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProviderUsage
	for rows.Next() {
		var u ProviderUsage
		if err := rows.Scan(&u.Provider, &u.Cost, &u.InputTokens, &u.OutputTokens, &u.CachedTokens, &u.LastUpdatedAtUnixMs); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
