package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

func (s *Store) CreateTurn(ctx context.Context, turnID string, sessionID int64) (*ChatTurn, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	turnID = strings.TrimSpace(turnID)
	if turnID == "" {
		return nil, errors.New("missing turn id")
	}

	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO chat_turns(id, session_id, status, created_at_unix_ms, updated_at_unix_ms)
VALUES(?, ?, ?, ?, ?)
`, turnID, sessionID, string(TurnPending), now, now)
	if err != nil {
		return nil, err
	}
	return &ChatTurn{
		ID:              turnID,
		SessionID:       sessionID,
		Status:          TurnPending,
		CreatedAtUnixMs: now,
		UpdatedAtUnixMs: now,
	}, nil
}

func (s *Store) GetTurn(ctx context.Context, turnID string) (*ChatTurn, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	turnID = strings.TrimSpace(turnID)
	if turnID == "" {
		return nil, errors.New("missing turn id")
	}

	var t ChatTurn
	var status string
	err := s.db.QueryRowContext(ctx, `
SELECT id, session_id, status, created_at_unix_ms, updated_at_unix_ms
FROM chat_turns
WHERE id = ?
`, turnID).Scan(&t.ID, &t.SessionID, &status, &t.CreatedAtUnixMs, &t.UpdatedAtUnixMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTurnNotFound
		}
		return nil, err
	}
	t.Status = TurnStatus(status)
	return &t, nil
}

// MarkTurnSucceeded transitions a turn to its terminal state.
func (s *Store) MarkTurnSucceeded(ctx context.Context, turnID string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	turnID = strings.TrimSpace(turnID)
	if turnID == "" {
		return errors.New("missing turn id")
	}

	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
UPDATE chat_turns SET status = ?, updated_at_unix_ms = ? WHERE id = ?
`, string(TurnSucceeded), now, turnID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrTurnNotFound
	}
	return nil
}
