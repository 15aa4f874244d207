package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// GetWorkflowState returns the opaque state snapshot for a session, or ""
// when none has been saved yet.
func (s *Store) GetWorkflowState(ctx context.Context, sessionID int64) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var state string
	err := s.db.QueryRowContext(ctx, `
SELECT state_json FROM workflow_states WHERE session_id = ?
`, sessionID).Scan(&state)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return state, nil
}

// UpsertWorkflowState stores the serialized workflow snapshot for a session.
func (s *Store) UpsertWorkflowState(ctx context.Context, sessionID int64, stateJSON string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	stateJSON = strings.TrimSpace(stateJSON)
	if stateJSON == "" {
		stateJSON = "{}"
	}

	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO workflow_states(session_id, state_json, updated_at_unix_ms)
VALUES(?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET state_json = excluded.state_json, updated_at_unix_ms = excluded.updated_at_unix_ms
`, sessionID, stateJSON, now)
	return err
}
