package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

func (s *Store) CreateSession(ctx context.Context, projectID int64, name string, mode OperationalMode) (*ChatSession, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	name = strings.TrimSpace(name)
	mode = NormalizeOperationalMode(string(mode))

	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO chat_sessions(project_id, name, is_active, operational_mode, created_at_unix_ms, updated_at_unix_ms)
VALUES(?, ?, 0, ?, ?, ?)
`, projectID, name, string(mode), now, now)
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	return &ChatSession{
		ID:              id,
		ProjectID:       projectID,
		Name:            name,
		OperationalMode: mode,
		CreatedAtUnixMs: now,
		UpdatedAtUnixMs: now,
	}, nil
}

func (s *Store) GetSession(ctx context.Context, id int64) (*ChatSession, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var cs ChatSession
	var active int
	var mode string
	err := s.db.QueryRowContext(ctx, `
SELECT id, project_id, name, is_active, operational_mode, created_at_unix_ms, updated_at_unix_ms
FROM chat_sessions
WHERE id = ?
`, id).Scan(&cs.ID, &cs.ProjectID, &cs.Name, &active, &mode, &cs.CreatedAtUnixMs, &cs.UpdatedAtUnixMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	cs.IsActive = active != 0
	cs.OperationalMode = NormalizeOperationalMode(mode)
	return &cs, nil
}

// SetActiveSession makes the given session the only active one in its project.
func (s *Store) SetActiveSession(ctx context.Context, sessionID int64) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var projectID int64
	if err := tx.QueryRowContext(ctx, `SELECT project_id FROM chat_sessions WHERE id = ?`, sessionID).Scan(&projectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSessionNotFound
		}
		return err
	}

	now := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
UPDATE chat_sessions SET is_active = 0 WHERE project_id = ? AND is_active = 1
`, projectID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE chat_sessions SET is_active = 1, updated_at_unix_ms = ? WHERE id = ?
`, now, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) UpdateSessionMode(ctx context.Context, sessionID int64, mode OperationalMode) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
UPDATE chat_sessions SET operational_mode = ?, updated_at_unix_ms = ? WHERE id = ?
`, string(NormalizeOperationalMode(string(mode))), now, sessionID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// RenameSessionIfUnnamed sets the session name from the first user message.
func (s *Store) RenameSessionIfUnnamed(ctx context.Context, sessionID int64, candidate string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	candidate = buildTitleCandidate(candidate)
	if candidate == "" {
		return nil
	}

	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
UPDATE chat_sessions SET name = ?, updated_at_unix_ms = ?
WHERE id = ? AND TRIM(name) = ''
`, candidate, now, sessionID)
	return err
}

func (s *Store) ListSessions(ctx context.Context, projectID int64) ([]ChatSession, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, project_id, name, is_active, operational_mode, created_at_unix_ms, updated_at_unix_ms
FROM chat_sessions
WHERE project_id = ?
ORDER BY updated_at_unix_ms DESC, id DESC
`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChatSession
	for rows.Next() {
		var cs ChatSession
		var active int
		var mode string
		if err := rows.Scan(&cs.ID, &cs.ProjectID, &cs.Name, &active, &mode, &cs.CreatedAtUnixMs, &cs.UpdatedAtUnixMs); err != nil {
			return nil, err
		}
		cs.IsActive = active != 0
		cs.OperationalMode = NormalizeOperationalMode(mode)
		out = append(out, cs)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSession(ctx context.Context, sessionID int64) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, sessionID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func buildTitleCandidate(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.ReplaceAll(text, "\r", " ")
	text = strings.TrimSpace(text)
	return truncateRunes(text, 48)
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n >= max {
			return strings.TrimSpace(s[:i])
		}
		n++
	}
	return strings.TrimSpace(s)
}
