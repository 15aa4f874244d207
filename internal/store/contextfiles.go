package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// UpsertContextFile inserts a context file row for (sessionID, filePath) or
// increments its hit count when it already exists.
func (s *Store) UpsertContextFile(ctx context.Context, sessionID int64, filePath string, userPinned bool) (*ContextFile, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	filePath = strings.TrimSpace(filePath)
	if filePath == "" {
		return nil, errors.New("missing file path")
	}

	now := time.Now().UnixMilli()
	pinned := 0
	if userPinned {
		pinned = 1
	}
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO context_files(session_id, file_path, hit_count, user_pinned, created_at_unix_ms, updated_at_unix_ms)
VALUES(?, ?, 1, ?, ?, ?)
ON CONFLICT(session_id, file_path) DO UPDATE SET
  hit_count = hit_count + 1,
  user_pinned = MAX(user_pinned, excluded.user_pinned),
  updated_at_unix_ms = excluded.updated_at_unix_ms
`, sessionID, filePath, pinned, now, now); err != nil {
		return nil, err
	}
	return s.GetContextFileByPath(ctx, sessionID, filePath)
}

func (s *Store) GetContextFileByPath(ctx context.Context, sessionID int64, filePath string) (*ContextFile, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var cf ContextFile
	var pinned int
	err := s.db.QueryRowContext(ctx, `
SELECT id, session_id, file_path, hit_count, user_pinned, created_at_unix_ms, updated_at_unix_ms
FROM context_files
WHERE session_id = ? AND file_path = ?
`, sessionID, strings.TrimSpace(filePath)).Scan(
		&cf.ID, &cf.SessionID, &cf.FilePath, &cf.HitCount, &pinned, &cf.CreatedAtUnixMs, &cf.UpdatedAtUnixMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	cf.UserPinned = pinned != 0
	return &cf, nil
}

func (s *Store) ListContextFiles(ctx context.Context, sessionID int64) ([]ContextFile, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, file_path, hit_count, user_pinned, created_at_unix_ms, updated_at_unix_ms
FROM context_files
WHERE session_id = ?
ORDER BY file_path ASC
`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ContextFile
	for rows.Next() {
		var cf ContextFile
		var pinned int
		if err := rows.Scan(&cf.ID, &cf.SessionID, &cf.FilePath, &cf.HitCount, &pinned, &cf.CreatedAtUnixMs, &cf.UpdatedAtUnixMs); err != nil {
			return nil, err
		}
		cf.UserPinned = pinned != 0
		out = append(out, cf)
	}
	return out, rows.Err()
}

func (s *Store) DeleteContextFile(ctx context.Context, sessionID int64, id int64) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	res, err := s.db.ExecContext(ctx, `
DELETE FROM context_files WHERE session_id = ? AND id = ?
`, sessionID, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteContextFileByPath(ctx context.Context, sessionID int64, filePath string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	_, err := s.db.ExecContext(ctx, `
DELETE FROM context_files WHERE session_id = ? AND file_path = ?
`, sessionID, strings.TrimSpace(filePath))
	return err
}

// SyncContextFiles reconciles the stored set against keep: rows whose path is
// not in keep are deleted, missing paths are inserted, retained rows keep
// their metadata.
func (s *Store) SyncContextFiles(ctx context.Context, sessionID int64, keep []string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	want := make(map[string]bool, len(keep))
	for _, p := range keep {
		p = strings.TrimSpace(p)
		if p != "" {
			want[p] = true
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
SELECT file_path FROM context_files WHERE session_id = ?
`, sessionID)
	if err != nil {
		return err
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return err
		}
		existing[p] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	now := time.Now().UnixMilli()
	for p := range existing {
		if !want[p] {
			if _, err := tx.ExecContext(ctx, `
DELETE FROM context_files WHERE session_id = ? AND file_path = ?
`, sessionID, p); err != nil {
				return err
			}
		}
	}
	for p := range want {
		if !existing[p] {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO context_files(session_id, file_path, hit_count, user_pinned, created_at_unix_ms, updated_at_unix_ms)
VALUES(?, ?, 1, 0, ?, ?)
`, sessionID, p, now, now); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (s *Store) AddPromptAttachment(ctx context.Context, sessionID int64, name string, content string) (*PromptAttachment, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("missing attachment name")
	}

	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO prompt_attachments(session_id, name, content, created_at_unix_ms)
VALUES(?, ?, ?, ?)
`, sessionID, name, content, now)
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	return &PromptAttachment{ID: id, SessionID: sessionID, Name: name, Content: content, CreatedAtUnixMs: now}, nil
}

func (s *Store) ListPromptAttachments(ctx context.Context, sessionID int64) ([]PromptAttachment, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, name, content, created_at_unix_ms
FROM prompt_attachments
WHERE session_id = ?
ORDER BY id ASC
`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PromptAttachment
	for rows.Next() {
		var pa PromptAttachment
		if err := rows.Scan(&pa.ID, &pa.SessionID, &pa.Name, &pa.Content, &pa.CreatedAtUnixMs); err != nil {
			return nil, err
		}
		out = append(out, pa)
	}
	return out, rows.Err()
}
