package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// CreateDiffPatch inserts a PENDING patch row and returns it.
func (s *Store) CreateDiffPatch(ctx context.Context, sessionID int64, turnID string, diff string, processorType ProcessorType) (*DiffPatch, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	turnID = strings.TrimSpace(turnID)
	if sessionID <= 0 || turnID == "" {
		return nil, errors.New("patch requires session_id and turn_id")
	}
	if strings.TrimSpace(diff) == "" {
		return nil, errors.New("empty diff")
	}

	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO diff_patches(session_id, turn_id, diff, processor_type, status, created_at_unix_ms, updated_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?, ?)
`, sessionID, turnID, diff, string(processorType), string(PatchPending), now, now)
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	return &DiffPatch{
		ID:              id,
		SessionID:       sessionID,
		TurnID:          turnID,
		Diff:            diff,
		ProcessorType:   processorType,
		Status:          PatchPending,
		CreatedAtUnixMs: now,
		UpdatedAtUnixMs: now,
	}, nil
}

func (s *Store) GetDiffPatch(ctx context.Context, id int64) (*DiffPatch, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var p DiffPatch
	var processorType, status string
	err := s.db.QueryRowContext(ctx, `
SELECT id, session_id, turn_id, diff, processor_type, status, error_message,
       created_at_unix_ms, updated_at_unix_ms, applied_at_unix_ms
FROM diff_patches
WHERE id = ?
`, id).Scan(&p.ID, &p.SessionID, &p.TurnID, &p.Diff, &processorType, &status, &p.ErrorMessage,
		&p.CreatedAtUnixMs, &p.UpdatedAtUnixMs, &p.AppliedAtUnixMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.ProcessorType = ProcessorType(processorType)
	p.Status = PatchStatus(status)
	return &p, nil
}

// MarkDiffPatchApplied transitions a patch to APPLIED and stamps applied_at.
func (s *Store) MarkDiffPatchApplied(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
UPDATE diff_patches
SET status = ?, error_message = '', updated_at_unix_ms = ?, applied_at_unix_ms = ?
WHERE id = ?
`, string(PatchApplied), now, now, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkDiffPatchFailed transitions a patch to FAILED with the error message.
func (s *Store) MarkDiffPatchFailed(ctx context.Context, id int64, errMsg string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
UPDATE diff_patches
SET status = ?, error_message = ?, updated_at_unix_ms = ?
WHERE id = ?
`, string(PatchFailed), strings.TrimSpace(errMsg), now, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListDiffPatches(ctx context.Context, sessionID int64) ([]DiffPatch, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, turn_id, diff, processor_type, status, error_message,
       created_at_unix_ms, updated_at_unix_ms, applied_at_unix_ms
FROM diff_patches
WHERE session_id = ?
ORDER BY id ASC
`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DiffPatch
	for rows.Next() {
		var p DiffPatch
		var processorType, status string
		if err := rows.Scan(&p.ID, &p.SessionID, &p.TurnID, &p.Diff, &processorType, &status, &p.ErrorMessage,
			&p.CreatedAtUnixMs, &p.UpdatedAtUnixMs, &p.AppliedAtUnixMs); err != nil {
			return nil, err
		}
		p.ProcessorType = ProcessorType(processorType)
		p.Status = PatchStatus(status)
		out = append(out, p)
	}
	return out, rows.Err()
}
