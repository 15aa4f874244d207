package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

func (s *Store) CreateProject(ctx context.Context, name string, path string) (*Project, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	name = strings.TrimSpace(name)
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("missing project path")
	}
	if name == "" {
		name = path
	}

	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO projects(name, path, is_active, created_at_unix_ms, updated_at_unix_ms)
VALUES(?, ?, 0, ?, ?)
`, name, path, now, now)
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	return &Project{ID: id, Name: name, Path: path, CreatedAtUnixMs: now, UpdatedAtUnixMs: now}, nil
}

func (s *Store) GetProject(ctx context.Context, id int64) (*Project, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var p Project
	var active int
	err := s.db.QueryRowContext(ctx, `
SELECT id, name, path, is_active, created_at_unix_ms, updated_at_unix_ms
FROM projects
WHERE id = ?
`, id).Scan(&p.ID, &p.Name, &p.Path, &active, &p.CreatedAtUnixMs, &p.UpdatedAtUnixMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	p.IsActive = active != 0
	return &p, nil
}

// ActiveProject returns the single active project. Zero active rows is
// ErrActiveProjectRequired; more than one is an invariant violation reported
// at read time.
func (s *Store) ActiveProject(ctx context.Context) (*Project, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, path, is_active, created_at_unix_ms, updated_at_unix_ms
FROM projects
WHERE is_active = 1
ORDER BY id ASC
LIMIT 2
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		var active int
		if err := rows.Scan(&p.ID, &p.Name, &p.Path, &active, &p.CreatedAtUnixMs, &p.UpdatedAtUnixMs); err != nil {
			return nil, err
		}
		p.IsActive = active != 0
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(out) {
	case 0:
		return nil, ErrActiveProjectRequired
	case 1:
		return &out[0], nil
	default:
		return nil, ErrMultipleActiveProjects
	}
}

// SetActiveProject makes the given project the only active one.
func (s *Store) SetActiveProject(ctx context.Context, id int64) error {
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

	now := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `UPDATE projects SET is_active = 0 WHERE is_active = 1`); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
UPDATE projects SET is_active = 1, updated_at_unix_ms = ? WHERE id = ?
`, now, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrProjectNotFound
	}
	return tx.Commit()
}

func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, path, is_active, created_at_unix_ms, updated_at_unix_ms
FROM projects
ORDER BY id ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		var active int
		if err := rows.Scan(&p.ID, &p.Name, &p.Path, &active, &p.CreatedAtUnixMs, &p.UpdatedAtUnixMs); err != nil {
			return nil, err
		}
		p.IsActive = active != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeleteProject(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrProjectNotFound
	}
	return nil
}
