package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Store is the local SQLite-backed persistence layer for projects, chat
// sessions, turns, messages, context files, diff patches, usage and settings.
//
// Notes:
//   - WAL is enabled to support concurrent reads while a turn is writing.
//   - Foreign keys are enforced; deleting a session cascades to its messages,
//     context files, prompt attachments, diff patches, workflow state and
//     usage rows.
type Store struct {
	db *sql.DB
}

var (
	ErrNotFound               = errors.New("not found")
	ErrProjectNotFound        = fmt.Errorf("project %w", ErrNotFound)
	ErrSessionNotFound        = fmt.Errorf("chat session %w", ErrNotFound)
	ErrTurnNotFound           = fmt.Errorf("chat turn %w", ErrNotFound)
	ErrSettingsNotFound       = fmt.Errorf("settings %w", ErrNotFound)
	ErrLLMSettingsNotFound    = fmt.Errorf("llm settings %w", ErrNotFound)
	ErrActiveProjectRequired  = errors.New("no active project")
	ErrMultipleActiveProjects = errors.New("multiple active projects")
)

func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	// foreign_keys is connection-scoped; the DSN pragma applies it to every
	// pooled connection.
	db, err := sql.Open("sqlite", "file:"+p+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(3000)")
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	return migrateSchema(db)
}

func migrateSchema(db *sql.DB) error {
	const targetVersion = 1

	var v int
	if err := db.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return fmt.Errorf("pragma user_version: %w", err)
	}
	if v >= targetVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS projects (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL DEFAULT '',
  path TEXT NOT NULL,
  is_active INTEGER NOT NULL DEFAULT 0,
  created_at_unix_ms INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_sessions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
  name TEXT NOT NULL DEFAULT '',
  is_active INTEGER NOT NULL DEFAULT 0,
  operational_mode TEXT NOT NULL DEFAULT 'CODING',
  created_at_unix_ms INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_sessions_project ON chat_sessions(project_id, is_active);

CREATE TABLE IF NOT EXISTS chat_turns (
  id TEXT PRIMARY KEY,
  session_id INTEGER NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
  status TEXT NOT NULL DEFAULT 'PENDING',
  created_at_unix_ms INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_turns_session ON chat_turns(session_id);

CREATE TABLE IF NOT EXISTS messages (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id INTEGER NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
  turn_id TEXT NOT NULL REFERENCES chat_turns(id) ON DELETE CASCADE,
  role TEXT NOT NULL,
  blocks_json TEXT NOT NULL DEFAULT '[]',
  created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id ASC);
CREATE INDEX IF NOT EXISTS idx_messages_turn ON messages(turn_id);

CREATE TABLE IF NOT EXISTS workflow_states (
  session_id INTEGER PRIMARY KEY REFERENCES chat_sessions(id) ON DELETE CASCADE,
  state_json TEXT NOT NULL DEFAULT '{}',
  updated_at_unix_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS context_files (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id INTEGER NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
  file_path TEXT NOT NULL,
  hit_count INTEGER NOT NULL DEFAULT 1,
  user_pinned INTEGER NOT NULL DEFAULT 0,
  created_at_unix_ms INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL,
  UNIQUE(session_id, file_path)
);

CREATE TABLE IF NOT EXISTS prompt_attachments (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id INTEGER NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
  name TEXT NOT NULL,
  content TEXT NOT NULL DEFAULT '',
  created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_prompt_attachments_session ON prompt_attachments(session_id);

CREATE TABLE IF NOT EXISTS diff_patches (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id INTEGER NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
  turn_id TEXT NOT NULL,
  diff TEXT NOT NULL,
  processor_type TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'PENDING',
  error_message TEXT NOT NULL DEFAULT '',
  created_at_unix_ms INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL,
  applied_at_unix_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_diff_patches_session ON diff_patches(session_id, id ASC);

CREATE TABLE IF NOT EXISTS session_usage (
  session_id INTEGER PRIMARY KEY REFERENCES chat_sessions(id) ON DELETE CASCADE,
  cost REAL NOT NULL DEFAULT 0,
  input_tokens INTEGER NOT NULL DEFAULT 0,
  output_tokens INTEGER NOT NULL DEFAULT 0,
  cached_tokens INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS provider_usage (
  provider TEXT PRIMARY KEY,
  cost REAL NOT NULL DEFAULT 0,
  input_tokens INTEGER NOT NULL DEFAULT 0,
  output_tokens INTEGER NOT NULL DEFAULT 0,
  cached_tokens INTEGER NOT NULL DEFAULT 0,
  last_updated_at_unix_ms INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS llm_settings (
  model_name TEXT PRIMARY KEY,
  provider TEXT NOT NULL,
  api_key TEXT,
  context_window INTEGER NOT NULL,
  active_role TEXT,
  reasoning_config_json TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_llm_settings_active_role ON llm_settings(active_role) WHERE active_role IS NOT NULL;

CREATE TABLE IF NOT EXISTS settings (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  max_history_length INTEGER NOT NULL,
  ast_token_limit INTEGER NOT NULL,
  grep_token_limit INTEGER NOT NULL,
  diff_patches_auto_open INTEGER NOT NULL DEFAULT 1,
  diff_patches_auto_apply INTEGER NOT NULL DEFAULT 0,
  diff_patch_processor_type TEXT NOT NULL DEFAULT 'UDIFF_LLM',
  repomap_mode TEXT NOT NULL DEFAULT 'AUTO',
  repomap_ignore_patterns TEXT NOT NULL DEFAULT '',
  coding_llm_temperature REAL NOT NULL
);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version=%d;`, targetVersion)); err != nil {
		return err
	}
	return tx.Commit()
}
