package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// DefaultSettings is the bootstrap row created on first open.
func DefaultSettings() Settings {
	return Settings{
		MaxHistoryLength:       50,
		ASTTokenLimit:          10000,
		GrepTokenLimit:         4000,
		DiffPatchesAutoOpen:    true,
		DiffPatchesAutoApply:   false,
		DiffPatchProcessorType: ProcessorUDiffLLM,
		RepoMapMode:            RepoMapAuto,
		CodingLLMTemperature:   0.7,
	}
}

// EnsureSettings creates the singleton settings row when missing.
func (s *Store) EnsureSettings(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d := DefaultSettings()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO settings(
  id, max_history_length, ast_token_limit, grep_token_limit,
  diff_patches_auto_open, diff_patches_auto_apply, diff_patch_processor_type,
  repomap_mode, repomap_ignore_patterns, coding_llm_temperature
) VALUES(1, ?, ?, ?, ?, ?, ?, ?, '', ?)
ON CONFLICT(id) DO NOTHING
`, d.MaxHistoryLength, d.ASTTokenLimit, d.GrepTokenLimit,
		boolToInt(d.DiffPatchesAutoOpen), boolToInt(d.DiffPatchesAutoApply), string(d.DiffPatchProcessorType),
		string(d.RepoMapMode), d.CodingLLMTemperature)
	return err
}

func (s *Store) GetSettings(ctx context.Context) (*Settings, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var st Settings
	var autoOpen, autoApply int
	var processorType, repomapMode string
	err := s.db.QueryRowContext(ctx, `
SELECT max_history_length, ast_token_limit, grep_token_limit,
       diff_patches_auto_open, diff_patches_auto_apply, diff_patch_processor_type,
       repomap_mode, repomap_ignore_patterns, coding_llm_temperature
FROM settings
WHERE id = 1
`).Scan(&st.MaxHistoryLength, &st.ASTTokenLimit, &st.GrepTokenLimit,
		&autoOpen, &autoApply, &processorType,
		&repomapMode, &st.RepoMapIgnorePatterns, &st.CodingLLMTemperature)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSettingsNotFound
		}
		return nil, err
	}
	st.DiffPatchesAutoOpen = autoOpen != 0
	st.DiffPatchesAutoApply = autoApply != 0
	st.DiffPatchProcessorType = ProcessorType(processorType)
	st.RepoMapMode = RepoMapMode(repomapMode)
	return &st, nil
}

func (s *Store) UpdateSettings(ctx context.Context, st Settings) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if st.CodingLLMTemperature < 0 || st.CodingLLMTemperature > 1 {
		return fmt.Errorf("coding_llm_temperature %v out of range [0,1]", st.CodingLLMTemperature)
	}
	switch st.DiffPatchProcessorType {
	case ProcessorUDiffLLM, ProcessorCodexApply:
	default:
		return fmt.Errorf("invalid diff_patch_processor_type %q", st.DiffPatchProcessorType)
	}
	switch st.RepoMapMode {
	case RepoMapAuto, RepoMapTree, RepoMapManual:
	default:
		return fmt.Errorf("invalid repomap_mode %q", st.RepoMapMode)
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE settings SET
  max_history_length = ?,
  ast_token_limit = ?,
  grep_token_limit = ?,
  diff_patches_auto_open = ?,
  diff_patches_auto_apply = ?,
  diff_patch_processor_type = ?,
  repomap_mode = ?,
  repomap_ignore_patterns = ?,
  coding_llm_temperature = ?
WHERE id = 1
`, st.MaxHistoryLength, st.ASTTokenLimit, st.GrepTokenLimit,
		boolToInt(st.DiffPatchesAutoOpen), boolToInt(st.DiffPatchesAutoApply), string(st.DiffPatchProcessorType),
		string(st.RepoMapMode), strings.TrimSpace(st.RepoMapIgnorePatterns), st.CodingLLMTemperature)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrSettingsNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
