package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// APIKeyMask is the placeholder shown instead of stored API keys. When an
// update arrives carrying the placeholder, the stored key is preserved.
const APIKeyMask = "API_KEY_MASK"

// SeedLLMSettings inserts rows for models that are not present yet. Existing
// rows keep their key, context window and role.
func (s *Store) SeedLLMSettings(ctx context.Context, models []LLMSettings) error {
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

	for _, m := range models {
		name := strings.TrimSpace(m.ModelName)
		provider := strings.TrimSpace(m.Provider)
		if name == "" || provider == "" {
			return errors.New("invalid llm settings seed")
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO llm_settings(model_name, provider, api_key, context_window, active_role, reasoning_config_json)
VALUES(?, ?, NULL, ?, NULL, NULL)
ON CONFLICT(model_name) DO NOTHING
`, name, provider, m.ContextWindow); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetLLMSettings(ctx context.Context, modelName string) (*LLMSettings, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		return nil, errors.New("missing model name")
	}

	row := s.db.QueryRowContext(ctx, `
SELECT model_name, provider, api_key, context_window, active_role, reasoning_config_json
FROM llm_settings
WHERE model_name = ?
`, modelName)
	return scanLLMSettings(row)
}

// ActiveCoder returns the model currently assigned the CODER role.
func (s *Store) ActiveCoder(ctx context.Context) (*LLMSettings, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	row := s.db.QueryRowContext(ctx, `
SELECT model_name, provider, api_key, context_window, active_role, reasoning_config_json
FROM llm_settings
WHERE active_role = ?
`, string(RoleCoder))
	return scanLLMSettings(row)
}

func scanLLMSettings(row *sql.Row) (*LLMSettings, error) {
	var m LLMSettings
	var apiKey, activeRole, reasoning sql.NullString
	err := row.Scan(&m.ModelName, &m.Provider, &apiKey, &m.ContextWindow, &activeRole, &reasoning)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLLMSettingsNotFound
		}
		return nil, err
	}
	m.APIKey = apiKey.String
	m.HasAPIKey = apiKey.Valid && strings.TrimSpace(apiKey.String) != ""
	m.ActiveRole = activeRole.String
	m.ReasoningConfigJSON = reasoning.String
	return &m, nil
}

func (s *Store) ListLLMSettings(ctx context.Context) ([]LLMSettings, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT model_name, provider, api_key, context_window, active_role, reasoning_config_json
FROM llm_settings
ORDER BY provider ASC, model_name ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LLMSettings
	for rows.Next() {
		var m LLMSettings
		var apiKey, activeRole, reasoning sql.NullString
		if err := rows.Scan(&m.ModelName, &m.Provider, &apiKey, &m.ContextWindow, &activeRole, &reasoning); err != nil {
			return nil, err
		}
		m.APIKey = apiKey.String
		m.HasAPIKey = apiKey.Valid && strings.TrimSpace(apiKey.String) != ""
		m.ActiveRole = activeRole.String
		m.ReasoningConfigJSON = reasoning.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateProviderAPIKey applies masked-key semantics and mass-updates every
// row of the provider so exactly one logical key exists per provider:
// APIKeyMask preserves the stored key, "" clears it, anything else is stored.
func (s *Store) UpdateProviderAPIKey(ctx context.Context, provider string, key string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return errors.New("missing provider")
	}
	if key == APIKeyMask {
		return nil
	}

	var stored any
	if strings.TrimSpace(key) == "" {
		stored = nil
	} else {
		stored = strings.TrimSpace(key)
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE llm_settings SET api_key = ? WHERE provider = ?
`, stored, provider)
	return err
}

// SetActiveRole assigns role to the model, clearing it from any other row
// first. An empty role clears the model's role.
func (s *Store) SetActiveRole(ctx context.Context, modelName string, role LLMRole) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		return errors.New("missing model name")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if role != "" {
		if _, err := tx.ExecContext(ctx, `
UPDATE llm_settings SET active_role = NULL WHERE active_role = ?
`, string(role)); err != nil {
			return err
		}
	}

	var stored any
	if role != "" {
		stored = string(role)
	}
	res, err := tx.ExecContext(ctx, `
UPDATE llm_settings SET active_role = ? WHERE model_name = ?
`, stored, modelName)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrLLMSettingsNotFound
	}
	return tx.Commit()
}

// UpdateLLMSettings updates the mutable per-model fields. reasoningJSON ""
// clears the stored reasoning config.
func (s *Store) UpdateLLMSettings(ctx context.Context, modelName string, contextWindow int64, reasoningJSON string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		return errors.New("missing model name")
	}
	if contextWindow <= 0 {
		return errors.New("context_window must be > 0")
	}

	var stored any
	if strings.TrimSpace(reasoningJSON) != "" {
		stored = strings.TrimSpace(reasoningJSON)
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE llm_settings SET context_window = ?, reasoning_config_json = ? WHERE model_name = ?
`, contextWindow, stored, modelName)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrLLMSettingsNotFound
	}
	return nil
}

// MaskedLLMSettings renders rows for UI consumption with keys replaced by
// APIKeyMask.
func MaskedLLMSettings(in []LLMSettings) []LLMSettings {
	out := make([]LLMSettings, 0, len(in))
	for _, m := range in {
		if m.HasAPIKey {
			m.APIKey = APIKeyMask
		} else {
			m.APIKey = ""
		}
		out = append(out, m)
	}
	return out
}
