package store

import "strings"

// OperationalMode selects the agent's identity, tool set and prompt assembly
// for a chat session.
type OperationalMode string

const (
	ModeCoding     OperationalMode = "CODING"
	ModeAsk        OperationalMode = "ASK"
	ModePlanner    OperationalMode = "PLANNER"
	ModeChat       OperationalMode = "CHAT"
	ModeSingleShot OperationalMode = "SINGLE_SHOT"
)

func NormalizeOperationalMode(raw string) OperationalMode {
	switch OperationalMode(strings.ToUpper(strings.TrimSpace(raw))) {
	case ModeAsk:
		return ModeAsk
	case ModePlanner:
		return ModePlanner
	case ModeChat:
		return ModeChat
	case ModeSingleShot:
		return ModeSingleShot
	default:
		return ModeCoding
	}
}

// TurnStatus is the lifecycle state of a chat turn. The machine is linear:
// PENDING turns may be retried with the same id until they reach SUCCEEDED.
type TurnStatus string

const (
	TurnPending   TurnStatus = "PENDING"
	TurnSucceeded TurnStatus = "SUCCEEDED"
)

// PatchStatus is the lifecycle state of a diff patch. REJECTED is reserved
// for human review and is never written by this codebase.
type PatchStatus string

const (
	PatchPending  PatchStatus = "PENDING"
	PatchApplied  PatchStatus = "APPLIED"
	PatchRejected PatchStatus = "REJECTED"
	PatchFailed   PatchStatus = "FAILED"
)

// ProcessorType selects the strategy that materializes a diff onto disk.
type ProcessorType string

const (
	ProcessorUDiffLLM   ProcessorType = "UDIFF_LLM"
	ProcessorCodexApply ProcessorType = "CODEX_APPLY"
)

// RepoMapMode controls how much of the repository map is rendered into the
// system prompt.
type RepoMapMode string

const (
	RepoMapAuto   RepoMapMode = "AUTO"
	RepoMapTree   RepoMapMode = "TREE"
	RepoMapManual RepoMapMode = "MANUAL"
)

// Role is a message author role.
type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
)

// LLMRole marks the purpose a configured model serves. At most one model
// carries the CODER role at a time.
type LLMRole string

const RoleCoder LLMRole = "CODER"

type Project struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Path            string `json:"path"`
	IsActive        bool   `json:"is_active"`
	CreatedAtUnixMs int64  `json:"created_at_unix_ms"`
	UpdatedAtUnixMs int64  `json:"updated_at_unix_ms"`
}

type ChatSession struct {
	ID              int64           `json:"id"`
	ProjectID       int64           `json:"project_id"`
	Name            string          `json:"name"`
	IsActive        bool            `json:"is_active"`
	OperationalMode OperationalMode `json:"operational_mode"`
	CreatedAtUnixMs int64           `json:"created_at_unix_ms"`
	UpdatedAtUnixMs int64           `json:"updated_at_unix_ms"`
}

type ChatTurn struct {
	ID              string     `json:"id"`
	SessionID       int64      `json:"session_id"`
	Status          TurnStatus `json:"status"`
	CreatedAtUnixMs int64      `json:"created_at_unix_ms"`
	UpdatedAtUnixMs int64      `json:"updated_at_unix_ms"`
}

type ContextFile struct {
	ID              int64  `json:"id"`
	SessionID       int64  `json:"session_id"`
	FilePath        string `json:"file_path"`
	HitCount        int64  `json:"hit_count"`
	UserPinned      bool   `json:"user_pinned"`
	CreatedAtUnixMs int64  `json:"created_at_unix_ms"`
	UpdatedAtUnixMs int64  `json:"updated_at_unix_ms"`
}

type PromptAttachment struct {
	ID              int64  `json:"id"`
	SessionID       int64  `json:"session_id"`
	Name            string `json:"name"`
	Content         string `json:"content"`
	CreatedAtUnixMs int64  `json:"created_at_unix_ms"`
}

type DiffPatch struct {
	ID              int64         `json:"id"`
	SessionID       int64         `json:"session_id"`
	TurnID          string        `json:"turn_id"`
	Diff            string        `json:"diff"`
	ProcessorType   ProcessorType `json:"processor_type"`
	Status          PatchStatus   `json:"status"`
	ErrorMessage    string        `json:"error_message"`
	CreatedAtUnixMs int64         `json:"created_at_unix_ms"`
	UpdatedAtUnixMs int64         `json:"updated_at_unix_ms"`
	AppliedAtUnixMs int64         `json:"applied_at_unix_ms"`
}

type SessionUsage struct {
	SessionID    int64   `json:"session_id"`
	Cost         float64 `json:"cost"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CachedTokens int64   `json:"cached_tokens"`
}

type ProviderUsage struct {
	Provider            string  `json:"provider"`
	Cost                float64 `json:"cost"`
	InputTokens         int64   `json:"input_tokens"`
	OutputTokens        int64   `json:"output_tokens"`
	CachedTokens        int64   `json:"cached_tokens"`
	LastUpdatedAtUnixMs int64   `json:"last_updated_at_unix_ms"`
}

type LLMSettings struct {
	ModelName     string `json:"model_name"`
	Provider      string `json:"provider"`
	APIKey        string `json:"api_key"`
	HasAPIKey     bool   `json:"has_api_key"`
	ContextWindow int64  `json:"context_window"`
	ActiveRole    string `json:"active_role"`
	// ReasoningConfigJSON is the provider-specific reasoning config as raw
	// JSON, or "" when unset.
	ReasoningConfigJSON string `json:"reasoning_config_json"`
}

type Settings struct {
	MaxHistoryLength       int64         `json:"max_history_length"`
	ASTTokenLimit          int64         `json:"ast_token_limit"`
	GrepTokenLimit         int64         `json:"grep_token_limit"`
	DiffPatchesAutoOpen    bool          `json:"diff_patches_auto_open"`
	DiffPatchesAutoApply   bool          `json:"diff_patches_auto_apply"`
	DiffPatchProcessorType ProcessorType `json:"diff_patch_processor_type"`
	RepoMapMode            RepoMapMode   `json:"repomap_mode"`
	// RepoMapIgnorePatterns are newline-separated patterns applied only
	// during map generation, on top of the gitignore spec.
	RepoMapIgnorePatterns string  `json:"repomap_ignore_patterns"`
	CodingLLMTemperature  float64 `json:"coding_llm_temperature"`
}
