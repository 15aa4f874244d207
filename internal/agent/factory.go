package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/atelierhq/coderd/internal/codebase"
	"github.com/atelierhq/coderd/internal/llm"
	"github.com/atelierhq/coderd/internal/patch"
	"github.com/atelierhq/coderd/internal/store"
	"github.com/atelierhq/coderd/internal/workspace"
)

// Factory builds a ready-to-run Workflow for one turn: the coder LLM client
// at the configured temperature, the mode-gated tool set and the assembled
// system prompt.
type Factory struct {
	store   *store.Store
	llms    *llm.Service
	context *ContextService
	cb      *codebase.Service
	ws      *workspace.Service
	patches *patch.DiffPatchService
	log     *slog.Logger
}

type FactoryOptions struct {
	Store    *store.Store
	LLMs     *llm.Service
	Context  *ContextService
	Codebase *codebase.Service
	Worksp   *workspace.Service
	Patches  *patch.DiffPatchService
	Logger   *slog.Logger
}

func NewFactory(opts FactoryOptions) *Factory {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		store:   opts.Store,
		llms:    opts.LLMs,
		context: opts.Context,
		cb:      opts.Codebase,
		ws:      opts.Worksp,
		patches: opts.Patches,
		log:     logger.With("component", "agent_factory"),
	}
}

// BuildAgent assembles the workflow for the session's operational mode. The
// settings snapshot is taken by the caller so mid-turn settings edits do not
// race the running turn.
func (f *Factory) BuildAgent(ctx context.Context, sessionID int64, turnID string, settings store.Settings) (*Workflow, error) {
	session, err := f.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %d: %w", sessionID, err)
	}
	mode := session.OperationalMode

	coder, err := f.llms.ActiveCoder(ctx)
	if err != nil {
		return nil, err
	}
	temperature := settings.CodingLLMTemperature
	client, err := f.llms.Client(ctx, coder.ModelName, &temperature, nil)
	if err != nil {
		return nil, err
	}

	systemPrompt, err := f.context.BuildSystemPrompt(ctx, sessionID, mode)
	if err != nil {
		return nil, err
	}

	toolbox := NewToolbox(ToolboxOptions{
		Store:     f.store,
		Codebase:  f.cb,
		Workspace: f.ws,
		Patches:   f.patches,
		Settings:  settings,
		SessionID: sessionID,
		TurnID:    turnID,
		Logger:    f.log,
	})
	tools := toolbox.Tools(mode)

	f.log.Debug("agent built",
		"session_id", sessionID,
		"turn_id", turnID,
		"mode", string(mode),
		"tools", len(tools))

	return &Workflow{
		Client:           client,
		Tools:            tools,
		SystemPrompt:     systemPrompt,
		MaxHistory:       int(settings.MaxHistoryLength),
		MaxHistoryTokens: historyTokenBudget(coder.ContextWindow),
		Logger:           f.log,
	}, nil
}

// historyTokenBudget is the share of the coder model's context window the
// chat history may occupy. The remainder is headroom for the system prompt
// and the reply.
func historyTokenBudget(contextWindow int64) int {
	if contextWindow <= 0 {
		return 0
	}
	return int(contextWindow - contextWindow/4)
}
