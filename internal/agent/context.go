package agent

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/atelierhq/coderd/internal/codebase"
	"github.com/atelierhq/coderd/internal/repomap"
	"github.com/atelierhq/coderd/internal/store"
	"github.com/atelierhq/coderd/internal/workspace"
)

// ContextService assembles the agent's system prompt: identity and rules
// selected by operational mode, custom instructions, the active context files
// and the repository map.
type ContextService struct {
	store     *store.Store
	codebase  *codebase.Service
	workspace *workspace.Service
	log       *slog.Logger
}

type ContextOptions struct {
	Store     *store.Store
	Codebase  *codebase.Service
	Workspace *workspace.Service
	Logger    *slog.Logger
}

func NewContextService(opts ContextOptions) *ContextService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextService{
		store:     opts.Store,
		codebase:  opts.Codebase,
		workspace: opts.Workspace,
		log:       logger.With("component", "agent_context"),
	}
}

// BuildSystemPrompt renders the prompt sections in a stable order. Sections
// that are empty or inapplicable for the mode are omitted. CHAT mode gets
// only the identity and structure sections and never touches the project.
func (s *ContextService) BuildSystemPrompt(ctx context.Context, sessionID int64, mode store.OperationalMode) (string, error) {
	project, err := s.store.ActiveProject(ctx)
	if err != nil {
		return "", err
	}

	identity := identityFor(mode)
	parts := []string{
		fmt.Sprintf("<IDENTITY>\n%s\n</IDENTITY>", identity),
		fmt.Sprintf("<PROMPT_STRUCTURE>\n%s\n</PROMPT_STRUCTURE>", promptStructureGuide),
	}

	if mode == store.ModeChat {
		return strings.Join(parts, "\n\n"), nil
	}

	if rules := rulesFor(mode); rules != "" {
		parts = append(parts, fmt.Sprintf("<RULES>\n%s\n</RULES>", rules))
	}
	if guidelines := guidelinesFor(mode); guidelines != "" {
		parts = append(parts, fmt.Sprintf("<GUIDELINES>\n%s\n</GUIDELINES>", guidelines))
	}

	customXML, err := s.buildPromptsXML(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if customXML != "" {
		parts = append(parts, fmt.Sprintf("<CUSTOM_INSTRUCTIONS>\n%s\n</CUSTOM_INSTRUCTIONS>", customXML))
	}

	activeXML, err := s.buildActiveContextXML(ctx, sessionID, project)
	if err != nil {
		return "", err
	}
	if activeXML != "" {
		parts = append(parts, fmt.Sprintf("<ACTIVE_CONTEXT>\n<!-- %s -->\n%s\n</ACTIVE_CONTEXT>", activeContextDescription, activeXML))
	}

	repoMap, err := s.RepoMap(ctx, sessionID, false)
	if err != nil {
		return "", err
	}
	if repoMap != "" {
		parts = append(parts, fmt.Sprintf("<REPOSITORY_MAP>\n<!-- %s -->\n%s\n</REPOSITORY_MAP>", repoMapDescription, repoMap))
	}

	return strings.Join(parts, "\n\n"), nil
}

// RepoMap generates the repository map for the active project using the
// current settings: token budget, mode (AUTO renders ranked definitions,
// TREE only the file structure, MANUAL only the top-level entries) and the
// map-only soft ignore patterns.
func (s *ContextService) RepoMap(ctx context.Context, sessionID int64, includeActiveContent bool) (string, error) {
	project, err := s.store.ActiveProject(ctx)
	if err != nil {
		return "", err
	}
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return "", err
	}

	allRel, err := s.codebase.ResolveFilePatterns(project.Path, nil)
	if err != nil {
		return "", err
	}
	allAbs := make([]string, 0, len(allRel))
	for _, rel := range allRel {
		allAbs = append(allAbs, filepath.Join(project.Path, rel))
	}

	activeAbs, err := s.workspace.ActiveFilePathsAbs(ctx, sessionID, project.Path)
	if err != nil {
		return "", err
	}

	engine := &repomap.Engine{
		Root:               project.Path,
		AllFiles:           allAbs,
		ActiveContextFiles: activeAbs,
		IgnorePatterns:     parseIgnorePatterns(settings.RepoMapIgnorePatterns),
		TokenLimit:         int(settings.ASTTokenLimit),
		IncludeDefinitions: settings.RepoMapMode == store.RepoMapAuto,
		Logger:             s.log,
	}

	if settings.RepoMapMode == store.RepoMapManual {
		return engine.FormatTopLevelStructure(), nil
	}
	return engine.Generate(includeActiveContent), nil
}

func (s *ContextService) buildActiveContextXML(ctx context.Context, sessionID int64, project *store.Project) (string, error) {
	active, err := s.workspace.ActiveContext(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if len(active) == 0 {
		return "", nil
	}

	fileParts := make([]string, 0, len(active))
	for _, cf := range active {
		result := s.codebase.ReadFile(project.Path, cf.FilePath, true)
		if result.Status != codebase.FileStatusSuccess {
			continue
		}
		fileParts = append(fileParts, fmt.Sprintf("<FILE path=%q>\n%s\n</FILE>", cf.FilePath, result.Content))
	}
	if len(fileParts) == 0 {
		return "", nil
	}
	return "<CONTEXT_FILES>\n" + strings.Join(fileParts, "\n\n") + "\n</CONTEXT_FILES>", nil
}

func (s *ContextService) buildPromptsXML(ctx context.Context, sessionID int64) (string, error) {
	attachments, err := s.store.ListPromptAttachments(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if len(attachments) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(attachments))
	for _, pa := range attachments {
		parts = append(parts, fmt.Sprintf("<INSTRUCTION name=%q>\n%s\n</INSTRUCTION>", pa.Name, pa.Content))
	}
	return strings.Join(parts, "\n\n"), nil
}

func parseIgnorePatterns(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		if p := strings.TrimSpace(line); p != "" {
			out = append(out, p)
		}
	}
	return out
}
