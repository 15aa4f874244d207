package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/atelierhq/coderd/internal/codebase"
	"github.com/atelierhq/coderd/internal/llm"
	"github.com/atelierhq/coderd/internal/patch"
	"github.com/atelierhq/coderd/internal/repomap"
	"github.com/atelierhq/coderd/internal/store"
	"github.com/atelierhq/coderd/internal/workspace"
)

// Tool is one callable function exposed to the model. Run never returns an
// error: failures are reported as text so the model can recover.
type Tool struct {
	Def llm.ToolDef
	Run func(ctx context.Context, args map[string]any) string
}

// Toolbox builds the mode-dependent tool set for one turn. Tools carry the
// session and turn ids so patch rows correlate with the turn that produced
// them.
type Toolbox struct {
	store     *store.Store
	codebase  *codebase.Service
	workspace *workspace.Service
	patches   *patch.DiffPatchService
	settings  store.Settings
	sessionID int64
	turnID    string
	log       *slog.Logger
}

type ToolboxOptions struct {
	Store     *store.Store
	Codebase  *codebase.Service
	Workspace *workspace.Service
	Patches   *patch.DiffPatchService
	Settings  store.Settings
	SessionID int64
	TurnID    string
	Logger    *slog.Logger
}

func NewToolbox(opts ToolboxOptions) *Toolbox {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Toolbox{
		store:     opts.Store,
		codebase:  opts.Codebase,
		workspace: opts.Workspace,
		patches:   opts.Patches,
		settings:  opts.Settings,
		sessionID: opts.SessionID,
		turnID:    opts.TurnID,
		log:       logger.With("component", "agent_tools"),
	}
}

// Tools returns the tool set for the mode. CODING gets search, file and
// patcher tools; ASK and PLANNER get the read-only subset; CHAT and
// SINGLE_SHOT run without tools.
func (tb *Toolbox) Tools(mode store.OperationalMode) []Tool {
	switch mode {
	case store.ModeCoding:
		tools := tb.searchTools()
		tools = append(tools, tb.fileTools()...)
		return append(tools, tb.patcherTools()...)
	case store.ModeAsk, store.ModePlanner:
		return append(tb.searchTools(), tb.fileTools()...)
	default:
		return nil
	}
}

func (tb *Toolbox) searchTools() []Tool {
	return []Tool{
		{
			Def: llm.ToolDef{
				Name:        "grep_search",
				Description: "Search for a regular expression in the active project's files. Returns matching lines with surrounding scope context. Optionally restrict to glob file patterns.",
				InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "pattern": {"type": "string", "description": "Regular expression to search for."},
    "file_patterns": {"type": "array", "items": {"type": "string"}, "description": "Optional glob patterns to restrict the search (e.g. 'internal/**/*.go')."},
    "ignore_case": {"type": "boolean", "description": "Case-insensitive search. Defaults to true."}
  },
  "required": ["pattern"]
}`),
			},
			Run: tb.runGrepSearch,
		},
		{
			Def: llm.ToolDef{
				Name:        "list_dir",
				Description: "List the entries of a directory inside the active project. Directories are suffixed with '/'.",
				InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "dir_path": {"type": "string", "description": "Project-relative directory path. Use '.' for the project root."}
  },
  "required": ["dir_path"]
}`),
			},
			Run: tb.runListDir,
		},
	}
}

func (tb *Toolbox) fileTools() []Tool {
	return []Tool{
		{
			Def: llm.ToolDef{
				Name:        "read_files",
				Description: "Read the full content of one or more project files. Read files are also added to the active context so they stay loaded in later turns.",
				InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "file_paths": {"type": "array", "items": {"type": "string"}, "description": "Project-relative paths of the files to read."}
  },
  "required": ["file_paths"]
}`),
			},
			Run: tb.runReadFiles,
		},
		{
			Def: llm.ToolDef{
				Name:        "add_files_to_context",
				Description: "Add files to the active context without returning their content now. Their full content will appear in the ACTIVE_CONTEXT section of the next turn.",
				InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "file_paths": {"type": "array", "items": {"type": "string"}, "description": "Project-relative paths of the files to add."}
  },
  "required": ["file_paths"]
}`),
			},
			Run: tb.runAddFiles,
		},
		{
			Def: llm.ToolDef{
				Name:        "remove_files_from_context",
				Description: "Remove files from the active context when they are no longer needed, freeing context budget.",
				InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "file_paths": {"type": "array", "items": {"type": "string"}, "description": "Project-relative paths of the files to remove."}
  },
  "required": ["file_paths"]
}`),
			},
			Run: tb.runRemoveFiles,
		},
	}
}

const applyUDiffPatchDescription = `The changes to apply in Unified Diff format.

STRICT FORMAT RULES:
1. Format: Standard ` + "`diff -u`" + ` format.
   - Header: ` + "`--- source_file`" + ` and ` + "`+++ target_file`" + `
   - Hunks: ` + "`@@ -start,count +start,count @@`" + `
   - Context: MUST include 3-5 lines of UNCHANGED context before and after changes.
2. File Creation: Use ` + "`--- /dev/null`" + ` and ` + "`+++ path/to/new_file`" + `.
3. File Deletion: Use ` + "`--- path/to/file`" + ` and ` + "`+++ /dev/null`" + `.
4. No Markdown: Do NOT wrap the diff in markdown code blocks.

EXAMPLE:
--- app/main.py
+++ app/main.py
@@ -10,4 +10,4 @@
 def main():
-    print("Old")
+    print("New")
     return True`

const applyCodexPatchDescription = `The changes to apply in the envelope patch format.

FORMAT:
*** Begin Patch
*** Update File: path/to/file
@@ nearby_context_line
 context line
-removed line
+added line
 context line
*** End Patch

- Use "*** Add File: path" followed by "+" prefixed lines for new files.
- Use "*** Delete File: path" to remove a file.
- Use "*** Move to: new/path" directly after an Update header to rename.
- Every change chunk needs enough unchanged context lines to locate it uniquely.`

func (tb *Toolbox) patcherTools() []Tool {
	desc := applyUDiffPatchDescription
	if tb.settings.DiffPatchProcessorType == store.ProcessorCodexApply {
		desc = applyCodexPatchDescription
	}
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"patch": map[string]any{"type": "string", "description": desc},
		},
		"required": []string{"patch"},
	})
	return []Tool{
		{
			Def: llm.ToolDef{
				Name:        "apply_patch",
				Description: "Apply a patch to the active project. Provide the patch text in the format described.",
				InputSchema: schema,
			},
			Run: tb.runApplyPatch,
		},
	}
}

func (tb *Toolbox) runGrepSearch(ctx context.Context, args map[string]any) string {
	pattern := stringArg(args, "pattern")
	if pattern == "" {
		return "Error: 'pattern' is required."
	}
	if boolArg(args, "ignore_case", true) {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Sprintf("Error: invalid pattern: %v", err)
	}

	project, err := tb.store.ActiveProject(ctx)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	files, err := tb.codebase.ResolveFilePatterns(project.Path, stringSliceArg(args, "file_patterns"))
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}

	var out []string
	for _, filePath := range files {
		result := tb.codebase.ReadFile(project.Path, filePath, true)
		if result.Status != codebase.FileStatusSuccess {
			continue
		}
		var lois []int
		for i, line := range strings.Split(result.Content, "\n") {
			if re.MatchString(line) {
				lois = append(lois, i)
			}
		}
		if len(lois) == 0 {
			continue
		}
		if snippet := repomap.RenderSnippet(result.Content, lois); snippet != "" {
			out = append(out, fmt.Sprintf("%s:\n%s", filePath, snippet))
		}
	}
	if len(out) == 0 {
		return "No matches found."
	}
	return truncateToTokens(strings.Join(out, "\n\n"), int(tb.settings.GrepTokenLimit))
}

func (tb *Toolbox) runListDir(ctx context.Context, args map[string]any) string {
	dirPath := stringArg(args, "dir_path")
	if dirPath == "" {
		dirPath = "."
	}
	project, err := tb.store.ActiveProject(ctx)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	entries, err := tb.codebase.ListDir(project.Path, dirPath)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	if len(entries) == 0 {
		return fmt.Sprintf("Directory '%s' is empty.", dirPath)
	}
	return strings.Join(entries, "\n")
}

func (tb *Toolbox) runReadFiles(ctx context.Context, args map[string]any) string {
	paths := stringSliceArg(args, "file_paths")
	if len(paths) == 0 {
		return "Error: 'file_paths' is required."
	}
	project, err := tb.store.ActiveProject(ctx)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}

	var parts []string
	var readOK []string
	for _, filePath := range paths {
		result := tb.codebase.ReadFile(project.Path, filePath, true)
		switch result.Status {
		case codebase.FileStatusSuccess:
			parts = append(parts, fmt.Sprintf("<FILE path=%q>\n%s\n</FILE>", filePath, result.Content))
			readOK = append(readOK, filePath)
		case codebase.FileStatusBinary:
			parts = append(parts, fmt.Sprintf("File '%s' is binary and was not read.", filePath))
		default:
			parts = append(parts, fmt.Sprintf("Error reading '%s': %s", filePath, result.ErrorMessage))
		}
	}
	if len(readOK) > 0 {
		if err := tb.workspace.AddContextFiles(ctx, tb.sessionID, readOK); err != nil {
			tb.log.Error("failed to add read files to context", "session_id", tb.sessionID, "error", err)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (tb *Toolbox) runAddFiles(ctx context.Context, args map[string]any) string {
	paths := stringSliceArg(args, "file_paths")
	if len(paths) == 0 {
		return "Error: 'file_paths' is required."
	}
	if err := tb.workspace.AddContextFiles(ctx, tb.sessionID, paths); err != nil {
		return fmt.Sprintf("Context Error: %v", err)
	}
	return fmt.Sprintf("Added %d file(s) to the active context.", len(paths))
}

func (tb *Toolbox) runRemoveFiles(ctx context.Context, args map[string]any) string {
	paths := stringSliceArg(args, "file_paths")
	if len(paths) == 0 {
		return "Error: 'file_paths' is required."
	}
	if err := tb.workspace.RemoveContextFilesByPath(ctx, tb.sessionID, paths); err != nil {
		return fmt.Sprintf("Context Error: %v", err)
	}
	return fmt.Sprintf("Removed %d file(s) from the active context.", len(paths))
}

func (tb *Toolbox) runApplyPatch(ctx context.Context, args map[string]any) string {
	patchText := stringArg(args, "patch")
	if patchText == "" {
		return "Error: 'patch' is required."
	}
	if tb.turnID == "" {
		return "Error: no active turn id available for the patch tool."
	}

	result, err := tb.patches.ProcessDiff(ctx, patch.DiffPatchCreate{
		SessionID:     tb.sessionID,
		TurnID:        tb.turnID,
		Diff:          patchText,
		ProcessorType: tb.settings.DiffPatchProcessorType,
	})
	if err != nil {
		tb.log.Error("apply_patch failed", "session_id", tb.sessionID, "turn_id", tb.turnID, "error", err)
		return fmt.Sprintf("Error saving/applying patch: %v", err)
	}

	switch result.Status {
	case store.PatchApplied:
		if result.Representation != nil {
			for _, p := range result.Representation.Patches {
				if err := tb.workspace.SyncContextForDiff(ctx, tb.sessionID, p); err != nil {
					tb.log.Error("context sync after patch failed", "patch_id", result.PatchID, "error", err)
				}
			}
		}
		return fmt.Sprintf("Applied patch (patch_id=%d).", result.PatchID)
	case store.PatchFailed:
		msg := result.ErrorMessage
		if msg == "" {
			msg = "Unknown error"
		}
		return fmt.Sprintf("Failed to apply patch (patch_id=%d): %s", result.PatchID, msg)
	default:
		return fmt.Sprintf("Patch saved (patch_id=%d). Not applied (status=%s).", result.PatchID, result.Status)
	}
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}

func boolArg(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key]
	if !ok {
		return nil
	}
	var out []string
	switch v := raw.(type) {
	case []string:
		out = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		if s := strings.TrimSpace(v); s != "" {
			out = []string{s}
		}
	}
	return out
}

// truncateToTokens caps tool output at roughly limit tokens. The cut is by
// runes against the estimated tokens-per-rune ratio, so it is approximate
// but never splits a rune.
func truncateToTokens(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	total := llm.EstimateTokens(s)
	if total <= limit {
		return s
	}
	runes := []rune(s)
	keep := len(runes) * limit / total
	if keep >= len(runes) {
		return s
	}
	return string(runes[:keep]) + "\n... (output truncated)"
}
