package patch

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/atelierhq/coderd/internal/codebase"
	"github.com/atelierhq/coderd/internal/store"
)

// Completer is the minimal LLM surface the unified diff processor needs: a
// single system-prompted completion over ordered user messages.
type Completer interface {
	Complete(ctx context.Context, system string, userMessages ...string) (string, error)
}

// CompleterFactory yields the patch-application model client. The processor
// resolves it lazily so a missing API key only fails when a patch actually
// needs the model.
type CompleterFactory func(ctx context.Context) (Completer, error)

// Processor materializes stored patch text onto the active project's disk.
type Processor interface {
	ApplyPatch(ctx context.Context, diff string) error
}

// UDiffProcessor applies unified diffs by asking a secondary model to merge
// the diff into the file's current content.
type UDiffProcessor struct {
	store     *store.Store
	codebase  *codebase.Service
	completer CompleterFactory
	log       *slog.Logger
}

func NewUDiffProcessor(st *store.Store, cb *codebase.Service, completer CompleterFactory, logger *slog.Logger) *UDiffProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &UDiffProcessor{store: st, codebase: cb, completer: completer, log: logger}
}

func (p *UDiffProcessor) ApplyPatch(ctx context.Context, diff string) error {
	patches, err := ExtractUDiff(diff)
	if err != nil {
		return err
	}
	if len(patches) == 0 {
		return &UnidiffParseError{Reason: "no file patches found"}
	}
	return p.applyFileDiff(ctx, patches[0].Path(), diff)
}

func (p *UDiffProcessor) applyFileDiff(ctx context.Context, filePath, diffContent string) error {
	project, err := p.store.ActiveProject(ctx)
	if err != nil {
		return err
	}

	// must-exist is off so a /dev/null source creates the file.
	result := p.codebase.ReadFile(project.Path, filePath, false)
	var originalContent string
	switch result.Status {
	case codebase.FileStatusSuccess:
		originalContent = result.Content
	case codebase.FileStatusBinary:
		return fmt.Errorf("cannot patch binary file: %s", filePath)
	default:
		return fmt.Errorf("could not read file %s: %s", filePath, result.ErrorMessage)
	}

	completer, err := p.completer(ctx)
	if err != nil {
		return err
	}
	response, err := completer.Complete(ctx, diffPatcherPrompt,
		"ORIGINAL CONTENT:\n"+originalContent,
		"DIFF PATCH:\n"+diffContent,
	)
	if err != nil {
		return err
	}

	patched := stripMarkdownFences(response)
	if err := p.codebase.WriteFile(project.Path, filePath, patched); err != nil {
		return err
	}
	additions, deletions := ChangeStats(originalContent, patched)
	p.log.Info("patched file", "path", filePath, "additions", additions, "deletions", deletions)
	return nil
}

var markdownFenceRE = regexp.MustCompile("(?sm)^```(?:\\w+)?[ \t]*\n(.*?)\n```$")

// stripMarkdownFences unwraps a response the model wrapped in a code fence
// despite instructions. Unfenced text passes through unchanged.
func stripMarkdownFences(text string) string {
	if m := markdownFenceRE.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return text
}

// CodexProcessor applies codex-format patches directly, no model round trip.
type CodexProcessor struct {
	store *store.Store
}

func NewCodexProcessor(st *store.Store) *CodexProcessor {
	return &CodexProcessor{store: st}
}

func (p *CodexProcessor) ApplyPatch(ctx context.Context, diff string) error {
	project, err := p.store.ActiveProject(ctx)
	if err != nil {
		return err
	}
	if err := ApplyCodex(project.Path, diff); err != nil {
		return fmt.Errorf("failed to apply patch: %w", err)
	}
	return nil
}
