package coder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/atelierhq/coderd/internal/patch"
	"github.com/atelierhq/coderd/internal/store"
	"github.com/atelierhq/coderd/internal/workspace"
)

// SingleShotPatchService extracts fenced diffs from a finished turn's blocks
// and applies them, streaming one applied event per touched file. It runs
// only for SINGLE_SHOT sessions, after the assistant message is persisted.
type SingleShotPatchService struct {
	patches   *patch.DiffPatchService
	workspace *workspace.Service
	log       *slog.Logger
}

func NewSingleShotPatchService(patches *patch.DiffPatchService, ws *workspace.Service, logger *slog.Logger) *SingleShotPatchService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SingleShotPatchService{
		patches:   patches,
		workspace: ws,
		log:       logger.With("component", "single_shot_patching"),
	}
}

// ApplyFromBlocks processes every fenced diff found in the blocks. Patches
// that fail to apply are recorded as FAILED rows and skipped; only APPLIED
// patches with a parsed representation produce events. Added, removed and
// renamed files are synced into the active context, then a single
// context_files_updated snapshot closes the batch.
func (s *SingleShotPatchService) ApplyFromBlocks(
	ctx context.Context,
	sessionID int64,
	turnID string,
	blocks []store.Block,
	processorType store.ProcessorType,
	emit func(Event),
) error {
	extracted, err := s.patches.ExtractDiffsFromBlocks(turnID, sessionID, blocks, processorType)
	if err != nil {
		return err
	}

	var representations []patch.Representation
	for _, create := range extracted {
		result, err := s.patches.ProcessDiff(ctx, create)
		if err != nil {
			return err
		}
		if result.Status != store.PatchApplied {
			continue
		}
		rep := result.Representation
		if rep == nil || !rep.HasChanges() {
			continue
		}
		representations = append(representations, *rep)

		for _, p := range rep.Patches {
			emit(SingleShotDiffAppliedEvent(p.Path(), formatApplyResult(result)))
		}
	}

	if len(representations) == 0 {
		return nil
	}

	for _, rep := range representations {
		for _, p := range rep.Patches {
			if !p.IsAddedFile() && !p.IsRemovedFile() && !p.IsRename() {
				continue
			}
			if err := s.workspace.SyncContextForDiff(ctx, sessionID, p); err != nil {
				emit(WorkflowLogEvent(
					fmt.Sprintf("Failed to sync context from diff (session_id=%d): %v", sessionID, err),
					LogError,
				))
			}
		}
	}

	files, err := s.workspace.ActiveContext(ctx, sessionID)
	if err != nil {
		return err
	}
	refs := make([]ContextFileRef, 0, len(files))
	for _, f := range files {
		refs = append(refs, ContextFileRef{ID: f.ID, FilePath: f.FilePath})
	}
	emit(ContextFilesUpdatedEvent(sessionID, refs))

	s.log.Info("processed single-shot diff patches",
		"count", len(representations), "turn_id", turnID, "session_id", sessionID)
	return nil
}

func formatApplyResult(r patch.ApplyResult) string {
	switch r.Status {
	case store.PatchApplied:
		return fmt.Sprintf("Applied patch (patch_id=%d).", r.PatchID)
	case store.PatchFailed:
		return fmt.Sprintf("Failed to apply patch (patch_id=%d): %s", r.PatchID, r.ErrorMessage)
	default:
		return fmt.Sprintf("Patch saved (patch_id=%d). Not applied (status=%s).", r.PatchID, r.Status)
	}
}
