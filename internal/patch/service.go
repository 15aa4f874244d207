package patch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/atelierhq/coderd/internal/store"
)

var diffBlockRE = regexp.MustCompile("(?sm)^```diff\\w*[ \t]*\n(.*?)^```")

// DiffPatchCreate is the payload extracted from one fenced diff block.
type DiffPatchCreate struct {
	SessionID     int64
	TurnID        string
	Diff          string
	ProcessorType store.ProcessorType
}

// ApplyResult reports the outcome of processing one patch.
type ApplyResult struct {
	PatchID        int64
	Status         store.PatchStatus
	ErrorMessage   string
	Representation *Representation
}

// DiffPatchService extracts fenced diffs from assistant output and runs them
// through the configured processor, recording each attempt as a DiffPatch
// row.
type DiffPatchService struct {
	store *store.Store
	udiff *UDiffProcessor
	codex *CodexProcessor
	log   *slog.Logger
}

func NewDiffPatchService(st *store.Store, udiff *UDiffProcessor, codex *CodexProcessor, logger *slog.Logger) *DiffPatchService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiffPatchService{store: st, udiff: udiff, codex: codex, log: logger}
}

// ExtractDiffsFromBlocks concatenates the text blocks of a turn and returns
// one create payload per fenced diff block, in order of appearance.
func (s *DiffPatchService) ExtractDiffsFromBlocks(turnID string, sessionID int64, blocks []store.Block, processorType store.ProcessorType) ([]DiffPatchCreate, error) {
	var parts []string
	for _, b := range blocks {
		if b.Type == store.BlockTypeText {
			parts = append(parts, b.Content)
		}
	}
	return s.extractFromText(turnID, sessionID, strings.Join(parts, "\n"), processorType)
}

func (s *DiffPatchService) extractFromText(turnID string, sessionID int64, text string, processorType store.ProcessorType) ([]DiffPatchCreate, error) {
	if text == "" {
		return nil, nil
	}

	matches := diffBlockRE.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil, nil
	}

	patches := make([]DiffPatchCreate, 0, len(matches))
	for _, m := range matches {
		diff := strings.Trim(m[1], "\n")
		if diff == "" {
			return nil, errors.New("error parsing diff: no content to parse")
		}
		patches = append(patches, DiffPatchCreate{
			SessionID:     sessionID,
			TurnID:        turnID,
			Diff:          diff,
			ProcessorType: processorType,
		})
	}
	return patches, nil
}

// ProcessDiff records the patch, applies it and stamps the terminal status.
// Apply failures become FAILED rows, never errors; only the bookkeeping
// itself can fail.
func (s *DiffPatchService) ProcessDiff(ctx context.Context, payload DiffPatchCreate) (ApplyResult, error) {
	row, err := s.store.CreateDiffPatch(ctx, payload.SessionID, payload.TurnID, payload.Diff, payload.ProcessorType)
	if err != nil {
		return ApplyResult{}, err
	}

	processor, err := s.processorFor(payload.ProcessorType)
	if err == nil {
		err = processor.ApplyPatch(ctx, payload.Diff)
	}
	if err != nil {
		s.log.Error("patch application failed", "patch_id", row.ID, "error", err)
		if markErr := s.store.MarkDiffPatchFailed(ctx, row.ID, err.Error()); markErr != nil {
			return ApplyResult{}, markErr
		}
		return ApplyResult{PatchID: row.ID, Status: store.PatchFailed, ErrorMessage: err.Error()}, nil
	}

	rep, err := ParseRepresentation(payload.Diff, payload.ProcessorType)
	if err != nil {
		// Applied but unparseable for bookkeeping; the row still records the
		// failure so the attempt is auditable.
		s.log.Error("patch applied but representation parse failed", "patch_id", row.ID, "error", err)
		if markErr := s.store.MarkDiffPatchFailed(ctx, row.ID, err.Error()); markErr != nil {
			return ApplyResult{}, markErr
		}
		return ApplyResult{PatchID: row.ID, Status: store.PatchFailed, ErrorMessage: err.Error()}, nil
	}

	if err := s.store.MarkDiffPatchApplied(ctx, row.ID); err != nil {
		return ApplyResult{}, err
	}
	return ApplyResult{PatchID: row.ID, Status: store.PatchApplied, Representation: &rep}, nil
}

func (s *DiffPatchService) processorFor(t store.ProcessorType) (Processor, error) {
	switch t {
	case store.ProcessorUDiffLLM:
		return s.udiff, nil
	case store.ProcessorCodexApply:
		return s.codex, nil
	default:
		return nil, fmt.Errorf("unknown patch processor type: %q", t)
	}
}
