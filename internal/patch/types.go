// Package patch parses assistant-proposed patches and applies them to the
// active project workspace. Two on-disk strategies are supported: unified
// diffs materialized through a secondary LLM call, and codex-style patches
// applied directly.
package patch

import (
	"fmt"

	"github.com/atelierhq/coderd/internal/store"
)

// Operation classifies what a parsed patch does to its target file.
type Operation string

const (
	OpAdd    Operation = "ADD"
	OpModify Operation = "MODIFY"
	OpDelete Operation = "DELETE"
	OpRename Operation = "RENAME"
)

const devNull = "/dev/null"

// ParsedPatch is the format-neutral view of one file's change. Paths are
// relative to the project root with any a/ b/ header prefixes stripped.
type ParsedPatch struct {
	OldPath   string
	NewPath   string
	Operation Operation
	Additions int
	Deletions int
}

func (p ParsedPatch) IsAddedFile() bool   { return p.Operation == OpAdd }
func (p ParsedPatch) IsRemovedFile() bool { return p.Operation == OpDelete }
func (p ParsedPatch) IsRename() bool      { return p.Operation == OpRename }

// Path is the single path callers act on: the target for ADD, MODIFY and
// RENAME, the source for DELETE.
func (p ParsedPatch) Path() string {
	if p.Operation == OpDelete {
		return p.OldPath
	}
	return p.NewPath
}

// Representation abstracts both patch formats into a common list shape.
type Representation struct {
	ProcessorType store.ProcessorType
	Patches       []ParsedPatch
}

func (r Representation) HasChanges() bool { return len(r.Patches) > 0 }

// ParseRepresentation parses raw patch text according to the processor type
// it was stored under.
func ParseRepresentation(rawText string, processorType store.ProcessorType) (Representation, error) {
	var (
		patches []ParsedPatch
		err     error
	)
	switch processorType {
	case store.ProcessorUDiffLLM:
		patches, err = ExtractUDiff(rawText)
	case store.ProcessorCodexApply:
		patches, err = ExtractCodex(rawText)
	default:
		return Representation{}, fmt.Errorf("unknown patch processor type: %q", processorType)
	}
	if err != nil {
		return Representation{}, err
	}
	return Representation{ProcessorType: processorType, Patches: patches}, nil
}

func stripDiffPrefix(path string) string {
	if len(path) > 2 && (path[:2] == "a/" || path[:2] == "b/") {
		return path[2:]
	}
	return path
}
