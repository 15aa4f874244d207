package patch

import (
	"fmt"
	"regexp"
	"strings"
)

// UnidiffParseError reports a malformed unified diff header set.
type UnidiffParseError struct {
	Reason string
}

func (e *UnidiffParseError) Error() string {
	return "unidiff parse error: " + e.Reason
}

var (
	udiffSourceRE = regexp.MustCompile(`(?m)^--- (.+)$`)
	udiffTargetRE = regexp.MustCompile(`(?m)^\+\+\+ (.+)$`)
)

// headerPath strips the optional tab-separated timestamp suffix and trailing
// whitespace from a ---/+++ header capture. Paths may contain spaces.
func headerPath(capture string) string {
	if i := strings.IndexByte(capture, '\t'); i >= 0 {
		capture = capture[:i]
	}
	return strings.TrimRight(capture, " ")
}

// ExtractUDiff parses a unified diff into per-file patches. Multi-file diffs
// are split on each "--- " header. Every chunk must carry exactly one
// source and one target header.
func ExtractUDiff(rawText string) ([]ParsedPatch, error) {
	raw := strings.ReplaceAll(rawText, "\r\n", "\n")

	var chunks []string
	lines := strings.Split(raw, "\n")
	start := -1
	for i, line := range lines {
		if strings.HasPrefix(line, "--- ") {
			if start >= 0 {
				chunks = append(chunks, strings.Join(lines[start:i], "\n"))
			}
			start = i
		}
	}
	if start < 0 {
		return nil, &UnidiffParseError{Reason: "no --- source header found"}
	}
	chunks = append(chunks, strings.Join(lines[start:], "\n"))

	patches := make([]ParsedPatch, 0, len(chunks))
	for _, chunk := range chunks {
		sources := udiffSourceRE.FindAllStringSubmatch(chunk, -1)
		targets := udiffTargetRE.FindAllStringSubmatch(chunk, -1)
		if len(sources) != 1 || len(targets) != 1 {
			return nil, &UnidiffParseError{
				Reason: fmt.Sprintf("expected one ---/+++ header pair per file, got %d/%d",
					len(sources), len(targets)),
			}
		}
		p, err := patchFromHeaders(headerPath(sources[0][1]), headerPath(targets[0][1]))
		if err != nil {
			return nil, err
		}
		p.Additions, p.Deletions = countChangedLines(chunk)
		patches = append(patches, p)
	}
	return patches, nil
}

func patchFromHeaders(sourceFile, targetFile string) (ParsedPatch, error) {
	sourceNorm := stripDiffPrefix(sourceFile)
	targetNorm := stripDiffPrefix(targetFile)

	isAdded := sourceFile == devNull
	isRemoved := targetFile == devNull
	if isAdded && isRemoved {
		return ParsedPatch{}, &UnidiffParseError{Reason: "both headers are /dev/null"}
	}

	switch {
	case isAdded:
		return ParsedPatch{NewPath: targetNorm, Operation: OpAdd}, nil
	case isRemoved:
		return ParsedPatch{OldPath: sourceNorm, Operation: OpDelete}, nil
	case sourceNorm != targetNorm:
		return ParsedPatch{OldPath: sourceNorm, NewPath: targetNorm, Operation: OpRename}, nil
	default:
		return ParsedPatch{OldPath: sourceNorm, NewPath: targetNorm, Operation: OpModify}, nil
	}
}

func countChangedLines(chunk string) (additions, deletions int) {
	for _, line := range strings.Split(chunk, "\n") {
		switch {
		case strings.HasPrefix(line, "+++ "), strings.HasPrefix(line, "--- "):
		case strings.HasPrefix(line, "+"):
			additions++
		case strings.HasPrefix(line, "-"):
			deletions++
		}
	}
	return additions, deletions
}
