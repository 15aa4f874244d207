package patch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Codex patch envelope markers.
const (
	codexBegin  = "*** Begin Patch"
	codexEnd    = "*** End Patch"
	codexAdd    = "*** Add File: "
	codexUpdate = "*** Update File: "
	codexDelete = "*** Delete File: "
	codexMoveTo = "*** Move to: "
)

type codexChunk struct {
	anchor   string // context line from a preceding @@ marker, may be empty
	oldLines []string
	newLines []string
}

type codexHunk struct {
	op      Operation
	path    string
	moveTo  string
	content []string // ADD only
	chunks  []codexChunk
}

// ExtractCodex parses a codex-format patch into format-neutral patches.
func ExtractCodex(rawText string) ([]ParsedPatch, error) {
	hunks, err := parseCodexPatch(rawText)
	if err != nil {
		return nil, err
	}

	patches := make([]ParsedPatch, 0, len(hunks))
	for _, h := range hunks {
		switch h.op {
		case OpAdd:
			patches = append(patches, ParsedPatch{
				NewPath:   h.path,
				Operation: OpAdd,
				Additions: len(h.content),
			})
		case OpDelete:
			patches = append(patches, ParsedPatch{OldPath: h.path, Operation: OpDelete})
		default:
			p := ParsedPatch{OldPath: h.path, NewPath: h.path, Operation: OpModify}
			if h.moveTo != "" && h.moveTo != h.path {
				p.NewPath = h.moveTo
				p.Operation = OpRename
			}
			for _, c := range h.chunks {
				adds, dels := chunkChangeCounts(c)
				p.Additions += adds
				p.Deletions += dels
			}
			patches = append(patches, p)
		}
	}
	return patches, nil
}

// chunkChangeCounts pairs old and new lines positionally; matching pairs are
// unchanged context.
func chunkChangeCounts(c codexChunk) (additions, deletions int) {
	common := 0
	for i := 0; i < len(c.oldLines) && i < len(c.newLines); i++ {
		if c.oldLines[i] == c.newLines[i] {
			common++
		}
	}
	additions = len(c.newLines) - common
	deletions = len(c.oldLines) - common
	if additions < 0 {
		additions = 0
	}
	if deletions < 0 {
		deletions = 0
	}
	return additions, deletions
}

func parseCodexPatch(rawText string) ([]codexHunk, error) {
	raw := strings.ReplaceAll(rawText, "\r\n", "\n")
	lines := strings.Split(raw, "\n")

	i := 0
	for i < len(lines) && strings.TrimSpace(lines[i]) != codexBegin {
		i++
	}
	if i == len(lines) {
		return nil, errors.New("codex patch: missing *** Begin Patch marker")
	}
	i++

	var hunks []codexHunk
	for i < len(lines) {
		line := lines[i]
		switch {
		case strings.TrimSpace(line) == codexEnd:
			if len(hunks) == 0 {
				return nil, errors.New("codex patch: empty patch")
			}
			return hunks, nil

		case strings.HasPrefix(line, codexAdd):
			h := codexHunk{op: OpAdd, path: strings.TrimSpace(strings.TrimPrefix(line, codexAdd))}
			i++
			for i < len(lines) && strings.HasPrefix(lines[i], "+") {
				h.content = append(h.content, lines[i][1:])
				i++
			}
			hunks = append(hunks, h)

		case strings.HasPrefix(line, codexDelete):
			hunks = append(hunks, codexHunk{
				op:   OpDelete,
				path: strings.TrimSpace(strings.TrimPrefix(line, codexDelete)),
			})
			i++

		case strings.HasPrefix(line, codexUpdate):
			h := codexHunk{op: OpModify, path: strings.TrimSpace(strings.TrimPrefix(line, codexUpdate))}
			i++
			if i < len(lines) && strings.HasPrefix(lines[i], codexMoveTo) {
				h.moveTo = strings.TrimSpace(strings.TrimPrefix(lines[i], codexMoveTo))
				i++
			}
			var err error
			h.chunks, i, err = parseCodexChunks(lines, i)
			if err != nil {
				return nil, err
			}
			hunks = append(hunks, h)

		case strings.TrimSpace(line) == "":
			i++

		default:
			return nil, fmt.Errorf("codex patch: unexpected line %q", line)
		}
	}
	return nil, errors.New("codex patch: missing *** End Patch marker")
}

func parseCodexChunks(lines []string, i int) ([]codexChunk, int, error) {
	var chunks []codexChunk
	cur := codexChunk{}
	flush := func() {
		if len(cur.oldLines) > 0 || len(cur.newLines) > 0 {
			chunks = append(chunks, cur)
		}
	}

	for i < len(lines) {
		line := lines[i]
		if strings.HasPrefix(line, "*** ") {
			break
		}
		switch {
		case strings.HasPrefix(line, "@@"):
			flush()
			cur = codexChunk{anchor: strings.TrimSpace(strings.TrimPrefix(line, "@@"))}
		case strings.HasPrefix(line, "+"):
			cur.newLines = append(cur.newLines, line[1:])
		case strings.HasPrefix(line, "-"):
			cur.oldLines = append(cur.oldLines, line[1:])
		case strings.HasPrefix(line, " "), line == "":
			text := line
			if text != "" {
				text = line[1:]
			}
			cur.oldLines = append(cur.oldLines, text)
			cur.newLines = append(cur.newLines, text)
		default:
			return nil, i, fmt.Errorf("codex patch: invalid hunk line %q", line)
		}
		i++
	}
	flush()
	if len(chunks) == 0 {
		return nil, i, errors.New("codex patch: update section has no chunks")
	}
	return chunks, i, nil
}

// ApplyCodex parses the patch and applies every hunk under root. The whole
// patch is validated before the first write so a parse failure cannot leave
// the tree half-patched.
func ApplyCodex(root string, rawText string) error {
	hunks, err := parseCodexPatch(rawText)
	if err != nil {
		return err
	}

	type fileWrite struct {
		abs       string
		removeAbs string
		contents  []byte
		perm      fs.FileMode
	}
	var (
		writes  []fileWrite
		removes []string
	)

	for _, h := range hunks {
		abs := filepath.Clean(filepath.Join(root, filepath.FromSlash(h.path)))

		switch h.op {
		case OpAdd:
			body := strings.Join(h.content, "\n")
			if body != "" {
				body += "\n"
			}
			writes = append(writes, fileWrite{abs: abs, contents: []byte(body), perm: 0o644})

		case OpDelete:
			removes = append(removes, abs)

		default:
			src, err := os.ReadFile(abs)
			if err != nil {
				return fmt.Errorf("codex patch: %w", err)
			}
			perm := fs.FileMode(0o644)
			if st, err := os.Stat(abs); err == nil {
				perm = st.Mode() & 0o777
			}
			next, err := applyCodexChunks(string(src), h.chunks)
			if err != nil {
				return fmt.Errorf("codex patch: %s: %w", h.path, err)
			}
			w := fileWrite{abs: abs, contents: []byte(next), perm: perm}
			if h.moveTo != "" && h.moveTo != h.path {
				w.removeAbs = abs
				w.abs = filepath.Clean(filepath.Join(root, filepath.FromSlash(h.moveTo)))
			}
			writes = append(writes, w)
		}
	}

	for _, abs := range removes {
		if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	for _, w := range writes {
		if err := os.MkdirAll(filepath.Dir(w.abs), 0o755); err != nil {
			return err
		}
		if err := atomicWriteFile(w.abs, w.contents, w.perm); err != nil {
			return err
		}
		if w.removeAbs != "" && w.removeAbs != w.abs {
			_ = os.Remove(w.removeAbs)
		}
	}
	return nil
}

func applyCodexChunks(original string, chunks []codexChunk) (string, error) {
	text := strings.ReplaceAll(original, "\r\n", "\n")
	hadTrailingNewline := strings.HasSuffix(text, "\n")
	text = strings.TrimSuffix(text, "\n")

	var lines []string
	if text != "" {
		lines = strings.Split(text, "\n")
	}

	cursor := 0
	for _, c := range chunks {
		if c.anchor != "" {
			for cursor < len(lines) && strings.TrimSpace(lines[cursor]) != c.anchor {
				cursor++
			}
		}
		start, ok := findLineRun(lines, c.oldLines, cursor)
		if !ok {
			return "", fmt.Errorf("chunk failed to apply near line %d", cursor+1)
		}
		replaced := make([]string, 0, len(lines)-len(c.oldLines)+len(c.newLines))
		replaced = append(replaced, lines[:start]...)
		replaced = append(replaced, c.newLines...)
		replaced = append(replaced, lines[start+len(c.oldLines):]...)
		lines = replaced
		cursor = start + len(c.newLines)
	}

	out := strings.Join(lines, "\n")
	if hadTrailingNewline || len(lines) > 0 {
		out += "\n"
	}
	return out, nil
}

func findLineRun(lines []string, run []string, from int) (int, bool) {
	if len(run) == 0 {
		return from, true
	}
	for pos := from; pos+len(run) <= len(lines); pos++ {
		match := true
		for i := range run {
			if lines[pos+i] != run[i] {
				match = false
				break
			}
		}
		if match {
			return pos, true
		}
	}
	return 0, false
}

func atomicWriteFile(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".coderd-apply-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	_ = os.Chmod(tmpName, perm&0o777)
	if err := os.Rename(tmpName, path); err == nil {
		return nil
	}
	// Best-effort replace for platforms where Rename cannot overwrite.
	_ = os.Remove(path)
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
