package repomap

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	fileListTruncatedMsg    = "... (file list truncated)\n"
	definitionsTruncatedMsg = "\n... (remaining definitions truncated due to token limit)\n"
)

// Engine generates a context-aware map of a repository: a flat file
// structure, the full content of active context files and ranked definition
// snippets, all gated by an approximate token budget.
type Engine struct {
	Root               string
	AllFiles           []string // absolute paths
	ActiveContextFiles []string // absolute paths, subset of AllFiles
	MentionedFilenames map[string]bool
	MentionedIdents    map[string]bool
	// IgnorePatterns hide files from the map output only. They do not make
	// files inaccessible to tools or the active context.
	IgnorePatterns     []string
	TokenLimit         int
	IncludeDefinitions bool
	Logger             *slog.Logger
}

func (e *Engine) log() *slog.Logger {
	if e != nil && e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) relPath(abs string) string {
	rel, err := filepath.Rel(e.Root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

func (e *Engine) files() []string {
	files := make([]string, 0, len(e.AllFiles))
	files = append(files, e.AllFiles...)
	sort.Strings(files)
	if len(e.IgnorePatterns) == 0 {
		return files
	}

	filtered := files[:0]
	for _, f := range files {
		rel := e.relPath(f)
		skip := false
		for _, pattern := range e.IgnorePatterns {
			if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
				skip = true
				break
			}
		}
		if !skip {
			filtered = append(filtered, f)
		}
	}
	return filtered
}

// estimateTokens approximates a token count as characters divided by four.
func estimateTokens(text string) int {
	return len(text) / 4
}

// budget tracks the rendered output against the token limit. All fit checks
// measure the whole built text so the final output never exceeds the limit
// under the same heuristic.
type budget struct {
	out   strings.Builder
	limit int
}

func (b *budget) fits(part string) bool {
	return (b.out.Len()+len(part))/4 <= b.limit
}

// fitsReserving checks part while keeping room for a trailing message.
func (b *budget) fitsReserving(part string, reserved string) bool {
	return (b.out.Len()+len(part)+len(reserved))/4 <= b.limit
}

func (b *budget) add(part string) {
	b.out.WriteString(part)
}

// Generate renders the repository map within the token budget.
func (e *Engine) Generate(includeActiveContent bool) string {
	b := &budget{limit: e.TokenLimit}

	header := "### Repository Map\n"
	if !b.fits(header) {
		return ""
	}
	b.add(header)

	e.addFileStructure(b)

	if includeActiveContent {
		e.addActiveFilesContent(b)
	}

	if e.IncludeDefinitions {
		e.addRankedDefinitions(b)
	}

	return b.out.String()
}

// TopLevelStructure lists the root-level entries, directories suffixed "/".
func (e *Engine) TopLevelStructure() []string {
	top := make(map[string]bool)
	for _, f := range e.files() {
		rel := e.relPath(f)
		parts := strings.SplitN(rel, "/", 2)
		if len(parts) > 1 {
			top[parts[0]+"/"] = true
		} else {
			top[parts[0]] = true
		}
	}
	out := make([]string, 0, len(top))
	for name := range top {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// FormatTopLevelStructure renders the MANUAL-mode map: top-level structure
// only.
func (e *Engine) FormatTopLevelStructure() string {
	header := "### Repository Map\n#### File Structure\n"
	return header + strings.Join(e.TopLevelStructure(), "\n") + "\n"
}

func (e *Engine) addFileStructure(b *budget) {
	header := "#### File Structure\n"
	if !b.fits(header) {
		return
	}
	b.add(header)

	for _, f := range e.files() {
		line := e.relPath(f) + "\n"
		if !b.fitsReserving(line, fileListTruncatedMsg) {
			if b.fits(fileListTruncatedMsg) {
				b.add(fileListTruncatedMsg)
			}
			return
		}
		b.add(line)
	}
	if b.fits("\n") {
		b.add("\n")
	}
}

func (e *Engine) addActiveFilesContent(b *budget) {
	if len(e.ActiveContextFiles) == 0 {
		return
	}

	header := "#### Active Context\n"
	if !b.fits(header) {
		return
	}
	b.add(header)

	files := make([]string, 0, len(e.ActiveContextFiles))
	files = append(files, e.ActiveContextFiles...)
	sort.Strings(files)

	for _, abs := range files {
		rel := e.relPath(abs)
		content, err := os.ReadFile(abs)
		if err != nil {
			e.log().Warn("could not read active file", "path", abs, "error", err)
			continue
		}

		ext := strings.TrimPrefix(filepath.Ext(rel), ".")
		entry := rel + ":\n```" + ext + "\n" + string(content) + "\n```\n"

		// Each file atomically fits or is skipped.
		if !b.fits(entry) {
			continue
		}
		b.add(entry)
	}
}

func (e *Engine) addRankedDefinitions(b *budget) {
	ranked, definitions := e.rankFiles()
	if len(ranked) == 0 {
		return
	}

	header := "#### Ranked Definitions\n"
	if !b.fits(header) {
		return
	}
	b.add(header)

	type rankedFile struct {
		rel  string
		rank float64
	}
	sorted := make([]rankedFile, 0, len(ranked))
	for rel, r := range ranked {
		sorted = append(sorted, rankedFile{rel: rel, rank: r})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].rank != sorted[j].rank {
			return sorted[i].rank > sorted[j].rank
		}
		return sorted[i].rel < sorted[j].rel
	})

	activeRel := make(map[string]bool, len(e.ActiveContextFiles))
	for _, f := range e.ActiveContextFiles {
		activeRel[e.relPath(f)] = true
	}

	for _, rf := range sorted {
		// Active files are already rendered in full.
		if activeRel[rf.rel] {
			continue
		}
		tags := definitions[rf.rel]
		if len(tags) == 0 {
			continue
		}

		loiSet := make(map[int]bool)
		for _, t := range tags {
			loiSet[t.Line] = true
		}
		lois := make([]int, 0, len(loiSet))
		for l := range loiSet {
			lois = append(lois, l)
		}
		sort.Ints(lois)

		code, err := os.ReadFile(filepath.Join(e.Root, filepath.FromSlash(rf.rel)))
		if err != nil {
			e.log().Error("error generating snippet", "path", rf.rel, "error", err)
			continue
		}
		snippet := RenderSnippet(string(code), lois)
		entry := rf.rel + ":\n" + snippet + "\n"

		if !b.fitsReserving(entry, definitionsTruncatedMsg) {
			if b.fits(definitionsTruncatedMsg) {
				b.add(definitionsTruncatedMsg)
			}
			return
		}
		b.add(entry)
	}
}

// rankFiles builds the def/ref multigraph over relative paths and runs
// PageRank. Returns the ranking and the definition tags per file.
func (e *Engine) rankFiles() (map[string]float64, map[string][]Tag) {
	defines := make(map[string]map[string]bool)
	references := make(map[string]map[string]int)
	definitions := make(map[string][]Tag)

	for _, abs := range e.files() {
		rel := e.relPath(abs)
		tags, err := ExtractTags(abs)
		if err != nil {
			e.log().Warn(err.Error())
			continue
		}
		for _, t := range tags {
			switch t.Kind {
			case TagDef:
				if defines[t.Name] == nil {
					defines[t.Name] = make(map[string]bool)
				}
				defines[t.Name][rel] = true
				definitions[rel] = append(definitions[rel], t)
			case TagRef:
				if references[t.Name] == nil {
					references[t.Name] = make(map[string]int)
				}
				references[t.Name][rel]++
			}
		}
	}

	var edges []rankEdge

	// Self-edges keep isolated defining files ranked.
	for _, definers := range defines {
		for definer := range definers {
			edges = append(edges, rankEdge{from: definer, to: definer, weight: 0.1})
		}
	}

	activeRel := make(map[string]bool, len(e.ActiveContextFiles))
	for _, f := range e.ActiveContextFiles {
		activeRel[e.relPath(f)] = true
	}
	mentionedRel := make(map[string]bool, len(e.MentionedFilenames))
	for f := range e.MentionedFilenames {
		mentionedRel[e.relPath(f)] = true
	}

	for ident, definers := range defines {
		refs, ok := references[ident]
		if !ok {
			continue
		}

		mul := 1.0
		if strings.HasPrefix(ident, "_") {
			mul *= 0.1
		}
		if e.MentionedIdents[ident] {
			mul *= 10.0
		}

		for referencer, numRefs := range refs {
			for definer := range definers {
				weight := mul * float64(numRefs)
				if activeRel[referencer] {
					weight *= 10.0
				}
				if mentionedRel[referencer] {
					weight *= 10.0
				}
				edges = append(edges, rankEdge{from: referencer, to: definer, weight: weight})
			}
		}
	}

	return pageRank(edges), definitions
}
