package codebase

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// defaultIgnorePatterns are always merged with the project .gitignore.
var defaultIgnorePatterns = []string{
	".git",
	".idea/",
	".vscode/",
	".venv/",
	"node_modules/",
	"__pycache__/",
	".env",
	"*.pyc",
	"*.log",
	".DS_Store",
	"Thumbs.db",
	"*.svg",
	"*.pdf",
	"*.png",
	"*.jpg",
	".dockerignore",
	".gitattributes",
	"*.lock",
	"package-lock.json",
	"yarn.lock",
}

type ignorePattern struct {
	pattern  string
	negation bool // starts with !
	dirOnly  bool // ends with /
	anchored bool // contains / in middle or leading /
}

// IgnoreSpec matches relative paths against gitignore-style patterns with
// git-wildmatch semantics. The last matching pattern wins.
type IgnoreSpec struct {
	patterns []ignorePattern
}

// LoadIgnoreSpec builds a spec from the built-in defaults plus the project's
// root .gitignore when present.
func LoadIgnoreSpec(root string) (*IgnoreSpec, error) {
	spec := &IgnoreSpec{}
	for _, line := range defaultIgnorePatterns {
		spec.addLine(line)
	}

	b, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		if os.IsNotExist(err) {
			return spec, nil
		}
		return nil, err
	}
	spec.AddLines(string(b))
	return spec, nil
}

// AddLines appends newline-separated patterns to the spec.
func (s *IgnoreSpec) AddLines(lines string) {
	if s == nil {
		return
	}
	for _, line := range strings.Split(lines, "\n") {
		s.addLine(line)
	}
}

func (s *IgnoreSpec) addLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}

	var p ignorePattern
	if strings.HasPrefix(line, "!") {
		p.negation = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		p.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.Contains(line, "/") {
		p.anchored = true
	}
	if strings.HasPrefix(line, "/") {
		p.anchored = true
		line = line[1:]
	}
	p.pattern = line
	s.patterns = append(s.patterns, p)
}

// Match reports whether relPath (slash-separated, relative to the project
// root) is ignored.
func (s *IgnoreSpec) Match(relPath string, isDir bool) bool {
	if s == nil {
		return false
	}
	relPath = filepath.ToSlash(strings.TrimPrefix(relPath, "./"))
	if relPath == "" || relPath == "." {
		return false
	}

	ignored := false
	for _, p := range s.patterns {
		if matchPattern(p, relPath, isDir) {
			ignored = !p.negation
		}
	}
	return ignored
}

func matchPattern(p ignorePattern, relPath string, isDir bool) bool {
	// A directory-only pattern still applies to everything under a matching
	// directory, so only the exact-match form is skipped for files.
	if p.anchored {
		if !p.dirOnly || isDir {
			if globMatch(p.pattern, relPath) {
				return true
			}
		}
		return globMatch(p.pattern+"/**", relPath)
	}

	if !p.dirOnly || isDir {
		if globMatch("**/"+p.pattern, relPath) || globMatch(p.pattern, filepath.Base(relPath)) {
			return true
		}
	}
	return globMatch("**/"+p.pattern+"/**", relPath)
}

func globMatch(pattern string, path string) bool {
	matched, err := doublestar.Match(pattern, path)
	if err != nil {
		return false
	}
	return matched
}
