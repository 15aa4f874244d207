package codebase

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrAccessDenied marks path validation failures: targets outside the
// project root or paths ignored by project configuration.
var ErrAccessDenied = errors.New("access denied")

type FileStatus string

const (
	FileStatusSuccess FileStatus = "SUCCESS"
	FileStatusBinary  FileStatus = "BINARY"
	FileStatusError   FileStatus = "ERROR"
)

type FileReadResult struct {
	FilePath     string     `json:"file_path"`
	Content      string     `json:"content"`
	Status       FileStatus `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

type FileTreeNode struct {
	Name     string         `json:"name"`
	Path     string         `json:"path"`
	IsDir    bool           `json:"is_dir"`
	Children []FileTreeNode `json:"children,omitempty"`
}

type Options struct {
	Logger *slog.Logger
}

// Service provides gitignore-aware file I/O primitives for a project root.
// It is stateless; every call re-resolves the ignore spec so edits to
// .gitignore take effect immediately.
type Service struct {
	log *slog.Logger
}

func NewService(opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{log: log}
}

func (s *Service) ignoreSpec(root string) *IgnoreSpec {
	spec, err := LoadIgnoreSpec(root)
	if err != nil {
		if s != nil && s.log != nil {
			s.log.Warn("failed to load ignore spec", "root", root, "error", err)
		}
		spec = &IgnoreSpec{}
		spec.AddLines(strings.Join(defaultIgnorePatterns, "\n"))
	}
	return spec
}

// resolveSafePath resolves path against root and ensures the result stays
// inside it. Returns (absRoot, absTarget).
func resolveSafePath(root string, path string) (string, string, error) {
	absRoot, err := filepath.Abs(strings.TrimSpace(root))
	if err != nil {
		return "", "", err
	}
	p := strings.TrimSpace(path)
	var abs string
	if filepath.IsAbs(p) {
		abs = filepath.Clean(p)
	} else {
		abs = filepath.Clean(filepath.Join(absRoot, p))
	}
	rel, err := filepath.Rel(absRoot, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: '%s' targets outside project root", ErrAccessDenied, path)
	}
	return absRoot, abs, nil
}

// IsIgnored reports whether path is excluded by the merged ignore spec.
func (s *Service) IsIgnored(root string, path string, isDir bool) bool {
	absRoot, abs, err := resolveSafePath(root, path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, abs)
	if err != nil {
		return false
	}
	return s.ignoreSpec(absRoot).Match(rel, isDir)
}

// ValidateFilePath resolves path, checks containment, existence (when
// required), regular-file-ness and the ignore spec. Strict mode: any failure
// is an error.
func (s *Service) ValidateFilePath(root string, filePath string, mustExist bool) (string, error) {
	absRoot, abs, err := resolveSafePath(root, filePath)
	if err != nil {
		return "", err
	}

	info, statErr := os.Stat(abs)
	if mustExist {
		if statErr != nil {
			return "", fmt.Errorf("file not found or invalid: '%s'", filePath)
		}
		if !info.Mode().IsRegular() {
			return "", fmt.Errorf("path is not a file: '%s'", filePath)
		}
	}

	rel, _ := filepath.Rel(absRoot, abs)
	if s.ignoreSpec(absRoot).Match(rel, false) {
		return "", fmt.Errorf("%w: '%s' is ignored by project configuration", ErrAccessDenied, filepath.ToSlash(rel))
	}
	return abs, nil
}

// ValidateDirectoryPath is the directory counterpart of ValidateFilePath.
func (s *Service) ValidateDirectoryPath(root string, dirPath string) (string, error) {
	absRoot, abs, err := resolveSafePath(root, dirPath)
	if err != nil {
		return "", err
	}

	info, statErr := os.Stat(abs)
	if statErr != nil {
		return "", fmt.Errorf("directory not found or invalid: '%s'", dirPath)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("path is not a directory: '%s'", dirPath)
	}

	rel, _ := filepath.Rel(absRoot, abs)
	if s.ignoreSpec(absRoot).Match(rel, true) {
		return "", fmt.Errorf("%w: '%s' is ignored by project configuration", ErrAccessDenied, filepath.ToSlash(rel))
	}
	return abs, nil
}

// ReadFile reads one file into a structured result. Binary detection is via
// UTF-8 decode failure. A missing file with mustExist=false reads as SUCCESS
// with empty content so patches can create it.
func (s *Service) ReadFile(root string, filePath string, mustExist bool) FileReadResult {
	abs, err := s.ValidateFilePath(root, filePath, mustExist)
	if err != nil {
		return FileReadResult{FilePath: filePath, Status: FileStatusError, ErrorMessage: err.Error()}
	}

	b, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return FileReadResult{FilePath: filePath, Status: FileStatusSuccess}
		}
		return FileReadResult{FilePath: filePath, Status: FileStatusError, ErrorMessage: err.Error()}
	}
	if !utf8.Valid(b) {
		return FileReadResult{FilePath: filePath, Status: FileStatusBinary}
	}
	return FileReadResult{FilePath: filePath, Content: string(b), Status: FileStatusSuccess}
}

// ReadFiles reads multiple files, one result per input path.
func (s *Service) ReadFiles(root string, filePaths []string) []FileReadResult {
	out := make([]FileReadResult, 0, len(filePaths))
	for _, fp := range filePaths {
		out = append(out, s.ReadFile(root, fp, true))
	}
	return out
}

// WriteFile writes content as UTF-8, creating parent directories as needed.
func (s *Service) WriteFile(root string, filePath string, content string) error {
	abs, err := s.ValidateFilePath(root, filePath, false)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	return os.WriteFile(abs, []byte(content), 0o644)
}

// ListDir lists the filtered entries of a directory, directories suffixed
// with "/".
func (s *Service) ListDir(root string, dirPath string) ([]string, error) {
	absRoot, abs, err := resolveSafePath(root, dirPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("directory not found: '%s'", dirPath)
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("error reading directory: %w", err)
	}

	spec := s.ignoreSpec(absRoot)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		rel, err := filepath.Rel(absRoot, filepath.Join(abs, e.Name()))
		if err != nil {
			continue
		}
		if spec.Match(rel, e.IsDir()) {
			continue
		}
		if e.IsDir() {
			out = append(out, e.Name()+"/")
		} else {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// ResolveFilePatterns expands glob patterns (with ** support) into a sorted
// set of relative file paths, filtered by the ignore spec. A nil or empty
// pattern list scans the whole root. Symlinked directories are not traversed.
func (s *Service) ResolveFilePatterns(root string, patterns []string) ([]string, error) {
	absRoot, err := filepath.Abs(strings.TrimSpace(root))
	if err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		patterns = []string{"."}
	}

	spec := s.ignoreSpec(absRoot)
	results := make(map[string]bool)

	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}

		var targets []string
		if strings.ContainsAny(pattern, "*?[{") {
			_, absPattern, err := resolveSafePath(absRoot, pattern)
			if err != nil {
				return nil, err
			}
			matches, err := doublestar.FilepathGlob(absPattern)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern '%s': %w", pattern, err)
			}
			targets = matches
		} else {
			_, abs, err := resolveSafePath(absRoot, pattern)
			if err != nil {
				return nil, err
			}
			targets = []string{abs}
		}

		for _, target := range targets {
			_, abs, err := resolveSafePath(absRoot, target)
			if err != nil {
				return nil, err
			}
			if err := collectFiles(absRoot, abs, spec, results); err != nil {
				return nil, err
			}
		}
	}

	out := make([]string, 0, len(results))
	for p := range results {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func collectFiles(absRoot string, target string, spec *IgnoreSpec, results map[string]bool) error {
	info, err := os.Lstat(target)
	if err != nil {
		return nil
	}

	rel, err := filepath.Rel(absRoot, target)
	if err != nil {
		return nil
	}
	rel = filepath.ToSlash(rel)

	if !info.IsDir() {
		if info.Mode().IsRegular() && (rel == "." || !spec.Match(rel, false)) {
			results[rel] = true
		}
		return nil
	}
	if rel != "." && spec.Match(rel, true) {
		return nil
	}

	entries, err := os.ReadDir(target)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		child := filepath.Join(target, e.Name())
		childRel, err := filepath.Rel(absRoot, child)
		if err != nil {
			continue
		}
		childRel = filepath.ToSlash(childRel)
		if spec.Match(childRel, e.IsDir()) {
			continue
		}
		if e.IsDir() {
			if e.Type()&os.ModeSymlink != 0 {
				continue
			}
			if err := collectFiles(absRoot, child, spec, results); err != nil {
				return err
			}
		} else if e.Type().IsRegular() {
			results[childRel] = true
		}
	}
	return nil
}

// BuildFileTree builds the recursive tree of non-ignored entries: folders
// first, case-insensitive sort, empty folders pruned.
func (s *Service) BuildFileTree(root string) ([]FileTreeNode, error) {
	absRoot, err := filepath.Abs(strings.TrimSpace(root))
	if err != nil {
		return nil, err
	}
	spec := s.ignoreSpec(absRoot)
	return buildTree(absRoot, absRoot, spec)
}

func buildTree(absRoot string, dir string, spec *IgnoreSpec) ([]FileTreeNode, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsPermission(err) {
			return nil, nil
		}
		return nil, err
	}

	var nodes []FileTreeNode
	for _, e := range entries {
		full := filepath.Join(dir, e.Name())
		rel, err := filepath.Rel(absRoot, full)
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)
		if spec.Match(rel, e.IsDir()) {
			continue
		}

		node := FileTreeNode{Name: e.Name(), Path: rel, IsDir: e.IsDir()}
		if e.IsDir() {
			if e.Type()&os.ModeSymlink != 0 {
				continue
			}
			children, err := buildTree(absRoot, full, spec)
			if err != nil {
				return nil, err
			}
			if len(children) == 0 {
				continue
			}
			node.Children = children
		}
		nodes = append(nodes, node)
	}

	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].IsDir != nodes[j].IsDir {
			return nodes[i].IsDir
		}
		return strings.ToLower(nodes[i].Name) < strings.ToLower(nodes[j].Name)
	})
	return nodes, nil
}

// FilterAndResolvePaths validates paths leniently: invalid, unsafe or
// ignored entries are silently dropped. Returns absolute paths.
func (s *Service) FilterAndResolvePaths(root string, filePaths []string) map[string]bool {
	out := make(map[string]bool)
	for _, fp := range filePaths {
		abs, err := s.ValidateFilePath(root, fp, true)
		if err != nil {
			continue
		}
		out[abs] = true
	}
	return out
}
