// Package workspace maintains a session's active file context: the set of
// repository files pinned by the user or pulled in by agent activity.
package workspace

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/atelierhq/coderd/internal/codebase"
	"github.com/atelierhq/coderd/internal/patch"
	"github.com/atelierhq/coderd/internal/store"
)

// Service layers path validation over the stored context file set. All file
// paths in the store are relative to the active project root.
type Service struct {
	store    *store.Store
	codebase *codebase.Service
	log      *slog.Logger
}

// Options configures a workspace Service.
type Options struct {
	Store    *store.Store
	Codebase *codebase.Service
	Logger   *slog.Logger
}

func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: opts.Store, codebase: opts.Codebase, log: logger}
}

func (s *Service) activeRoot(ctx context.Context) (string, error) {
	project, err := s.store.ActiveProject(ctx)
	if err != nil {
		return "", err
	}
	return project.Path, nil
}

// AddFile promotes a file to the session's active context as user-pinned.
// The path must exist inside the active project and pass the ignore rules.
// Re-adding an existing file bumps its hit count.
func (s *Service) AddFile(ctx context.Context, sessionID int64, filePath string) (*store.ContextFile, error) {
	return s.addFile(ctx, sessionID, filePath, true)
}

func (s *Service) addFile(ctx context.Context, sessionID int64, filePath string, pinned bool) (*store.ContextFile, error) {
	root, err := s.activeRoot(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.codebase.ValidateFilePath(root, filePath, true); err != nil {
		return nil, err
	}
	return s.store.UpsertContextFile(ctx, sessionID, filepath.ToSlash(filePath), pinned)
}

// RemoveFile drops one context file by id.
func (s *Service) RemoveFile(ctx context.Context, sessionID int64, contextFileID int64) error {
	return s.store.DeleteContextFile(ctx, sessionID, contextFileID)
}

// ActiveContext lists the session's context files.
func (s *Service) ActiveContext(ctx context.Context, sessionID int64) ([]store.ContextFile, error) {
	return s.store.ListContextFiles(ctx, sessionID)
}

// AddContextFiles adds each path, skipping ones that fail validation.
func (s *Service) AddContextFiles(ctx context.Context, sessionID int64, files []string) error {
	for _, filePath := range files {
		if _, err := s.AddFile(ctx, sessionID, filePath); err != nil {
			if errors.Is(err, codebase.ErrAccessDenied) {
				s.log.Debug("skipping context file", "path", filePath, "error", err)
				continue
			}
			return err
		}
	}
	return nil
}

// RemoveContextFilesByPath drops the given relative paths from the context.
func (s *Service) RemoveContextFilesByPath(ctx context.Context, sessionID int64, files []string) error {
	for _, filePath := range files {
		if err := s.store.DeleteContextFileByPath(ctx, sessionID, filepath.ToSlash(filePath)); err != nil {
			return err
		}
	}
	return nil
}

// SyncFiles reconciles the context with an incoming path list. Invalid paths
// are dropped, retained rows keep their metadata, absent rows are deleted
// and new rows inserted.
func (s *Service) SyncFiles(ctx context.Context, sessionID int64, filepaths []string) error {
	root, err := s.activeRoot(ctx)
	if err != nil {
		return err
	}

	validAbs := s.codebase.FilterAndResolvePaths(root, filepaths)
	keep := make([]string, 0, len(validAbs))
	for abs := range validAbs {
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			continue
		}
		keep = append(keep, filepath.ToSlash(rel))
	}
	return s.store.SyncContextFiles(ctx, sessionID, keep)
}

// SyncContextForDiff reflects one applied file change in the active context:
// added and renamed targets join the context, deleted sources leave it,
// plain modifications change nothing.
func (s *Service) SyncContextForDiff(ctx context.Context, sessionID int64, p patch.ParsedPatch) error {
	if !p.IsAddedFile() && !p.IsRemovedFile() && !p.IsRename() {
		return nil
	}
	// Files arriving via a patch are auto-added, not user-pinned.
	if p.IsAddedFile() || p.IsRename() {
		if _, err := s.addFile(ctx, sessionID, p.Path(), false); err != nil {
			return err
		}
	}
	if p.IsRemovedFile() {
		return s.RemoveContextFilesByPath(ctx, sessionID, []string{p.Path()})
	}
	return nil
}

// ActiveFilePathsAbs returns absolute paths for the active context, dropping
// files that became ignored after they were added.
func (s *Service) ActiveFilePathsAbs(ctx context.Context, sessionID int64, projectRoot string) ([]string, error) {
	contextFiles, err := s.store.ListContextFiles(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(contextFiles))
	for _, item := range contextFiles {
		if s.codebase.IsIgnored(projectRoot, item.FilePath, false) {
			continue
		}
		paths = append(paths, filepath.Join(projectRoot, filepath.FromSlash(item.FilePath)))
	}
	return paths, nil
}
