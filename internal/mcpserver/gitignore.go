package mcpserver

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chunkhound/chunkhound/internal/gate"
	"github.com/chunkhound/chunkhound/internal/gitignore"
	"github.com/chunkhound/chunkhound/internal/scan"
	"github.com/chunkhound/chunkhound/internal/store"
)

// gitignoreState remembers each .gitignore file's last-seen content so
// a later change can be diffed into added/removed patterns instead of
// always forcing a full rescan (teacher: stateGitignoreContent).
type gitignoreState struct {
	mu      sync.Mutex
	content map[string]string
}

func newGitignoreState() *gitignoreState {
	return &gitignoreState{content: make(map[string]string)}
}

// reconcileGitignore chooses between a subtree rescan, a pattern-diff
// rescan, or a full rescan depending on where the changed .gitignore
// sits and how its patterns changed, rather than waiting for the next
// periodic scan tick to notice the drift (teacher:
// handleGitignoreChange/determineReconciliationStrategy).
func (s *Server) reconcileGitignore(ctx context.Context, relPath string) {
	if s.deps.Walker != nil {
		s.deps.Walker.InvalidateIgnoreCache()
	}

	absPath := filepath.Join(s.opts.RootDir, filepath.FromSlash(relPath))
	dir := filepath.ToSlash(filepath.Dir(relPath))

	raw, readErr := os.ReadFile(absPath)
	newContent := ""
	if readErr == nil {
		newContent = string(raw)
	}

	s.giState.mu.Lock()
	oldContent, hadOld := s.giState.content[absPath]
	s.giState.content[absPath] = newContent
	s.giState.mu.Unlock()

	isRoot := dir == "." || dir == ""
	if isRoot && s.deps.Watcher != nil {
		merged := append(append([]string{}, s.deps.BaseExcludes...), gitignoreLines(newContent)...)
		s.deps.Watcher.InvalidateExcludes(merged)
	}

	switch {
	case !isRoot:
		// Nested .gitignore: only its own subtree can be affected.
		s.reconcileScope(ctx, dir)
	case readErr != nil || !hadOld:
		// Deleted, unreadable, or never seen before: no baseline to
		// diff against, so a rescan is the only safe option.
		s.reconcileScope(ctx, "")
	default:
		added, removed := gitignore.DiffPatterns(oldContent, newContent)
		if len(removed) > 0 {
			// A removed pattern can un-ignore files anywhere in the
			// tree; only a full rescan finds them.
			s.reconcileScope(ctx, "")
			return
		}
		if len(added) > 0 {
			s.reconcilePatternDiff(ctx, added)
		}
	}
}

// reconcilePatternDiff handles the common case of patterns only being
// added: every newly-matching tracked file is removed from the index
// without touching the filesystem again.
func (s *Server) reconcilePatternDiff(ctx context.Context, addedPatterns []string) {
	tracked, err := gate.Submit(ctx, s.deps.Gate, func(ctx context.Context, st store.Store) ([]store.File, error) {
		return st.ListFiles(ctx)
	})
	if err != nil {
		s.logger.Warn("gitignore reconcile: list tracked files failed", slog.String("error", err.Error()))
		return
	}

	m := gitignore.New()
	for _, p := range addedPatterns {
		m.AddPattern(p)
	}

	removed := 0
	for _, f := range tracked {
		if !m.Match(f.Path, false) {
			continue
		}
		absPath := filepath.Join(s.opts.RootDir, filepath.FromSlash(f.Path))
		if _, err := s.deps.Indexer.RemoveFile(ctx, absPath); err != nil {
			s.logger.Warn("gitignore reconcile: remove newly-ignored file failed",
				slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		removed++
	}
	s.logger.Info("gitignore change: pattern diff reconciliation",
		slog.Int("patterns_added", len(addedPatterns)), slog.Int("files_removed", removed))
}

// reconcileScope re-discovers scope (the whole tree when empty, one
// subtree's relative path otherwise) and reconciles it against tracked
// files the same way the periodic scanner's tick does, just triggered
// immediately instead of on the next interval.
func (s *Server) reconcileScope(ctx context.Context, scope string) {
	if s.deps.Walker == nil {
		return
	}
	opts := s.deps.DiscoverOpts
	opts.RootDir = filepath.Join(s.opts.RootDir, filepath.FromSlash(scope))

	found, err := s.deps.Walker.Discover(ctx, opts)
	if err != nil {
		s.logger.Warn("gitignore reconcile: discover failed", slog.String("scope", scope), slog.String("error", err.Error()))
		return
	}
	if scope != "" {
		// Discover reports paths relative to the subtree; tracked paths
		// are relative to the root.
		for i := range found {
			found[i].Path = scope + "/" + found[i].Path
		}
	}

	tracked, err := gate.Submit(ctx, s.deps.Gate, func(ctx context.Context, st store.Store) ([]store.File, error) {
		return st.ListFiles(ctx)
	})
	if err != nil {
		s.logger.Warn("gitignore reconcile: list tracked files failed", slog.String("error", err.Error()))
		return
	}
	if scope != "" {
		prefix := scope + "/"
		scoped := tracked[:0]
		for _, f := range tracked {
			if strings.HasPrefix(f.Path, prefix) {
				scoped = append(scoped, f)
			}
		}
		tracked = scoped
	}

	added, changed, removedPaths := scan.DiffAgainstStore(found, tracked)
	for _, f := range added {
		if _, err := s.deps.Indexer.ProcessFile(ctx, f.AbsPath); err != nil {
			s.logger.Warn("gitignore reconcile: process_file failed", slog.String("path", f.Path), slog.String("error", err.Error()))
		}
	}
	for _, f := range changed {
		if _, err := s.deps.Indexer.ProcessFile(ctx, f.AbsPath); err != nil {
			s.logger.Warn("gitignore reconcile: process_file failed", slog.String("path", f.Path), slog.String("error", err.Error()))
		}
	}
	for _, p := range removedPaths {
		absPath := filepath.Join(s.opts.RootDir, filepath.FromSlash(p))
		if _, err := s.deps.Indexer.RemoveFile(ctx, absPath); err != nil {
			s.logger.Warn("gitignore reconcile: remove_file failed", slog.String("path", p), slog.String("error", err.Error()))
		}
	}
	s.logger.Info("gitignore change: reconciled",
		slog.String("scope", scope), slog.Int("added", len(added)), slog.Int("changed", len(changed)), slog.Int("removed", len(removedPaths)))
}

// gitignoreLines extracts pattern lines from raw .gitignore content,
// skipping blanks and comments, for merging into the watcher's own
// exclude matcher (InvalidateExcludes).
func gitignoreLines(content string) []string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
