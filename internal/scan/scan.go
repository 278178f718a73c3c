// Package scan implements the Periodic Scanner (C9): a fixed-interval
// reconciliation loop that compares a fresh directory listing (C6)
// against the store's tracked files and schedules process_file /
// remove_file for anything that drifted, as a safety net for events
// the watcher (C7) missed. It holds no state between runs — every
// tick starts from the store's current truth.
package scan

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/chunkhound/chunkhound/internal/discover"
	"github.com/chunkhound/chunkhound/internal/gate"
	"github.com/chunkhound/chunkhound/internal/index"
	"github.com/chunkhound/chunkhound/internal/store"
	"github.com/chunkhound/chunkhound/internal/task"
)

// DefaultInterval is the ~300s cadence §4.9 specifies.
const DefaultInterval = 300 * time.Second

// Indexer is the subset of the Indexing Coordinator (C4) a scan needs.
// Satisfied by *index.Coordinator; narrowed to an interface here so
// tests can substitute a recorder.
type Indexer interface {
	ProcessFile(ctx context.Context, path string) (index.Result, error)
	RemoveFile(ctx context.Context, path string) (index.Result, error)
}

// Options configures a Scanner.
type Options struct {
	RootDir  string
	Interval time.Duration
	Discover discover.Options
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	return o
}

// Scanner runs the reconciliation loop on its own goroutine, submitting
// work through the Task Coordinator (C8) at periodic_scan priority.
type Scanner struct {
	opts    Options
	walker  *discover.Walker
	gate    *gate.Gate
	tasks   *task.Coordinator
	indexer Indexer

	logger *slog.Logger

	stopCh   chan struct{}
	stopOnce func()
	done     chan struct{}
}

// New constructs a Scanner. indexer performs the scheduled
// process_file/remove_file calls; tasks is the coordinator scan work
// is submitted through so it competes fairly with user queries and
// file-change reactions instead of running inline.
func New(opts Options, walker *discover.Walker, g *gate.Gate, tasks *task.Coordinator, indexer Indexer, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		opts:    opts.withDefaults(),
		walker:  walker,
		gate:    g,
		tasks:   tasks,
		indexer: indexer,
		logger:  logger,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start runs the reconciliation loop until ctx is cancelled or Stop is
// called. It performs one pass immediately, then on Options.Interval.
func (s *Scanner) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Scanner) run(ctx context.Context) {
	defer close(s.done)
	s.tick(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick performs one reconciliation pass: discover, diff against the
// store, schedule. Errors are logged, never fatal — the next interval
// tries again against fresh ground truth.
func (s *Scanner) tick(ctx context.Context) {
	opts := s.opts.Discover
	opts.RootDir = s.opts.RootDir
	found, err := s.walker.Discover(ctx, opts)
	if err != nil {
		s.logger.Warn("periodic scan: discovery failed", slog.String("error", err.Error()))
		return
	}

	tracked, err := gate.Submit(ctx, s.gate, func(ctx context.Context, st store.Store) ([]store.File, error) {
		return st.ListFiles(ctx)
	})
	if err != nil {
		s.logger.Warn("periodic scan: list tracked files failed", slog.String("error", err.Error()))
		return
	}

	added, changed, removed := DiffAgainstStore(found, tracked)
	for _, f := range added {
		s.scheduleProcess(ctx, f)
	}
	for _, f := range changed {
		s.scheduleProcess(ctx, f)
	}
	for _, path := range removed {
		s.scheduleRemove(ctx, path)
	}

	if n := len(added) + len(changed) + len(removed); n > 0 {
		s.logger.Info("periodic scan: reconciled drift",
			slog.Int("added", len(added)), slog.Int("changed", len(changed)), slog.Int("removed", len(removed)))
	}
}

// scheduleProcess submits process_file using the file's absolute path:
// the Indexing Coordinator reads file content from disk and
// re-derives the stored relative path itself, so the scanner must not
// hand it a path relative to the scan root (which may not match the
// process's working directory).
func (s *Scanner) scheduleProcess(ctx context.Context, f discover.FileInfo) {
	_, _, err := s.tasks.Submit(ctx, task.PriorityPeriodicScan, f.Path, func(taskCtx context.Context) error {
		_, err := s.indexer.ProcessFile(taskCtx, f.AbsPath)
		return err
	})
	if err != nil {
		s.logger.Warn("periodic scan: submit process_file failed", slog.String("path", f.Path), slog.String("error", err.Error()))
	}
}

// scheduleRemove reconstructs an absolute path from the stored
// relative one for the same reason scheduleProcess uses AbsPath: the
// file no longer exists on disk, so RemoveFile's own symlink
// resolution falls back to interpreting the path relative to the
// process's working directory rather than the scan root.
func (s *Scanner) scheduleRemove(ctx context.Context, relPath string) {
	absPath := filepath.Join(s.opts.RootDir, filepath.FromSlash(relPath))
	_, _, err := s.tasks.Submit(ctx, task.PriorityPeriodicScan, relPath, func(taskCtx context.Context) error {
		_, err := s.indexer.RemoveFile(taskCtx, absPath)
		return err
	})
	if err != nil {
		s.logger.Warn("periodic scan: submit remove_file failed", slog.String("path", relPath), slog.String("error", err.Error()))
	}
}

// Stop halts the loop and waits for the in-flight tick (if any) to
// finish. Safe to call once; repeated calls after the first are a
// programmer error the same as closing a channel twice, since C9 is
// owned by a single appctx lifecycle.
func (s *Scanner) Stop() {
	close(s.stopCh)
	<-s.done
}

// DiffAgainstStore compares a fresh directory listing against tracked
// file rows by path, size, and mtime (§4.9). added holds newly
// discovered paths, changed holds paths whose size or mtime drifted
// from the stored value, and removed holds stored paths no longer
// present on disk. Exported so the gitignore-change reconciliation path
// (internal/mcpserver) can run the same comparison scoped to a subtree
// or the whole tree without waiting for the next periodic tick.
func DiffAgainstStore(found []discover.FileInfo, tracked []store.File) (added, changed []discover.FileInfo, removed []string) {
	byPath := make(map[string]store.File, len(tracked))
	for _, f := range tracked {
		byPath[f.Path] = f
	}

	seen := make(map[string]bool, len(found))
	for _, f := range found {
		seen[f.Path] = true
		existing, ok := byPath[f.Path]
		if !ok {
			added = append(added, f)
			continue
		}
		// Stored mtimes round-trip through a Unix-seconds column
		// (files.go), so comparison truncates to second granularity too;
		// otherwise every file would look "changed" on every pass purely
		// from the sub-second precision the store never persisted.
		if existing.Size != f.Size || existing.MTime.Unix() != f.ModTime.Unix() {
			changed = append(changed, f)
		}
	}

	for path := range byPath {
		if !seen[path] {
			removed = append(removed, path)
		}
	}
	return added, changed, removed
}
