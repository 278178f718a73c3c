package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/chunkhound/chunkhound/internal/gitignore"
)

// Watcher captures filesystem change events on its own goroutine
// (fsnotify's OS-level capture thread) and places normalized records
// into a bounded, mutex-protected queue. It exposes only a synchronous
// GetEvents drain — no channel or coroutine handle crosses to the
// consumer, so a consumer that dies, blocks, or is reconfigured
// mid-poll cannot silently lose events the way a coroutine-bridged
// queue can (the defect class grounded in the teacher's
// HybridWatcher.Events() <-chan []FileEvent, deliberately not
// reproduced here).
type Watcher struct {
	opts    Options
	rootAbs string
	fsw     *fsnotify.Watcher
	exclude atomic.Pointer[gitignore.Matcher]
	deb     *debouncer

	mu      sync.Mutex
	queue   []FileEvent
	dropped uint64

	errMu sync.Mutex
	errs  []error

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Watcher rooted at rootDir. Call Start to begin
// capturing events.
func New(rootDir string, opts Options) (*Watcher, error) {
	opts = opts.withDefaults()
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("resolve watcher root: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		opts:    opts,
		rootAbs: absRoot,
		fsw:     fsw,
		stopCh:  make(chan struct{}),
	}
	w.exclude.Store(buildMatcher(opts.Exclude))
	w.deb = newDebouncer(opts.DebounceWindow, w.enqueueBatch)
	return w, nil
}

func buildMatcher(patterns []string) *gitignore.Matcher {
	m := gitignore.New()
	for _, p := range patterns {
		m.AddPattern(p)
	}
	return m
}

// Start registers every directory under the root with fsnotify and
// begins capturing on a dedicated goroutine. The returned error
// reports only startup failures; everything after that surfaces
// through GetErrors so the capture goroutine never has to propagate
// errors across a channel.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.rootAbs); err != nil {
		return fmt.Errorf("watch root directory: %w", err)
	}
	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.recordError(err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	relPath, err := filepath.Rel(w.rootAbs, ev.Name)
	if err != nil {
		relPath = ev.Name
	}
	relPath = filepath.ToSlash(relPath)

	isDir := false
	if info, statErr := os.Lstat(ev.Name); statErr == nil {
		isDir = info.IsDir()
	}

	if w.shouldDrop(relPath, isDir) {
		return
	}

	now := time.Now()
	switch {
	case ev.Op&fsnotify.Create != 0:
		if isDir {
			_ = w.addRecursive(ev.Name)
		}
		w.deb.add(FileEvent{Path: relPath, Type: EventCreated, Time: now})
	case ev.Op&fsnotify.Write != 0:
		w.deb.add(FileEvent{Path: relPath, Type: EventModified, Time: now})
	case ev.Op&fsnotify.Remove != 0:
		w.deb.add(FileEvent{Path: relPath, Type: EventDeleted, Time: now})
	case ev.Op&fsnotify.Rename != 0:
		// A move's old path is reported as Rename by fsnotify; the new
		// path (if still within the tree) arrives as its own Create.
		// §4.7 requires "moved" be delivered as deleted(old)+created(new),
		// which this naturally achieves without extra bookkeeping.
		w.deb.add(FileEvent{Path: relPath, Type: EventDeleted, Time: now})
	case ev.Op&fsnotify.Chmod != 0:
		// Metadata-only change; not an indexable content change.
	}
}

// shouldDrop is the watcher's own filter (§4.7: "the watcher owns this
// filter"). A watcher started without a pattern set drops nothing
// beyond the hard-coded .git exclusion — callers are expected to pass
// Options.Include/Exclude explicitly rather than relying on a default.
func (w *Watcher) shouldDrop(relPath string, isDir bool) bool {
	if relPath == "." || relPath == "" {
		return true
	}
	if relPath == ".git" || strings.HasPrefix(relPath, ".git/") {
		return true
	}
	if len(w.opts.Include) > 0 && !isDir && !matchesAny(w.opts.Include, relPath) {
		return true
	}
	return w.exclude.Load().Match(relPath, isDir)
}

func matchesAny(patterns []string, relPath string) bool {
	base := filepath.Base(relPath)
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
		if ok, _ := filepath.Match(p, relPath); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // directory vanished or unreadable; skip it
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.rootAbs, path)
		if relErr != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)
		if rel != "." {
			if filepath.Base(rel) == ".git" || w.exclude.Load().Match(rel, true) {
				return filepath.SkipDir
			}
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) enqueueBatch(events []FileEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ev := range events {
		if len(w.queue) >= w.opts.MaxQueueSize {
			w.dropped++
			continue
		}
		w.queue = append(w.queue, ev)
	}
}

func (w *Watcher) recordError(err error) {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	w.errs = append(w.errs, err)
	const maxRetained = 100
	if len(w.errs) > maxRetained {
		w.errs = w.errs[len(w.errs)-maxRetained:]
	}
}

// GetEvents synchronously drains every event queued since the last
// call. This is the watcher's only way of surfacing events (§4.7).
func (w *Watcher) GetEvents() []FileEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return nil
	}
	out := w.queue
	w.queue = nil
	return out
}

// DroppedCount reports how many events were discarded because the
// bounded queue was full when they arrived.
func (w *Watcher) DroppedCount() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// GetErrors synchronously drains captured non-fatal watcher errors.
func (w *Watcher) GetErrors() []error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	if len(w.errs) == 0 {
		return nil
	}
	out := w.errs
	w.errs = nil
	return out
}

// InvalidateExcludes rebuilds the exclude pattern set, for use when a
// .gitignore file itself changes (the MCP server's gitignore-change
// reconciliation calls this after reloading patterns from disk).
func (w *Watcher) InvalidateExcludes(patterns []string) {
	w.exclude.Store(buildMatcher(patterns))
}

// Stop halts capture and releases the fsnotify handle. Safe to call
// more than once.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.deb.stop()
		_ = w.fsw.Close()
	})
	w.wg.Wait()
	return nil
}
