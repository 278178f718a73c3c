package scan

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkhound/chunkhound/internal/discover"
	"github.com/chunkhound/chunkhound/internal/gate"
	"github.com/chunkhound/chunkhound/internal/index"
	"github.com/chunkhound/chunkhound/internal/store"
	"github.com/chunkhound/chunkhound/internal/task"
)

type recordingIndexer struct {
	mu        sync.Mutex
	processed []string
	removed   []string
}

func (r *recordingIndexer) ProcessFile(ctx context.Context, path string) (index.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed = append(r.processed, path)
	return index.Result{Status: index.StatusIndexed}, nil
}

func (r *recordingIndexer) RemoveFile(ctx context.Context, path string) (index.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, path)
	return index.Result{Status: index.StatusRemoved}, nil
}

func (r *recordingIndexer) snapshot() (processed, removed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.processed...), append([]string(nil), r.removed...)
}

func newTestGate(t *testing.T) *gate.Gate {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	g := gate.New(func() store.Store { return store.NewSQLiteStore(dbPath) })
	t.Cleanup(func() { _ = g.Shutdown(context.Background()) })
	return g
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestScanner_SchedulesProcessForNewFiles(t *testing.T) {
	// Given: a root with one untracked file and an empty store
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package main"), 0o644))

	g := newTestGate(t)
	tc := task.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tc.Start(ctx)
	defer tc.Stop()

	indexer := &recordingIndexer{}
	sc := New(Options{RootDir: root, Interval: time.Hour}, discover.NewWalker(), g, tc, indexer, nil)

	// When: one reconciliation pass runs
	sc.tick(ctx)

	// Then: process_file is scheduled and eventually runs for the new file
	waitUntil(t, 2*time.Second, func() bool {
		processed, _ := indexer.snapshot()
		return len(processed) == 1
	})
	processed, _ := indexer.snapshot()
	assert.Equal(t, filepath.Join(root, "a.go"), processed[0])
}

func TestScanner_SchedulesRemoveForVanishedFiles(t *testing.T) {
	// Given: a store with one tracked file that no longer exists on disk
	root := t.TempDir()
	g := newTestGate(t)
	_, err := gate.Submit(context.Background(), g, func(ctx context.Context, s store.Store) (int64, error) {
		return s.InsertFile(ctx, &store.File{Path: "gone.go", Size: 1, MTime: time.Now(), LastIndexedAt: time.Now()})
	})
	require.NoError(t, err)

	tc := task.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tc.Start(ctx)
	defer tc.Stop()

	indexer := &recordingIndexer{}
	sc := New(Options{RootDir: root, Interval: time.Hour}, discover.NewWalker(), g, tc, indexer, nil)

	sc.tick(ctx)

	waitUntil(t, 2*time.Second, func() bool {
		_, removed := indexer.snapshot()
		return len(removed) == 1
	})
	_, removed := indexer.snapshot()
	assert.Equal(t, filepath.Join(root, "gone.go"), removed[0])
}

func TestScanner_SchedulesProcessForChangedFiles(t *testing.T) {
	// Given: a store record whose size no longer matches the file on disk
	root := t.TempDir()
	path := filepath.Join(root, "b.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n\nfunc B() {}"), 0o644))
	info, err := os.Stat(path)
	require.NoError(t, err)

	g := newTestGate(t)
	_, err = gate.Submit(context.Background(), g, func(ctx context.Context, s store.Store) (int64, error) {
		return s.InsertFile(ctx, &store.File{
			Path:          "b.go",
			Size:          1, // stale
			MTime:         info.ModTime(),
			LastIndexedAt: time.Now(),
		})
	})
	require.NoError(t, err)

	tc := task.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tc.Start(ctx)
	defer tc.Stop()

	indexer := &recordingIndexer{}
	sc := New(Options{RootDir: root, Interval: time.Hour}, discover.NewWalker(), g, tc, indexer, nil)

	sc.tick(ctx)

	waitUntil(t, 2*time.Second, func() bool {
		processed, _ := indexer.snapshot()
		return len(processed) == 1
	})
}

func TestScanner_NoDriftSchedulesNothing(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "c.go")
	require.NoError(t, os.WriteFile(path, []byte("package main"), 0o644))
	info, err := os.Stat(path)
	require.NoError(t, err)

	g := newTestGate(t)
	_, err = gate.Submit(context.Background(), g, func(ctx context.Context, s store.Store) (int64, error) {
		return s.InsertFile(ctx, &store.File{
			Path:          "c.go",
			Size:          info.Size(),
			MTime:         info.ModTime(),
			LastIndexedAt: time.Now(),
		})
	})
	require.NoError(t, err)

	tc := task.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tc.Start(ctx)
	defer tc.Stop()

	indexer := &recordingIndexer{}
	sc := New(Options{RootDir: root, Interval: time.Hour}, discover.NewWalker(), g, tc, indexer, nil)

	sc.tick(ctx)

	time.Sleep(100 * time.Millisecond)
	processed, removed := indexer.snapshot()
	assert.Empty(t, processed)
	assert.Empty(t, removed)
}

func TestScanner_StopWaitsForLoopExit(t *testing.T) {
	root := t.TempDir()
	g := newTestGate(t)
	tc := task.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tc.Start(ctx)
	defer tc.Stop()

	sc := New(Options{RootDir: root, Interval: time.Hour}, discover.NewWalker(), g, tc, &recordingIndexer{}, nil)
	sc.Start(ctx)

	done := make(chan struct{})
	go func() {
		sc.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
