package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForEvents(t *testing.T, w *Watcher, timeout time.Duration) []FileEvent {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if events := w.GetEvents(); len(events) > 0 {
			return events
		}
		time.Sleep(20 * time.Millisecond)
	}
	return nil
}

func newStartedWatcher(t *testing.T, base string, opts Options) *Watcher {
	t.Helper()
	opts.DebounceWindow = 20 * time.Millisecond
	w, err := New(base, opts)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() {
		cancel()
		_ = w.Stop()
	})
	return w
}

func TestWatcher_DetectsFileCreation(t *testing.T) {
	base := t.TempDir()
	w := newStartedWatcher(t, base, Options{})

	require.NoError(t, os.WriteFile(filepath.Join(base, "new.go"), []byte("package main"), 0o644))

	events := waitForEvents(t, w, 2*time.Second)
	require.NotEmpty(t, events)
	assert.Equal(t, "new.go", events[0].Path)
	assert.Equal(t, EventCreated, events[0].Type)
}

func TestWatcher_DetectsFileDeletion(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "gone.go")
	require.NoError(t, os.WriteFile(target, []byte("package main"), 0o644))

	w := newStartedWatcher(t, base, Options{})
	require.NoError(t, os.Remove(target))

	events := waitForEvents(t, w, 2*time.Second)
	require.NotEmpty(t, events)
	assert.Equal(t, EventDeleted, events[len(events)-1].Type)
}

func TestWatcher_DropsExcludedPaths(t *testing.T) {
	base := t.TempDir()
	w := newStartedWatcher(t, base, Options{Exclude: []string{"*.log"}})

	require.NoError(t, os.WriteFile(filepath.Join(base, "debug.log"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "main.go"), []byte("package main"), 0o644))

	events := waitForEvents(t, w, 2*time.Second)
	require.NotEmpty(t, events)
	for _, ev := range events {
		assert.NotEqual(t, "debug.log", ev.Path)
	}
}

func TestWatcher_GetEventsDrainsExactlyOnce(t *testing.T) {
	base := t.TempDir()
	w := newStartedWatcher(t, base, Options{})

	require.NoError(t, os.WriteFile(filepath.Join(base, "once.go"), []byte("package main"), 0o644))
	first := waitForEvents(t, w, 2*time.Second)
	require.NotEmpty(t, first)

	time.Sleep(100 * time.Millisecond)
	second := w.GetEvents()
	assert.Empty(t, second)
}

func TestWatcher_InvalidateExcludesTakesEffectImmediately(t *testing.T) {
	base := t.TempDir()
	w := newStartedWatcher(t, base, Options{Exclude: []string{"*.log"}})

	w.InvalidateExcludes(nil)

	require.NoError(t, os.WriteFile(filepath.Join(base, "debug.log"), []byte("x"), 0o644))

	events := waitForEvents(t, w, 2*time.Second)
	require.NotEmpty(t, events)
	assert.Equal(t, "debug.log", events[0].Path)
}
