package gate

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkhound/chunkhound/internal/store"
)

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	dir := t.TempDir()
	g := New(func() store.Store {
		return store.NewSQLiteStore(filepath.Join(dir, "chunkhound.db"))
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = g.Shutdown(ctx)
	})
	return g
}

func TestSubmit_ConnectsLazilyOnFirstCall(t *testing.T) {
	// Given: a freshly constructed gate, no connection yet
	g := newTestGate(t)

	// When: submitting the first task
	stats, err := Submit(context.Background(), g, func(ctx context.Context, s store.Store) (store.Stats, error) {
		return s.GetStats(ctx)
	})

	// Then: the store was connected on the DB thread and the call succeeded
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Files)
}

func TestSubmit_SerializesConcurrentCallers(t *testing.T) {
	// Given: a gate and many concurrent callers inserting files
	g := newTestGate(t)
	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)

	// When: all of them submit InsertFile concurrently
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := Submit(context.Background(), g, func(ctx context.Context, s store.Store) (int64, error) {
				f := &store.File{Path: filepath.Join("pkg", string(rune('a'+i))+".go"), Language: "go"}
				return s.InsertFile(ctx, f)
			})
			errs[i] = err
		}(i)
	}
	wg.Wait()

	// Then: every insert succeeded without racing on the single connection
	for _, err := range errs {
		assert.NoError(t, err)
	}
	stats, err := Submit(context.Background(), g, func(ctx context.Context, s store.Store) (store.Stats, error) {
		return s.GetStats(ctx)
	})
	require.NoError(t, err)
	assert.Equal(t, n, stats.Files)
}

func TestSubmit_RejectsReentrance(t *testing.T) {
	// Given: a gate
	g := newTestGate(t)

	// When: a submitted task itself calls Submit against the same gate
	_, err := Submit(context.Background(), g, func(ctx context.Context, s store.Store) (int, error) {
		_, innerErr := Submit(ctx, g, func(ctx context.Context, s store.Store) (int, error) {
			return 0, nil
		})
		return 0, innerErr
	})

	// Then: the inner call fails fast instead of deadlocking
	require.Error(t, err)
}

func TestDo_PropagatesTransactionAcrossCallsWithinOneSubmit(t *testing.T) {
	// Given: a gate
	g := newTestGate(t)

	// When: a single Submit begins a transaction, inserts, then rolls back
	err := Do(context.Background(), g, func(ctx context.Context, s store.Store) error {
		if err := s.Begin(ctx); err != nil {
			return err
		}
		if _, err := s.InsertFile(ctx, &store.File{Path: "tx.go", Language: "go"}); err != nil {
			return err
		}
		return s.Rollback(ctx)
	})
	require.NoError(t, err)

	// Then: the rollback was honored — no file was durably written
	got, err := Submit(context.Background(), g, func(ctx context.Context, s store.Store) (*store.File, error) {
		return s.GetFileByPath(ctx, "tx.go")
	})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestShutdown_DisconnectsAndRejectsFurtherSubmits(t *testing.T) {
	// Given: a connected gate
	dir := t.TempDir()
	g := New(func() store.Store { return store.NewSQLiteStore(filepath.Join(dir, "chunkhound.db")) })
	_, err := Submit(context.Background(), g, func(ctx context.Context, s store.Store) (store.Stats, error) {
		return s.GetStats(ctx)
	})
	require.NoError(t, err)

	// When: shutting it down
	require.NoError(t, g.Shutdown(context.Background()))

	// Then: a later submit is rejected rather than hanging forever
	_, err = Submit(context.Background(), g, func(ctx context.Context, s store.Store) (int, error) {
		return 0, nil
	})
	require.Error(t, err)
}
