package discover

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_DiffReportsAddedChangedAndRemoved(t *testing.T) {
	// Given: a cache primed with three files
	base := t.TempDir()
	c, err := OpenCache(base)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	t0 := time.Unix(1000, 0)
	require.NoError(t, c.Replace([]FileInfo{
		{Path: "a.go", Size: 10, ModTime: t0},
		{Path: "b.go", Size: 20, ModTime: t0},
		{Path: "gone.go", Size: 30, ModTime: t0},
	}))

	// When: the next pass has a.go unchanged, b.go resized, c.go new, and
	// gone.go no longer present
	current := []FileInfo{
		{Path: "a.go", Size: 10, ModTime: t0},
		{Path: "b.go", Size: 99, ModTime: t0},
		{Path: "c.go", Size: 5, ModTime: t0},
	}
	added, changed, removed, err := c.Diff(current)

	// Then: the diff reflects exactly that
	require.NoError(t, err)
	assert.Equal(t, []string{"c.go"}, added)
	assert.Equal(t, []string{"b.go"}, changed)
	assert.Equal(t, []string{"gone.go"}, removed)
}

func TestCache_ReplacePersistsAcrossReopen(t *testing.T) {
	base := t.TempDir()
	c, err := OpenCache(base)
	require.NoError(t, err)

	t0 := time.Unix(2000, 0)
	require.NoError(t, c.Replace([]FileInfo{{Path: "x.go", Size: 1, ModTime: t0}}))
	require.NoError(t, c.Close())

	reopened, err := OpenCache(base)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	entries, err := reopened.Entries()
	require.NoError(t, err)
	require.Contains(t, entries, "x.go")
	assert.Equal(t, int64(1), entries["x.go"].Size)
	assert.True(t, t0.Equal(entries["x.go"].ModTime))
}

func TestCache_DiffOnEmptyCacheReportsEverythingAdded(t *testing.T) {
	base := t.TempDir()
	c, err := OpenCache(base)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	added, changed, removed, err := c.Diff([]FileInfo{{Path: "new.go", Size: 1, ModTime: time.Unix(1, 0)}})

	require.NoError(t, err)
	assert.Equal(t, []string{"new.go"}, added)
	assert.Empty(t, changed)
	assert.Empty(t, removed)
}
