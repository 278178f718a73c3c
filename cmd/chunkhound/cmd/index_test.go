package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestIndexCmd_IndexesDiscoveredFiles(t *testing.T) {
	// Given: a directory with one Go source file
	dir := t.TempDir()
	writeTestFile(t, dir, "main.go", "package main\n\nfunc main() {}\n")

	// When: running `index <dir>`
	cmd := newRootCmd()
	cmd.SetArgs([]string{"index", dir})

	// Then: it succeeds and creates the sqlite database under .chunkhound
	require.NoError(t, cmd.Execute())
	assert.FileExists(t, filepath.Join(dir, ".chunkhound", "db"))
}

func TestIndexCmd_RejectsNonDirectory(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "not-a-dir")
	writeTestFile(t, dir, "not-a-dir", "x")

	err := runIndex(t.Context(), filePath)
	require.Error(t, err)
}

func TestIndexCmd_CreatesDiscoveryCacheArtifact(t *testing.T) {
	// Given: a directory with one source file
	dir := t.TempDir()
	writeTestFile(t, dir, "main.go", "package main\n\nfunc main() {}\n")

	// When: running `index` once
	require.NoError(t, runIndex(t.Context(), dir))

	// Then: the persisted discovery cache exists alongside the main db
	assert.FileExists(t, filepath.Join(dir, ".chunkhound", "cache", "discover.db"))
}

func TestIndexCmd_SecondRunOverUnchangedTreeSucceeds(t *testing.T) {
	// Given: a directory already indexed once
	dir := t.TempDir()
	writeTestFile(t, dir, "main.go", "package main\n\nfunc main() {}\n")
	require.NoError(t, runIndex(t.Context(), dir))

	// When: running `index` again with nothing changed on disk
	// Then: it still succeeds -- the discovery cache lets this second
	// pass recognize every file as unchanged without reprocessing it
	require.NoError(t, runIndex(t.Context(), dir))
}
