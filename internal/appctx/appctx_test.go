package appctx

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WiresEveryCollaborator(t *testing.T) {
	// Given: an empty project directory
	dir := t.TempDir()

	// When: constructing an App rooted there
	app, err := New(dir, Options{RootDir: dir})
	require.NoError(t, err)
	defer func() { _ = app.Shutdown(context.Background()) }()

	// Then: every collaborator needed by the one-shot index path is non-nil
	assert.NotNil(t, app.Config)
	assert.NotNil(t, app.Logger)
	assert.NotNil(t, app.Gate)
	assert.NotNil(t, app.Walker)
	assert.NotNil(t, app.Dispatcher)
	assert.NotNil(t, app.Indexer)
	assert.NotNil(t, app.Embed)
	assert.NotNil(t, app.Search)
	assert.NotNil(t, app.Tasks)
}

func TestApp_ProcessFileIndexesAndStoresChunks(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644))

	app, err := New(dir, Options{RootDir: dir})
	require.NoError(t, err)
	defer func() { _ = app.Shutdown(context.Background()) }()

	res, err := app.Indexer.ProcessFile(context.Background(), filepath.Join(dir, "main.go"))
	require.NoError(t, err)
	assert.Greater(t, res.Chunks, 0)
}

func TestApp_NewMCPServerReflectsStoreCapabilities(t *testing.T) {
	dir := t.TempDir()
	app, err := New(dir, Options{RootDir: dir})
	require.NoError(t, err)
	defer func() { _ = app.Shutdown(context.Background()) }()

	srv := app.NewMCPServer(dir, Options{RootDir: dir})
	assert.NotNil(t, srv)
}

func TestApp_ShutdownIsSafeWithoutStart(t *testing.T) {
	dir := t.TempDir()
	app, err := New(dir, Options{RootDir: dir})
	require.NoError(t, err)

	assert.NoError(t, app.Shutdown(context.Background()))
}
