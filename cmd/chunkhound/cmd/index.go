package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chunkhound/chunkhound/internal/appctx"
	"github.com/chunkhound/chunkhound/internal/discover"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Perform a one-shot full index of a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runIndex(cmd.Context(), path)
		},
	}
	return cmd
}

// runIndex discovers every matching file under rootDir and runs it
// through the Indexing Coordinator, with no watcher, scanner, or MCP
// transport involved -- a single synchronous pass (§6 "index [path]").
func runIndex(ctx context.Context, rootDir string) error {
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return usageError(fmt.Errorf("resolve path: %w", err))
	}
	info, err := os.Stat(absRoot)
	if err != nil || !info.IsDir() {
		return usageError(fmt.Errorf("not a directory: %s", absRoot))
	}

	app, err := appctx.New(absRoot, appctx.Options{RootDir: absRoot})
	if err != nil {
		return usageError(err)
	}
	defer func() { _ = app.Shutdown(context.Background()) }()

	found, err := app.Walker.Discover(ctx, discover.Options{
		RootDir: absRoot,
		Include: app.Config.Indexing.Include,
		Exclude: app.Config.Indexing.Exclude,
	})
	if err != nil {
		return runtimeError(fmt.Errorf("discover files: %w", err))
	}

	// The discovery cache lets a repeat run over an unchanged tree skip
	// process_file entirely for every file whose size and mtime match
	// the previous pass, instead of paying the Indexing Coordinator's
	// read-parse-diff cost just to rediscover nothing changed. A cache
	// open/read failure degrades to reprocessing everything rather than
	// failing the command.
	cache, cacheErr := discover.OpenCache(absRoot)
	if cacheErr != nil {
		app.Logger.Warn("index: discovery cache unavailable, reprocessing all files", slog.String("error", cacheErr.Error()))
	} else {
		defer func() { _ = cache.Close() }()
	}

	toProcess := found
	var removedPaths []string
	if cache != nil {
		added, changed, removed, diffErr := cache.Diff(found)
		if diffErr != nil {
			app.Logger.Warn("index: discovery cache diff failed, reprocessing all files", slog.String("error", diffErr.Error()))
		} else {
			byPath := make(map[string]discover.FileInfo, len(added)+len(changed))
			for _, f := range found {
				byPath[f.Path] = f
			}
			changedFiles := make([]discover.FileInfo, 0, len(added)+len(changed))
			for _, p := range added {
				changedFiles = append(changedFiles, byPath[p])
			}
			for _, p := range changed {
				changedFiles = append(changedFiles, byPath[p])
			}
			toProcess = changedFiles
			removedPaths = removed
		}
	}

	var indexed, failed, skipped int
	skipped = len(found) - len(toProcess)
	for _, f := range toProcess {
		if _, err := app.Indexer.ProcessFile(ctx, f.AbsPath); err != nil {
			app.Logger.Warn("index: process_file failed", slog.String("path", f.Path), slog.String("error", err.Error()))
			failed++
			continue
		}
		indexed++
	}
	for _, p := range removedPaths {
		absPath := filepath.Join(absRoot, filepath.FromSlash(p))
		if _, err := app.Indexer.RemoveFile(ctx, absPath); err != nil {
			app.Logger.Warn("index: remove_file failed", slog.String("path", p), slog.String("error", err.Error()))
		}
	}

	if cache != nil {
		if err := cache.Replace(found); err != nil {
			app.Logger.Warn("index: failed to update discovery cache", slog.String("error", err.Error()))
		}
	}

	app.Logger.Info("index: complete",
		slog.Int("indexed", indexed), slog.Int("failed", failed), slog.Int("skipped", skipped),
		slog.Int("removed", len(removedPaths)), slog.Int("total", len(found)))
	if failed > 0 && indexed == 0 {
		return runtimeError(fmt.Errorf("indexing failed for all %d discovered files", failed))
	}
	return nil
}
