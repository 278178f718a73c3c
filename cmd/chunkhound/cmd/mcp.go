package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chunkhound/chunkhound/internal/appctx"
)

func newMCPCmd() *cobra.Command {
	var (
		useHTTP bool
		host    string
		port    int
	)

	cmd := &cobra.Command{
		Use:   "mcp [path]",
		Short: "Launch the MCP server over stdio (--http is accepted but returns an error)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			httpAddr := ""
			if useHTTP {
				httpAddr = fmt.Sprintf("%s:%d", host, port)
			}
			return runMCP(cmd.Context(), path, httpAddr)
		},
	}

	cmd.Flags().BoolVar(&useHTTP, "http", false, "request the loopback HTTP transport (not served: the command returns an error)")
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "HTTP bind address (only with --http)")
	cmd.Flags().IntVar(&port, "port", 8080, "HTTP bind port (only with --http)")
	return cmd
}

// runMCP wires the full application context -- storage gate, embedder,
// watcher, periodic scanner, task coordinator -- and blocks serving
// the MCP protocol until interrupted (§6 "mcp [path]").
func runMCP(ctx context.Context, rootDir, httpAddr string) error {
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return usageError(fmt.Errorf("resolve path: %w", err))
	}
	info, err := os.Stat(absRoot)
	if err != nil || !info.IsDir() {
		return usageError(fmt.Errorf("not a directory: %s", absRoot))
	}

	app, err := appctx.New(absRoot, appctx.Options{RootDir: absRoot, HTTPAddr: httpAddr})
	if err != nil {
		return usageError(err)
	}
	defer func() { _ = app.Shutdown(context.Background()) }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.Start(ctx)

	if app.Config.Indexing.Watch {
		if err := app.StartWatcher(ctx, absRoot); err != nil {
			return runtimeError(err)
		}
	}
	app.NewScanner(absRoot)

	server := app.NewMCPServer(absRoot, appctx.Options{RootDir: absRoot, HTTPAddr: httpAddr})

	if err := server.Serve(ctx); err != nil {
		return runtimeError(err)
	}
	server.Stop()
	return nil
}
