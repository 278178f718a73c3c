// Package appctx wires every ChunkHound component into the one
// explicit application context the process constructs at startup and
// shuts down at exit (§9: "no hidden module-level singletons"). Both
// cmd/chunkhound subcommands build an App and never reach for a
// package-level global.
package appctx

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chunkhound/chunkhound/internal/chunklang"
	"github.com/chunkhound/chunkhound/internal/config"
	"github.com/chunkhound/chunkhound/internal/discover"
	"github.com/chunkhound/chunkhound/internal/embed"
	"github.com/chunkhound/chunkhound/internal/gate"
	"github.com/chunkhound/chunkhound/internal/index"
	"github.com/chunkhound/chunkhound/internal/logging"
	"github.com/chunkhound/chunkhound/internal/mcpserver"
	"github.com/chunkhound/chunkhound/internal/scan"
	"github.com/chunkhound/chunkhound/internal/search"
	"github.com/chunkhound/chunkhound/internal/store"
	"github.com/chunkhound/chunkhound/internal/task"
	"github.com/chunkhound/chunkhound/internal/watcher"
)

// App holds every long-lived collaborator for one ChunkHound process.
// Fields are exported so cmd/chunkhound can drive the one-shot `index`
// path directly without going through the MCP server.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Gate       *gate.Gate
	Walker     *discover.Walker
	Dispatcher *chunklang.Dispatcher
	Indexer    *index.Coordinator
	Embed      *embed.Service
	Search     *search.Service
	Tasks      *task.Coordinator
	Watcher    *watcher.Watcher
	Scanner    *scan.Scanner

	logCleanup func()
}

// Options carries the per-invocation CLI overrides appctx needs beyond
// what config.Load already resolves from files and environment.
type Options struct {
	RootDir  string
	HTTPAddr string
}

// New loads configuration, sets up logging, and constructs every
// component through to (but not including) the MCP server itself --
// the indexing-only `index` subcommand needs everything up to Indexer
// but never starts a watcher, scanner, or MCP transport.
func New(rootDir string, opts Options) (*App, error) {
	if rootDir == "" {
		rootDir = "."
	}

	cfg, err := config.Load(rootDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, cleanup, err := logging.Setup(logging.DefaultConfig(rootDir))
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}

	dbPath := cfg.Database.Path
	g := gate.New(func() store.Store { return store.NewSQLiteStore(dbPath) })

	factory := embed.Factory(func(provider embed.ProviderType, model string) (embed.Embedder, error) {
		return embed.NewEmbedder(provider, embed.HTTPConfig{
			BaseURL:    cfg.Embedding.BaseURL,
			APIKey:     cfg.Embedding.APIKey,
			Model:      model,
			BatchSize:  cfg.Embedding.BatchSize,
			Timeout:    time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
			MaxRetries: cfg.Embedding.MaxRetries,
		})
	})
	embedSvc := embed.NewService(g, factory, cfg.Embedding.MaxConcurrentBatch, cfg.Embedding.MaxBatchTokens)

	walker := discover.NewWalker()
	dispatcher := chunklang.NewDispatcher()
	indexer := index.New(g, dispatcher, rootDir, cfg.Indexing.MaxFileSizeMB)
	searchSvc := search.New(g, embedSvc, rootDir)
	tasks := task.New()

	app := &App{
		Config:     cfg,
		Logger:     logger,
		Gate:       g,
		Walker:     walker,
		Dispatcher: dispatcher,
		Indexer:    indexer,
		Embed:      embedSvc,
		Search:     searchSvc,
		Tasks:      tasks,
		logCleanup: cleanup,
	}

	return app, nil
}

// StartWatcher constructs and starts the filesystem watcher (C7) rooted
// at rootDir. Only the `mcp` subcommand calls this; the one-shot
// `index` path has no use for live change events.
func (a *App) StartWatcher(ctx context.Context, rootDir string) error {
	w, err := watcher.New(rootDir, watcher.Options{
		Include:        a.Config.Indexing.Include,
		Exclude:        a.Config.Indexing.Exclude,
		DebounceWindow: time.Duration(a.Config.Indexing.DebounceMS) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	a.Watcher = w
	return nil
}

// NewScanner constructs the periodic reconciliation scanner (C9). The
// caller is responsible for starting it (mcpserver.Server does this
// during deferred init, not here, so the handshake stays fast).
func (a *App) NewScanner(rootDir string) {
	a.Scanner = scan.New(scan.Options{
		RootDir: rootDir,
		Discover: discover.Options{
			Include:     a.Config.Indexing.Include,
			Exclude:     a.Config.Indexing.Exclude,
			MaxFileSize: int64(a.Config.Indexing.MaxFileSizeMB) * 1024 * 1024,
		},
	}, a.Walker, a.Gate, a.Tasks, a.Indexer, a.Logger)
}

// NewMCPServer wires every already-constructed collaborator into an
// mcpserver.Server. Tasks must already be started (see Start) before
// this is called, since the watcher pump and deferred init submit work
// through it immediately.
func (a *App) NewMCPServer(rootDir string, opts Options) *mcpserver.Server {
	caps := store.NewSQLiteStore(a.Config.Database.Path).Capabilities()

	deps := mcpserver.Deps{
		Gate:    a.Gate,
		Search:  a.Search,
		Tasks:   a.Tasks,
		Indexer: a.Indexer,
		Embed:   a.Embed,
		Watcher: a.Watcher,
		Scanner: a.Scanner,
		Caps:    caps,
		Walker:  a.Walker,
		DiscoverOpts: discover.Options{
			Include:     a.Config.Indexing.Include,
			Exclude:     a.Config.Indexing.Exclude,
			MaxFileSize: int64(a.Config.Indexing.MaxFileSizeMB) * 1024 * 1024,
		},
		BaseExcludes:    a.Config.Indexing.Exclude,
		DefaultProvider: a.Config.Embedding.Provider,
		DefaultModel:    a.Config.Embedding.Model,
	}

	return mcpserver.NewServer(deps, mcpserver.Options{
		RootDir:         rootDir,
		DBPath:          a.Config.Database.Path,
		DefaultProvider: a.Config.Embedding.Provider,
		DefaultModel:    a.Config.Embedding.Model,
		HTTPAddr:        opts.HTTPAddr,
	}, a.Logger)
}

// Start begins the background task coordinator. Call before
// NewMCPServer's returned Server.Serve, and before StartWatcher (the
// watcher pump submits through Tasks as soon as Serve starts polling).
func (a *App) Start(ctx context.Context) {
	a.Tasks.Start(ctx)
}

// Shutdown stops every background component in dependency order: the
// scanner (stops submitting new work), the watcher (stops producing
// events), the task coordinator (drains in-flight work), the embedder
// cache, and finally the storage gate. Safe to call once per App.
func (a *App) Shutdown(ctx context.Context) error {
	if a.Scanner != nil {
		a.Scanner.Stop()
	}
	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}
	if a.Tasks != nil {
		a.Tasks.Stop()
	}
	var firstErr error
	if a.Embed != nil {
		if err := a.Embed.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.Gate != nil {
		if err := a.Gate.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.logCleanup != nil {
		a.logCleanup()
	}
	return firstErr
}
