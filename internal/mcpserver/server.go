package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/chunkhound/chunkhound/internal/discover"
	"github.com/chunkhound/chunkhound/internal/embed"
	"github.com/chunkhound/chunkhound/internal/gate"
	"github.com/chunkhound/chunkhound/internal/index"
	"github.com/chunkhound/chunkhound/internal/scan"
	"github.com/chunkhound/chunkhound/internal/search"
	"github.com/chunkhound/chunkhound/internal/store"
	"github.com/chunkhound/chunkhound/internal/task"
	"github.com/chunkhound/chunkhound/internal/watcher"
)

// watcherPollInterval is the §5 "200 ms watcher-poll sleep" suspension
// point: the MCP server owns the only goroutine that drains the
// watcher's synchronous GetEvents queue, since C7 has no push callback.
const watcherPollInterval = 200 * time.Millisecond

// Indexer is the subset of the Indexing Coordinator (C4) the watcher
// pump needs, narrowed to an interface (matching internal/scan's own
// Indexer) so tests can substitute a recorder instead of a fully wired
// *index.Coordinator.
type Indexer interface {
	ProcessFile(ctx context.Context, path string) (index.Result, error)
	RemoveFile(ctx context.Context, path string) (index.Result, error)
}

// Deps are the already-constructed collaborators a Server wires
// together. None are connected to external resources yet except the
// watcher, which must already be capturing events by the time a Server
// is constructed (§4.10: "start C7 with a guarded handler that buffers
// events" happens at cold -> handshake_ready, i.e. before NewServer
// returns).
type Deps struct {
	Gate    *gate.Gate
	Search  *search.Service
	Tasks   *task.Coordinator
	Indexer Indexer
	Embed   *embed.Service
	Watcher *watcher.Watcher
	Scanner *scan.Scanner
	Caps    store.Capabilities

	// Walker and DiscoverOpts let a .gitignore change trigger an
	// immediate, scoped rescan (reconcileGitignore in gitignore.go)
	// instead of waiting for the next periodic scan. BaseExcludes is
	// the configured exclude glob set merged with a changed root
	// .gitignore's own patterns before refreshing the watcher's filter.
	Walker       *discover.Walker
	DiscoverOpts discover.Options
	BaseExcludes []string

	DefaultProvider string
	DefaultModel    string
}

// Server hosts the MCP transport and the initialization state machine
// described in §4.10. It is the single process-wide handle the stdio
// transport requires (§9 "Global mutable state in the MCP process");
// appctx constructs exactly one and owns its lifetime.
type Server struct {
	mcp *mcp.Server

	deps   Deps
	opts   Options
	logger *slog.Logger

	state     stateHolder
	startedAt time.Time

	giState *gitignoreState

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewServer constructs a Server, registers its tool schemas, and
// advances the state machine to handshake_ready. It does not connect to
// storage or block on anything slow -- that is the deferred init step
// Serve kicks off once the transport is live (§4.10 rationale: the
// handshake must always be answerable in milliseconds).
func NewServer(deps Deps, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.DefaultProvider == "" {
		deps.DefaultProvider = "openai"
	}
	if deps.DefaultModel == "" {
		deps.DefaultModel = "text-embedding-3-small"
	}

	s := &Server{
		deps:    deps,
		opts:    opts,
		logger:  logger,
		giState: newGitignoreState(),
		stopCh:  make(chan struct{}),
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    "chunkhound",
		Version: "0.1.0",
	}, nil)

	s.registerTools()
	s.state.set(StateHandshakeReady)
	return s
}

// registerTools exposes get_stats and health_check unconditionally, and
// search_regex/search_semantic only when the configured backend
// declares the matching capability (§4.10 "Tool discovery"). This runs
// during NewServer, before any storage connection, so the capability
// set must come from Store.Capabilities() on an unconnected store --
// which is exactly why that method is safe to call before Connect.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_stats",
		Description: "Report indexed file, chunk, and embedding counts, the configured embedding providers, and the background task queue depths.",
	}, s.handleGetStats)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "health_check",
		Description: "Report server initialization state and component health. Safe to call at any point, including before the index is ready.",
	}, s.handleHealthCheck)

	if s.deps.Caps.Regex {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "search_regex",
			Description: "Search indexed source files by regular expression, optionally scoped to a path prefix. Returns a paginated result set.",
		}, s.handleSearchRegex)
	}
	if s.deps.Caps.Semantic {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "search_semantic",
			Description: "Search indexed source files by meaning using vector similarity, optionally scoped to a path prefix and similarity threshold. Returns a paginated result set.",
		}, s.handleSearchSemantic)
	}
}

// Serve runs the server until ctx is cancelled or Stop is called. It
// starts the watcher-poll loop, advances the state machine to
// handshake_complete, launches deferred initialization in the
// background, and then blocks inside the selected transport.
//
// The go-sdk does not expose a hook for the exact moment the
// client's `initialized` notification arrives, so handshake_complete
// is entered as soon as the transport begins serving rather than on
// that notification specifically; every tool handler still gates on
// the real state value, so a call arriving before db_ready gets the
// well-defined "initializing" error the spec requires regardless of
// exactly when this transition fires.
func (s *Server) Serve(ctx context.Context) error {
	s.startedAt = time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.wg.Add(1)
	go s.pollWatcher(ctx)

	s.state.set(StateHandshakeComplete)
	s.wg.Add(1)
	go s.deferredInit(ctx)

	if s.opts.HTTPAddr != "" {
		return s.serveHTTP(ctx)
	}
	return s.serveStdio(ctx)
}

func (s *Server) serveStdio(ctx context.Context) error {
	s.logger.Info("mcp server starting", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.logger.Error("mcp server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp server stopped")
	return nil
}

// serveHTTP would expose the same tool set over a loopback-bound HTTP
// endpoint (§4.10: "bound only to 127.0.0.1 by default"). No repo in
// the retrieved corpus exercises this SDK's HTTP transport (the one
// example using an HTTP-capable MCP SDK targets a different, unrelated
// library), and guessing at the real transport-construction call here
// risks shipping a JSON-RPC endpoint that looks plausible but silently
// never answers -- worse than refusing outright. Matching the
// teacher's own precedent for an unsupported transport
// (internal/mcp/server.go's `case "sse"`), this returns a clear error
// instead of fabricating an untested path; see DESIGN.md.
func (s *Server) serveHTTP(ctx context.Context) error {
	return fmt.Errorf("http transport not yet implemented (supported: stdio); requested addr %s", s.opts.HTTPAddr)
}

// Stop signals the watcher-poll and deferred-init goroutines to exit
// and waits for them. The transport itself unblocks via the ctx passed
// to Serve, which callers cancel as part of the same shutdown sequence;
// Stop's job is making sure this Server's own background work is fully
// drained before appctx reports shutdown complete (§4.10 "Background
// task hygiene").
func (s *Server) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// deferredInit performs the handshake_complete -> db_ready -> tools_ready
// work (§4.10): connect storage by touching the gate, flush any watcher
// events the poll loop buffered while still cold, start the periodic
// scanner, and warm the query-embedding cache.
func (s *Server) deferredInit(ctx context.Context) {
	defer s.wg.Done()

	if _, err := gate.Submit(ctx, s.deps.Gate, func(ctx context.Context, st store.Store) (store.Stats, error) {
		return st.GetStats(ctx)
	}); err != nil {
		s.logger.Warn("deferred init: storage connect failed", slog.String("error", err.Error()))
	}
	s.state.set(StateDBReady)

	if s.deps.Scanner != nil {
		s.deps.Scanner.Start(ctx)
	}

	if s.deps.Embed != nil {
		if err := s.deps.Embed.Warmup(embed.ProviderType(s.deps.DefaultProvider), s.deps.DefaultModel); err != nil {
			s.logger.Warn("deferred init: embedder warmup failed", slog.String("error", err.Error()))
		}
	}
	s.state.set(StateToolsReady)
	s.logger.Info("mcp server ready", slog.String("state", s.state.get().String()))
}

// pollWatcher drains the watcher's synchronous event queue on a fixed
// cadence and either buffers events (before db_ready) or schedules
// file_change tasks for them (once the indexing coordinator is live).
// It is the only goroutine that calls Watcher.GetEvents, so the
// buffer below needs no extra synchronization (§5, §4.10 "File-watcher
// events buffer indefinitely until db_ready, then drain in arrival
// order").
func (s *Server) pollWatcher(ctx context.Context) {
	defer s.wg.Done()
	if s.deps.Watcher == nil {
		return
	}

	ticker := time.NewTicker(watcherPollInterval)
	defer ticker.Stop()

	var pending []watcher.FileEvent
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			pending = append(pending, s.deps.Watcher.GetEvents()...)
			if len(pending) == 0 {
				continue
			}
			if !s.state.atLeast(StateDBReady) {
				continue
			}
			for _, ev := range pending {
				s.scheduleFileChange(ctx, ev)
			}
			pending = nil
		}
	}
}

func (s *Server) scheduleFileChange(ctx context.Context, ev watcher.FileEvent) {
	// A .gitignore change needs reconciliation, not a plain
	// process_file/remove_file call: the file itself has no chunks, but
	// its new rules can un-ignore or newly ignore other tracked files
	// (gitignore.go).
	if filepath.Base(ev.Path) == ".gitignore" {
		path := ev.Path
		_, _, err := s.deps.Tasks.Submit(ctx, task.PriorityFileChange, path, func(taskCtx context.Context) error {
			s.reconcileGitignore(taskCtx, path)
			return nil
		})
		if err != nil {
			s.logger.Warn("watcher: submit gitignore reconciliation failed", slog.String("path", path), slog.String("error", err.Error()))
		}
		return
	}

	absPath := filepath.Join(s.opts.RootDir, filepath.FromSlash(ev.Path))
	_, _, err := s.deps.Tasks.Submit(ctx, task.PriorityFileChange, ev.Path, func(taskCtx context.Context) error {
		if ev.Type == watcher.EventDeleted {
			_, err := s.deps.Indexer.RemoveFile(taskCtx, absPath)
			return err
		}
		_, err := s.deps.Indexer.ProcessFile(taskCtx, absPath)
		return err
	})
	if err != nil {
		s.logger.Warn("watcher: submit file_change failed", slog.String("path", ev.Path), slog.String("error", err.Error()))
	}
}

// requireState returns ErrNotReady when the server has not yet reached
// min, so every tool handler shares one gate check (§4.10: calls
// arriving before db_ready return a well-defined "initializing" error).
func (s *Server) requireState(min State) error {
	if !s.state.atLeast(min) {
		return fmt.Errorf("%w: currently %s, need at least %s", ErrNotReady, s.state.get(), min)
	}
	return nil
}
