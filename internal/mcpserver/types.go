// Package mcpserver implements the MCP Server (C10): the stdio
// transport, tool schemas, and the deferred-initialization state
// machine that keeps the handshake answerable in milliseconds while
// storage connection and directory scanning happen in the background
// (§4.10). No HTTP transport is served: an HTTP address makes Serve
// return an error.
package mcpserver

import (
	"sync/atomic"
)

// State is one step of the initialization state machine (§4.10). The
// zero value is StateCold.
type State int32

const (
	StateCold State = iota
	StateHandshakeReady
	StateHandshakeComplete
	StateDBReady
	StateToolsReady
)

func (s State) String() string {
	switch s {
	case StateCold:
		return "cold"
	case StateHandshakeReady:
		return "handshake_ready"
	case StateHandshakeComplete:
		return "handshake_complete"
	case StateDBReady:
		return "db_ready"
	case StateToolsReady:
		return "tools_ready"
	default:
		return "unknown"
	}
}

// stateHolder is a tiny atomic wrapper so every goroutine (the
// transport's request handlers, the deferred-init goroutine, the
// watcher pump) observes the same state value without a mutex.
type stateHolder struct {
	v atomic.Int32
}

func (h *stateHolder) get() State       { return State(h.v.Load()) }
func (h *stateHolder) set(s State)      { h.v.Store(int32(s)) }
func (h *stateHolder) atLeast(s State) bool { return h.get() >= s }

// Options configures a Server.
type Options struct {
	RootDir string // base directory for path scoping and discovery
	DBPath  string // SQLite database file path

	DefaultProvider string
	DefaultModel    string

	// HTTPAddr, when non-empty, makes Serve return an error instead of
	// serving; only the stdio transport is implemented.
	HTTPAddr string

	// UserQueryTimeout is carried in Options but no tool handler reads
	// it: a tool call runs until its request context ends.
	UserQueryTimeout int // seconds
}

// DefaultUserQueryTimeoutSeconds is the §5 cancellation/timeout
// default; nothing in this package applies it.
const DefaultUserQueryTimeoutSeconds = 30
