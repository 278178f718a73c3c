// Package watcher captures filesystem change events for ChunkHound. It
// deliberately does not hand a channel or coroutine handle to its
// consumer (§4.7's redesign away from that defect class): events are
// drained synchronously through GetEvents.
package watcher

import "time"

// EventType classifies a filesystem change.
type EventType string

const (
	EventCreated  EventType = "created"
	EventModified EventType = "modified"
	EventDeleted  EventType = "deleted"
)

// FileEvent is one normalized, already-filtered filesystem change.
// "moved" is not a distinct EventType: per §4.7 it is expanded into a
// deleted record for the old path and a created record for the new
// one, at the point fsnotify reports it.
type FileEvent struct {
	Path string
	Type EventType
	Time time.Time
}

// Options configures a Watcher.
type Options struct {
	// Include patterns restrict which files generate events; empty
	// means every non-excluded file.
	Include []string

	// Exclude patterns are gitignore-syntax; events for matching paths
	// are dropped before they ever reach the debouncer.
	Exclude []string

	// DebounceWindow coalesces bursts of writes to the same path.
	// Default DefaultDebounceWindow.
	DebounceWindow time.Duration

	// MaxQueueSize bounds the pending event queue; once full, new
	// events are dropped and counted (see Watcher.DroppedCount).
	MaxQueueSize int
}

const (
	// DefaultDebounceWindow matches §4.7's "≈500ms" coalescing window.
	DefaultDebounceWindow = 500 * time.Millisecond
	// DefaultMaxQueueSize bounds memory use if the consumer stops polling.
	DefaultMaxQueueSize = 10000
)

func (o Options) withDefaults() Options {
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = DefaultDebounceWindow
	}
	if o.MaxQueueSize <= 0 {
		o.MaxQueueSize = DefaultMaxQueueSize
	}
	return o
}
