package watcher

import (
	"sync"
	"time"
)

// debouncer coalesces rapid events for the same path within a window,
// following the teacher's merge rules (internal/watcher/debouncer.go):
// create+modify collapses to create, create+delete cancels out,
// modify+delete becomes delete. A delete is never held in the window,
// so delete+create is emitted as a delete followed by a create. Unlike
// the teacher's version it has no output channel: coalesced batches
// are handed to a plain sink function, since the watcher never crosses
// a channel over the goroutine boundary (§4.7).
type debouncer struct {
	window time.Duration
	sink   func([]FileEvent)

	mu      sync.Mutex
	pending map[string]*pendingEvent
	timer   *time.Timer
	stopped bool
}

type pendingEvent struct {
	event   FileEvent
	firstOp EventType
}

func newDebouncer(window time.Duration, sink func([]FileEvent)) *debouncer {
	return &debouncer{window: window, sink: sink, pending: make(map[string]*pendingEvent)}
}

// add queues ev for coalescing. Deletions are never delayed: a bare
// delete flushes immediately, and a delete that cancels a still-pending
// create drops both rather than waiting out the window.
func (d *debouncer) add(ev FileEvent) {
	d.mu.Lock()

	if d.stopped {
		d.mu.Unlock()
		return
	}

	if ev.Type == EventDeleted {
		existing, hadPending := d.pending[ev.Path]
		delete(d.pending, ev.Path)
		if hadPending && existing.firstOp == EventCreated {
			// CREATE + DELETE: the file never really existed.
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()
		d.sink([]FileEvent{ev})
		return
	}

	if existing, ok := d.pending[ev.Path]; ok {
		existing.event = coalesce(existing.firstOp, ev)
	} else {
		d.pending[ev.Path] = &pendingEvent{event: ev, firstOp: ev.Type}
	}
	d.scheduleFlushLocked()
	d.mu.Unlock()
}

// coalesce applies the merge rule for a path whose first recorded
// operation in the current window was firstOp.
func coalesce(firstOp EventType, next FileEvent) FileEvent {
	if firstOp == EventCreated {
		// CREATE + MODIFY stays CREATE: consumers never saw the file
		// before this window, so it is still "new" to them.
		merged := next
		merged.Type = EventCreated
		return merged
	}
	return next
}

func (d *debouncer) scheduleFlushLocked() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *debouncer) flush() {
	d.mu.Lock()
	if d.stopped || len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	events := make([]FileEvent, 0, len(d.pending))
	for _, pe := range d.pending {
		events = append(events, pe.event)
	}
	d.pending = make(map[string]*pendingEvent)
	d.mu.Unlock()

	d.sink(events)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
