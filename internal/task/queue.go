package task

import (
	"strconv"
	"sync"

	"github.com/chunkhound/chunkhound/internal/chunkerr"
)

// Back-pressure policies per priority (§4.8):
//   - user_query: bounded; a full queue returns an error synchronously
//     to the caller rather than blocking or dropping a query silently.
//   - file_change: bounded; a second event for a path already queued
//     replaces the queued one (coalescing) instead of growing the
//     queue, since only the latest state of a path matters by the time
//     it is processed.
//   - periodic_scan: bounded; a full queue silently drops the new
//     entry, since the next scan interval will reconcile the same
//     ground truth again.
const (
	DefaultUserQueryCapacity    = 64
	DefaultFileChangeCapacity   = 4096
	DefaultPeriodicScanCapacity = 16

	// starvationThreshold is N in "after N consecutive high-priority
	// draws, the next lower-priority item is promoted once" (§4.8).
	starvationThreshold = 8
)

// queue holds three independent FIFOs, one per priority, plus the
// starvation-avoidance state needed to interleave them on pop. It is
// not a container/heap: with exactly three fixed priority tiers and no
// need to compare tasks against each other beyond their tier, three
// plain FIFOs with an explicit draw-order policy are simpler and more
// directly testable than a generic heap.Interface would be here.
type queue struct {
	mu sync.Mutex

	userQuery  []*Task
	fileChange []*Task
	periodic   []*Task

	fileChangeIx map[string]int // path -> index into fileChange, for coalescing

	userQueryCap  int
	fileChangeCap int
	periodicCap   int

	highStreak int
}

func newQueue() *queue {
	return &queue{
		fileChangeIx:  make(map[string]int),
		userQueryCap:  DefaultUserQueryCapacity,
		fileChangeCap: DefaultFileChangeCapacity,
		periodicCap:   DefaultPeriodicScanCapacity,
	}
}

// push enqueues t under its priority's back-pressure policy.
func (q *queue) push(t *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch t.Priority {
	case PriorityUserQuery:
		if len(q.userQuery) >= q.userQueryCap {
			return chunkerr.Contract("ERR_TASK_QUEUE_FULL", "user_query queue is full").
				WithDetail("capacity", strconv.Itoa(q.userQueryCap))
		}
		q.userQuery = append(q.userQuery, t)

	case PriorityFileChange:
		if idx, ok := q.fileChangeIx[t.Path]; ok && t.Path != "" {
			q.fileChange[idx] = t
			return nil
		}
		if len(q.fileChange) >= q.fileChangeCap {
			return nil // overflow on a genuinely new path: drop it
		}
		if t.Path != "" {
			q.fileChangeIx[t.Path] = len(q.fileChange)
		}
		q.fileChange = append(q.fileChange, t)

	case PriorityPeriodicScan:
		if len(q.periodic) >= q.periodicCap {
			return nil // overflow: drop the new entry
		}
		q.periodic = append(q.periodic, t)
	}
	return nil
}

// pop draws the next task per the priority order, applying starvation
// avoidance: after starvationThreshold consecutive user_query draws,
// the next draw is forced to come from file_change (falling back to
// periodic_scan) once, resetting the streak.
func (q *queue) pop() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.highStreak >= starvationThreshold {
		if t, ok := q.popFileChangeLocked(); ok {
			q.highStreak = 0
			return t, true
		}
		if t, ok := q.popPeriodicLocked(); ok {
			q.highStreak = 0
			return t, true
		}
	}

	if t, ok := q.popUserQueryLocked(); ok {
		q.highStreak++
		return t, true
	}
	q.highStreak = 0
	if t, ok := q.popFileChangeLocked(); ok {
		return t, true
	}
	return q.popPeriodicLocked()
}

func (q *queue) popUserQueryLocked() (*Task, bool) {
	if len(q.userQuery) == 0 {
		return nil, false
	}
	t := q.userQuery[0]
	q.userQuery = q.userQuery[1:]
	return t, true
}

func (q *queue) popFileChangeLocked() (*Task, bool) {
	if len(q.fileChange) == 0 {
		return nil, false
	}
	t := q.fileChange[0]
	q.fileChange = q.fileChange[1:]
	if t.Path != "" {
		delete(q.fileChangeIx, t.Path)
	}
	for p, idx := range q.fileChangeIx {
		q.fileChangeIx[p] = idx - 1
	}
	return t, true
}

func (q *queue) popPeriodicLocked() (*Task, bool) {
	if len(q.periodic) == 0 {
		return nil, false
	}
	t := q.periodic[0]
	q.periodic = q.periodic[1:]
	return t, true
}

func (q *queue) lengths() (userQuery, fileChange, periodic int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.userQuery), len(q.fileChange), len(q.periodic)
}
