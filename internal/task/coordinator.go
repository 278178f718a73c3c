package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stats is a point-in-time snapshot of queue depths, surfaced through
// the health_check tool.
type Stats struct {
	UserQueryPending    int
	FileChangePending   int
	PeriodicScanPending int
}

// Coordinator drains a three-priority queue on a single worker
// goroutine, so every submitted task runs strictly one at a time
// regardless of which priority it arrived at (§4.8). Submitters never
// touch the queue directly; Submit and Cancel are the only entry
// points, matching the teacher's stop/done-channel worker shape
// (internal/async/indexer.go) generalized to three priorities.
type Coordinator struct {
	q      *queue
	notify chan struct{}

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu    sync.Mutex
	tasks map[string]*Task
}

// New creates a Coordinator. Call Start to begin draining.
func New() *Coordinator {
	return &Coordinator{
		q:      newQueue(),
		notify: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		tasks:  make(map[string]*Task),
	}
}

// Start begins the single worker goroutine. Cancelling ctx stops the
// worker once its current task (if any) returns.
func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// Submit enqueues fn at the given priority and returns a task ID and a
// cancel function. path is the coalescing key for file_change tasks;
// other priorities never coalesce and only report path in the
// task-failure log. err is non-nil only when
// the priority's back-pressure policy rejects the submission outright
// (currently just user_query at capacity); file_change and
// periodic_scan degrade silently per their own policies and never
// return an error here.
func (c *Coordinator) Submit(ctx context.Context, priority Priority, path string, fn Func) (id string, cancel context.CancelFunc, err error) {
	taskCtx, cancelFn := context.WithCancel(ctx)
	t := &Task{
		ID:        uuid.NewString(),
		Priority:  priority,
		Path:      path,
		Fn:        fn,
		Submitted: time.Now(),
		ctx:       taskCtx,
		cancel:    cancelFn,
	}

	if pushErr := c.q.push(t); pushErr != nil {
		cancelFn()
		return "", nil, pushErr
	}

	c.mu.Lock()
	c.tasks[t.ID] = t
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}

	return t.ID, cancelFn, nil
}

// Cancel cancels a pending or in-flight task by ID. A no-op if id is
// unknown (already completed, or never submitted).
func (c *Coordinator) Cancel(id string) {
	c.mu.Lock()
	t, ok := c.tasks[id]
	c.mu.Unlock()
	if ok && t.cancel != nil {
		t.cancel()
	}
}

// Stats reports current queue depths.
func (c *Coordinator) Stats() Stats {
	uq, fc, ps := c.q.lengths()
	return Stats{UserQueryPending: uq, FileChangePending: fc, PeriodicScanPending: ps}
}

// Stop halts the worker after its current task completes and waits for
// it to exit. Safe to call more than once.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Coordinator) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		for {
			t, ok := c.q.pop()
			if !ok {
				break
			}
			c.execute(t)
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			default:
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-c.notify:
		}
	}
}

func (c *Coordinator) execute(t *Task) {
	defer func() {
		c.mu.Lock()
		delete(c.tasks, t.ID)
		c.mu.Unlock()
	}()
	if t.Fn == nil {
		return
	}
	if err := t.Fn(t.ctx); err != nil {
		slog.Warn("task failed",
			slog.String("task_id", t.ID),
			slog.String("priority", t.Priority.String()),
			slog.String("path", t.Path),
			slog.String("error", err.Error()),
		)
	}
}
