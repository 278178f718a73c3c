// Package gate implements the Serial Execution Gate (§4.2): every
// storage operation runs on exactly one dedicated goroutine, the "DB
// thread". The store connection is constructed inside that goroutine
// and never leaves it; callers submit closures and receive a
// materialized result, never a connection, cursor, or transaction
// handle.
package gate

import (
	"context"
	"sync"

	"github.com/chunkhound/chunkhound/internal/chunkerr"
	"github.com/chunkhound/chunkhound/internal/store"
)

type gateKey struct{}

// Gate owns a store.Store and funnels every call onto one goroutine.
// The zero value is not usable; construct with New.
type Gate struct {
	newStore func() store.Store
	store    store.Store
	connect  sync.Once
	connErr  error

	submit    chan task
	closed    chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

type task struct {
	ctx    context.Context
	fn     func(ctx context.Context, s store.Store) (any, error)
	result chan taskResult
}

type taskResult struct {
	value any
	err   error
}

// New starts the DB thread. newStore is called exactly once, on that
// thread, the first time a task is submitted — this is what makes
// "the connection is created inside the thread" hold even though the
// factory is handed in from elsewhere.
func New(newStore func() store.Store) *Gate {
	g := &Gate{
		newStore: newStore,
		submit:   make(chan task),
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go g.run()
	return g
}

func (g *Gate) run() {
	defer close(g.done)
	for {
		select {
		case t := <-g.submit:
			g.connect.Do(func() {
				g.store = g.newStore()
				g.connErr = g.store.Connect(t.ctx)
			})
			if g.connErr != nil {
				t.result <- taskResult{err: g.connErr}
				continue
			}
			innerCtx := context.WithValue(t.ctx, gateKey{}, true)
			v, err := t.fn(innerCtx, g.store)
			t.result <- taskResult{value: v, err: err}
		case <-g.closed:
			if g.store != nil {
				_ = g.store.Disconnect(context.Background())
			}
			return
		}
	}
}

// Shutdown stops the DB thread and disconnects the store. It blocks
// until the thread has drained any in-flight task and exited.
func (g *Gate) Shutdown(ctx context.Context) error {
	g.closeOnce.Do(func() { close(g.closed) })
	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit runs fn on the DB thread and returns its materialized
// result. It is not reentrant: a call made from inside a Submit'd fn
// (detected via a context marker rather than goroutine identity,
// since Go gives no portable way to read the latter) fails fast
// instead of deadlocking against the single-goroutine executor.
func Submit[T any](ctx context.Context, g *Gate, fn func(ctx context.Context, s store.Store) (T, error)) (T, error) {
	var zero T
	if ctx.Value(gateKey{}) != nil {
		return zero, chunkerr.Internal("ERR_GATE_REENTRANT", "gate is not reentrant: called from inside a submitted task", nil)
	}

	resultCh := make(chan taskResult, 1)
	wrapped := func(ctx context.Context, s store.Store) (any, error) {
		return fn(ctx, s)
	}
	t := task{ctx: ctx, fn: wrapped, result: resultCh}

	select {
	case g.submit <- t:
	case <-g.closed:
		return zero, chunkerr.Internal("ERR_GATE_CLOSED", "gate is shut down", nil)
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case r := <-resultCh:
		if r.err != nil {
			return zero, r.err
		}
		v, _ := r.value.(T)
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Do is Submit for operations that only return an error, matching the
// "thin shim" shape most C1 methods take.
func Do(ctx context.Context, g *Gate, fn func(ctx context.Context, s store.Store) error) error {
	_, err := Submit(ctx, g, func(ctx context.Context, s store.Store) (struct{}, error) {
		return struct{}{}, fn(ctx, s)
	})
	return err
}
