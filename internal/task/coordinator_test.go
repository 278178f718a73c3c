package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestCoordinator_RunsSubmittedTask(t *testing.T) {
	// Given: a started coordinator
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	// When: a task is submitted
	var ran bool
	var mu sync.Mutex
	_, _, err := c.Submit(ctx, PriorityUserQuery, "", func(ctx context.Context) error {
		mu.Lock()
		ran = true
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	// Then: it eventually executes
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ran
	})
}

func TestCoordinator_RunsOneTaskAtATime(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	var mu sync.Mutex
	var concurrent, maxConcurrent int
	work := func(ctx context.Context) error {
		mu.Lock()
		concurrent++
		if concurrent > maxConcurrent {
			maxConcurrent = concurrent
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		concurrent--
		mu.Unlock()
		return nil
	}

	for i := 0; i < 5; i++ {
		_, _, err := c.Submit(ctx, PriorityFileChange, "", work)
		require.NoError(t, err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return c.Stats().FileChangePending == 0
	})
	time.Sleep(30 * time.Millisecond) // let the last task finish draining

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxConcurrent)
}

func TestCoordinator_CancelStopsAPendingTask(t *testing.T) {
	// Given: a coordinator whose worker is busy with a long task, and a
	// second task queued behind it
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	block := make(chan struct{})
	_, _, err := c.Submit(ctx, PriorityUserQuery, "", func(ctx context.Context) error {
		<-block
		return nil
	})
	require.NoError(t, err)

	var observed error
	var mu sync.Mutex
	id, _, err := c.Submit(ctx, PriorityUserQuery, "", func(taskCtx context.Context) error {
		<-taskCtx.Done()
		mu.Lock()
		observed = taskCtx.Err()
		mu.Unlock()
		return taskCtx.Err()
	})
	require.NoError(t, err)

	// When: the second task is cancelled before it ever starts
	c.Cancel(id)
	close(block)

	// Then: it observes its own cancellation once run
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return observed != nil
	})
	mu.Lock()
	defer mu.Unlock()
	assert.ErrorIs(t, observed, context.Canceled)
}

func TestCoordinator_SubmitRejectsWhenUserQueryQueueFull(t *testing.T) {
	// Given: a coordinator with no worker draining it, and a user_query
	// capacity of one
	c := New()
	c.q.userQueryCap = 1
	ctx := context.Background()

	_, _, err := c.Submit(ctx, PriorityUserQuery, "", func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	// Then: a second submission is rejected synchronously
	_, _, err = c.Submit(ctx, PriorityUserQuery, "", func(ctx context.Context) error { return nil })
	assert.Error(t, err)
}

func TestCoordinator_FailedTaskDoesNotStopTheWorker(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	_, _, err := c.Submit(ctx, PriorityPeriodicScan, "", func(ctx context.Context) error {
		return errors.New("boom")
	})
	require.NoError(t, err)

	var ran bool
	var mu sync.Mutex
	_, _, err = c.Submit(ctx, PriorityPeriodicScan, "", func(ctx context.Context) error {
		mu.Lock()
		ran = true
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ran
	})
}

func TestCoordinator_StopWaitsForWorkerExit(t *testing.T) {
	c := New()
	ctx := context.Background()
	c.Start(ctx)

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}
