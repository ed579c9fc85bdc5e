package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLauncher_BoundsConcurrency(t *testing.T) {
	l := New(2, nil)
	var running int32
	var maxSeen int32
	var wg sync.WaitGroup

	for i := 0; i < 6; i++ {
		wg.Add(1)
		taskID := taskIDFor(i)
		l.Launch(context.Background(), taskID, func(ctx context.Context, _ string) {
			defer wg.Done()
			n := atomic.AddInt32(&running, 1)
			for {
				cur := atomic.LoadInt32(&maxSeen)
				if n <= cur || atomic.CompareAndSwapInt32(&maxSeen, cur, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		})
	}
	wg.Wait()
	assert.LessOrEqual(t, int(atomic.LoadInt32(&maxSeen)), 2)
}

func TestLauncher_CancelStopsQueuedJob(t *testing.T) {
	l := New(1, nil)
	holdSlot := make(chan struct{})
	queuedRan := make(chan struct{})

	// Occupy the single concurrency slot so the second job queues.
	l.Launch(context.Background(), "holder", func(ctx context.Context, _ string) {
		<-holdSlot
	})
	time.Sleep(5 * time.Millisecond)

	l.Launch(context.Background(), "task-1", func(ctx context.Context, _ string) {
		close(queuedRan)
	})
	time.Sleep(5 * time.Millisecond)
	assert.True(t, l.Cancel("task-1"))
	close(holdSlot)

	select {
	case <-queuedRan:
		t.Fatal("a job cancelled while still queued must never run")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLauncher_CancelDoesNotAbortRunningJob(t *testing.T) {
	l := New(1, nil)
	started := make(chan struct{})
	finished := make(chan struct{})

	l.Launch(context.Background(), "task-1", func(ctx context.Context, _ string) {
		close(started)
		// A running job's ctx must stay alive across Cancel: an in-flight
		// LM call is never aborted mid-flight.
		select {
		case <-ctx.Done():
			t.Error("job ctx was cancelled while already running")
		case <-time.After(30 * time.Millisecond):
		}
		close(finished)
	})

	<-started
	assert.True(t, l.Cancel("task-1"))

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("running job never completed")
	}
}

func TestLauncher_CancelUnknownTask_ReturnsFalse(t *testing.T) {
	l := New(1, nil)
	assert.False(t, l.Cancel("no-such-task"))
}

func taskIDFor(i int) string {
	return string(rune('a' + i))
}
