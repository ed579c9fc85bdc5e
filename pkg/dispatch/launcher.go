// Package dispatch launches one goroutine per task to run its LM call in
// the background, bounded to a fixed concurrency ceiling, and tracks
// cancellation and in-flight task state for the lifetime of the process.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
)

// Job is the work a Launcher runs per task. ctx is never cancelled by
// Launcher.Cancel once the job has started: an in-flight LM call runs to
// completion and its result is discarded via a STATUS_CONFLICT on the
// next state transition, rather than being aborted mid-flight. Cancel
// only takes effect while the job is still queued behind the concurrency
// limit, before job ever runs.
type Job func(ctx context.Context, taskID string)

// Launcher runs jobs for distinct tasks concurrently, up to maxConcurrent
// at a time; additional jobs queue on the semaphore until a slot frees.
// Unlike the teacher's worker pool, there is no claim loop against a
// shared queue table — a task is dispatched exactly once, directly by
// whatever created it, so no polling or lease expiry is needed.
type Launcher struct {
	sem chan struct{}
	log *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Launcher that runs at most maxConcurrent jobs at once.
func New(maxConcurrent int, log *slog.Logger) *Launcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Launcher{
		sem:     make(chan struct{}, maxConcurrent),
		log:     log,
		cancels: make(map[string]context.CancelFunc),
		stopCh:  make(chan struct{}),
	}
}

// Launch starts job for taskID in a new goroutine once a concurrency slot
// is available. The task is registered for cancellation immediately
// (before the slot is acquired) so Cancel works even on a job still
// queued behind the concurrency limit. Cancel only ever aborts that wait:
// the context job itself receives is detached from cancellation, so a job
// already past the queue is never interrupted mid-flight (spec: in-flight
// LM calls and artifact persistence run to completion; cancellation is
// observed only via the next state transition's STATUS_CONFLICT).
func (l *Launcher) Launch(parent context.Context, taskID string, job Job) {
	acceptCtx, acceptCancel := context.WithCancel(parent)
	jobCtx := context.WithoutCancel(parent)

	l.mu.Lock()
	l.cancels[taskID] = acceptCancel
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.unregister(taskID)
		defer acceptCancel()

		select {
		case l.sem <- struct{}{}:
			defer func() { <-l.sem }()
		case <-acceptCtx.Done():
			return
		}

		defer func() {
			if r := recover(); r != nil {
				l.log.Error("dispatch job panicked", "task_id", taskID, "panic", r)
			}
		}()
		job(jobCtx, taskID)
	}()
}

func (l *Launcher) unregister(taskID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cancels, taskID)
}

// Cancel cancels a running or queued job for taskID. Returns true if a
// job was found to cancel.
func (l *Launcher) Cancel(taskID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	cancel, ok := l.cancels[taskID]
	if !ok {
		return false
	}
	cancel()
	return true
}

// ActiveCount returns how many jobs are currently registered (running or
// queued for a slot).
func (l *Launcher) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.cancels)
}

// Wait blocks until every launched job has returned. Intended for
// graceful shutdown: cancel the parent context passed to Launch calls,
// then Wait for them to unwind.
func (l *Launcher) Wait() {
	l.wg.Wait()
}
