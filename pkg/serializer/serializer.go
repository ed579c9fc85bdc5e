// Package serializer guarantees that events for a single task are
// appended one at a time, in a strictly increasing task_seq, even when
// multiple goroutines try to append for the same task concurrently.
package serializer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/octoagent/gateway/pkg/gatewayerr"
	"github.com/octoagent/gateway/pkg/taskmodel"
)

// MaxSeqRetries bounds how many times a single append retries after
// losing a task_seq race before giving up.
const MaxSeqRetries = 3

// EventBuilder constructs an event once a task_seq has been assigned. It
// is called again on each retry, so it must not assume its first seq wins.
type EventBuilder func(seq int64) taskmodel.Event

// seqStore is the subset of *store.Store the serializer needs.
type seqStore interface {
	NextTaskSeq(ctx context.Context, taskID string) (int64, error)
	CommitProgress(ctx context.Context, ev taskmodel.Event) error
	CommitTransition(ctx context.Context, ev taskmodel.Event, newStatus, expectedStatus taskmodel.TaskStatus) error
}

// Serializer holds one mutex per active task, handing out the next
// task_seq under that mutex's protection and retrying on loss of the race
// against a concurrent writer for the same task.
type Serializer struct {
	store seqStore
	log   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds a Serializer over store.
func New(store seqStore, log *slog.Logger) *Serializer {
	if log == nil {
		log = slog.Default()
	}
	return &Serializer{store: store, log: log, locks: make(map[string]*sync.Mutex)}
}

func (s *Serializer) lockFor(taskID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[taskID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[taskID] = lock
	}
	return lock
}

// release drops taskID's entry from the table once its task has reached a
// terminal state, so the table does not grow without bound. It is a
// no-op if the lock is currently held — that can only happen if a caller
// is still mid-append for a task it's also trying to release, which
// would be a caller bug.
func (s *Serializer) release(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lock, ok := s.locks[taskID]; ok && lock.TryLock() {
		lock.Unlock()
		delete(s.locks, taskID)
	}
}

// AppendOnly assigns the next task_seq for taskID and commits the event
// build builds, retrying up to MaxSeqRetries times if a concurrent writer
// wins the race for that seq first.
func (s *Serializer) AppendOnly(ctx context.Context, taskID string, build EventBuilder) (taskmodel.Event, error) {
	lock := s.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()

	var lastErr error
	for attempt := 1; attempt <= MaxSeqRetries; attempt++ {
		seq, err := s.store.NextTaskSeq(ctx, taskID)
		if err != nil {
			return taskmodel.Event{}, err
		}
		ev := build(seq)
		if err := s.store.CommitProgress(ctx, ev); err != nil {
			if gatewayerr.IsSequenceConflict(err) && attempt < MaxSeqRetries {
				s.log.Warn("task_seq conflict, retrying", "task_id", taskID, "attempt", attempt)
				lastErr = err
				continue
			}
			return taskmodel.Event{}, err
		}
		return ev, nil
	}
	return taskmodel.Event{}, fmt.Errorf("append event for task %s: exhausted retries: %w", taskID, lastErr)
}

// AppendAndTransition is AppendOnly's counterpart for events that also
// move the task to a new status. On success, if newStatus is terminal the
// task's lock entry is released immediately so the table does not carry
// an entry for a task that can never be written to again.
func (s *Serializer) AppendAndTransition(ctx context.Context, taskID string, newStatus, expectedStatus taskmodel.TaskStatus, build EventBuilder) (taskmodel.Event, error) {
	lock := s.lockFor(taskID)
	lock.Lock()

	var lastErr error
	for attempt := 1; attempt <= MaxSeqRetries; attempt++ {
		seq, err := s.store.NextTaskSeq(ctx, taskID)
		if err != nil {
			lock.Unlock()
			return taskmodel.Event{}, err
		}
		ev := build(seq)
		if err := s.store.CommitTransition(ctx, ev, newStatus, expectedStatus); err != nil {
			if gatewayerr.IsSequenceConflict(err) && attempt < MaxSeqRetries {
				s.log.Warn("task_seq conflict, retrying", "task_id", taskID, "attempt", attempt)
				lastErr = err
				continue
			}
			lock.Unlock()
			return taskmodel.Event{}, err
		}
		lock.Unlock()
		if taskmodel.IsTerminal(newStatus) {
			s.release(taskID)
		}
		return ev, nil
	}
	lock.Unlock()
	return taskmodel.Event{}, fmt.Errorf("append transition for task %s: exhausted retries: %w", taskID, lastErr)
}
