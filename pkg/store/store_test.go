package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octoagent/gateway/pkg/gatewayerr"
	"github.com/octoagent/gateway/pkg/taskmodel"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), filepath.Join(dir, "gateway.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTask(id string) taskmodel.Task {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return taskmodel.Task{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    taskmodel.StatusCreated,
		Title:     "do the thing",
		ThreadID:  "default",
		ScopeID:   "scope-1",
		Requester: taskmodel.Requester{Channel: "cli", SenderID: "alice"},
		RiskLevel: taskmodel.RiskLow,
	}
}

func newEvent(taskID string, seq int64, idemKey string) taskmodel.Event {
	return taskmodel.Event{
		ID:            "01ARZ3NDEKTSV4RRFFQ69G5FA" + string(rune('A'+int(seq))),
		TaskID:        taskID,
		TaskSeq:       seq,
		Ts:            time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Type:          taskmodel.EventTaskCreated,
		SchemaVersion: 1,
		Actor:         taskmodel.ActorUser,
		Payload:       []byte(`{}`),
		Causality:     taskmodel.Causality{IdempotencyKey: idemKey},
	}
}

func TestCommitInitial_AndGetTask(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task := newTask("task-1")
	ev := newEvent("task-1", 1, "idem-1")
	require.NoError(t, s.CommitInitial(ctx, task, []taskmodel.Event{ev}))

	got, err := s.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, taskmodel.StatusCreated, got.Status)
	assert.Equal(t, "do the thing", got.Title)

	events, err := s.EventsFor(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].TaskSeq)
}

func TestCommitInitial_IdempotencyConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CommitInitial(ctx, newTask("task-1"), []taskmodel.Event{newEvent("task-1", 1, "dup-key")}))

	err := s.CommitInitial(ctx, newTask("task-2"), []taskmodel.Event{newEvent("task-2", 1, "dup-key")})
	require.Error(t, err)
	var conflict *gatewayerr.IdempotencyConflictError
	assert.ErrorAs(t, err, &conflict)

	_, err = s.GetTask(ctx, "task-2")
	assert.ErrorIs(t, err, gatewayerr.ErrNotFound, "failed commit must not leave a partial task row")
}

func TestCommitTransition_StatusConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CommitInitial(ctx, newTask("task-1"), []taskmodel.Event{newEvent("task-1", 1, "idem-1")}))

	transition := newEvent("task-1", 2, "")
	transition.Type = taskmodel.EventStateTransition
	err := s.CommitTransition(ctx, transition, taskmodel.StatusSucceeded, taskmodel.StatusRunning)

	var conflict *gatewayerr.StatusConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "CREATED", conflict.Actual)

	events, _ := s.EventsFor(ctx, "task-1")
	assert.Len(t, events, 1, "a rejected transition must not leave its event committed")
}

func TestCommitTransition_Success(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CommitInitial(ctx, newTask("task-1"), []taskmodel.Event{newEvent("task-1", 1, "idem-1")}))

	running := newEvent("task-1", 2, "")
	require.NoError(t, s.CommitTransition(ctx, running, taskmodel.StatusRunning, taskmodel.StatusCreated))

	got, err := s.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, taskmodel.StatusRunning, got.Status)
	assert.Equal(t, running.ID, got.LatestEventID)
}

func TestEventsAfter_OrderedByEventID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CommitInitial(ctx, newTask("task-1"), []taskmodel.Event{newEvent("task-1", 1, "idem-1")}))
	require.NoError(t, s.CommitProgress(ctx, newEvent("task-1", 2, "")))
	require.NoError(t, s.CommitProgress(ctx, newEvent("task-1", 3, "")))

	all, err := s.EventsFor(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, all, 3)

	after, err := s.EventsAfter(ctx, "task-1", all[0].ID)
	require.NoError(t, err)
	assert.Len(t, after, 2)
}

func TestListTasks_FilteredByStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CommitInitial(ctx, newTask("task-1"), []taskmodel.Event{newEvent("task-1", 1, "k1")}))
	t2 := newTask("task-2")
	t2.Status = taskmodel.StatusRunning
	require.NoError(t, s.CommitInitial(ctx, t2, []taskmodel.Event{newEvent("task-2", 1, "k2")}))

	running := taskmodel.StatusRunning
	tasks, err := s.ListTasks(ctx, &running)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "task-2", tasks[0].ID)
}

func TestFindByIdempotency(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CommitInitial(ctx, newTask("task-1"), []taskmodel.Event{newEvent("task-1", 1, "idem-1")}))

	taskID, found, err := s.FindByIdempotency(ctx, "idem-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "task-1", taskID)

	_, found, err = s.FindByIdempotency(ctx, "no-such-key")
	require.NoError(t, err)
	assert.False(t, found)
}
