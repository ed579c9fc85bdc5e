package taskservice

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octoagent/gateway/pkg/gatewayerr"
	"github.com/octoagent/gateway/pkg/serializer"
	"github.com/octoagent/gateway/pkg/taskmodel"
)

type fakeStore struct {
	mu          sync.Mutex
	byIdem      map[string]string
	tasks       map[string]*taskmodel.Task
	events      map[string][]taskmodel.Event
	nextSeq     map[string]int64
	failCommit  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byIdem:  map[string]string{},
		tasks:   map[string]*taskmodel.Task{},
		events:  map[string][]taskmodel.Event{},
		nextSeq: map[string]int64{},
	}
}

func (f *fakeStore) FindByIdempotency(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byIdem[key]
	return id, ok, nil
}

func (f *fakeStore) CommitInitial(_ context.Context, task taskmodel.Task, events []taskmodel.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCommit != nil {
		return f.failCommit
	}
	t := task
	f.tasks[task.ID] = &t
	f.events[task.ID] = append(f.events[task.ID], events...)
	for _, ev := range events {
		if ev.Causality.IdempotencyKey != "" {
			f.byIdem[ev.Causality.IdempotencyKey] = task.ID
		}
	}
	return nil
}

func (f *fakeStore) GetTask(_ context.Context, taskID string) (*taskmodel.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok {
		return nil, gatewayerr.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) ListTasks(_ context.Context, status *taskmodel.TaskStatus) ([]taskmodel.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []taskmodel.Task
	for _, t := range f.tasks {
		if status == nil || t.Status == *status {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeStore) EventsFor(_ context.Context, taskID string) ([]taskmodel.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[taskID], nil
}

func (f *fakeStore) ListArtifactsForTask(_ context.Context, _ string) ([]taskmodel.Artifact, error) {
	return nil, nil
}

func (f *fakeStore) NextTaskSeq(_ context.Context, taskID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSeq[taskID]++
	return f.nextSeq[taskID], nil
}

func (f *fakeStore) CommitProgress(_ context.Context, ev taskmodel.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[ev.TaskID] = append(f.events[ev.TaskID], ev)
	return nil
}

func (f *fakeStore) CommitTransition(_ context.Context, ev taskmodel.Event, newStatus, expectedStatus taskmodel.TaskStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task := f.tasks[ev.TaskID]
	if task.Status != expectedStatus {
		return &gatewayerr.StatusConflictError{TaskID: ev.TaskID}
	}
	task.Status = newStatus
	f.events[ev.TaskID] = append(f.events[ev.TaskID], ev)
	return nil
}

type fakeHub struct {
	mu     sync.Mutex
	events []taskmodel.Event
}

func (h *fakeHub) Broadcast(_ string, ev taskmodel.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

type fakeProcessor struct {
	mu    sync.Mutex
	calls int
}

func (p *fakeProcessor) Process(_ context.Context, _ string, _ string, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
}

func TestCreateTask_NewIdempotencyKey(t *testing.T) {
	store := newFakeStore()
	hub := &fakeHub{}
	svc := New(store, serializer.New(store, nil), hub, nil, nil, nil)

	taskID, created, err := svc.CreateTask(context.Background(), taskmodel.NormalizedMessage{
		Channel: "web", ThreadID: "t1", SenderID: "u1", Text: "hello there", IdempotencyKey: "key-1",
	}, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, taskID)

	task, err := store.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, taskmodel.StatusCreated, task.Status)
	assert.Len(t, hub.events, 2)
}

func TestCreateTask_ReusedIdempotencyKeyReturnsExisting(t *testing.T) {
	store := newFakeStore()
	svc := New(store, serializer.New(store, nil), &fakeHub{}, nil, nil, nil)

	id1, created1, err := svc.CreateTask(context.Background(), taskmodel.NormalizedMessage{
		Text: "a", IdempotencyKey: "same-key",
	}, "")
	require.NoError(t, err)
	require.True(t, created1)

	id2, created2, err := svc.CreateTask(context.Background(), taskmodel.NormalizedMessage{
		Text: "b", IdempotencyKey: "same-key",
	}, "")
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, id1, id2)
}

func TestCreateTask_TitleTruncatedTo100Runes(t *testing.T) {
	store := newFakeStore()
	svc := New(store, serializer.New(store, nil), &fakeHub{}, nil, nil, nil)

	longText := ""
	for i := 0; i < 150; i++ {
		longText += "x"
	}
	taskID, _, err := svc.CreateTask(context.Background(), taskmodel.NormalizedMessage{
		Text: longText, IdempotencyKey: "k",
	}, "")
	require.NoError(t, err)

	task, err := store.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Len(t, task.Title, titleMaxRunes)
}

func TestCancel_MovesCreatedTaskToCancelled(t *testing.T) {
	store := newFakeStore()
	ser := serializer.New(store, nil)
	hub := &fakeHub{}
	svc := New(store, ser, hub, nil, nil, nil)

	taskID, _, err := svc.CreateTask(context.Background(), taskmodel.NormalizedMessage{
		Text: "hi", IdempotencyKey: "k1",
	}, "")
	require.NoError(t, err)

	task, err := svc.Cancel(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, taskmodel.StatusCancelled, task.Status)
}

func TestCancel_AlreadyTerminalReturnsError(t *testing.T) {
	store := newFakeStore()
	store.tasks["t1"] = &taskmodel.Task{ID: "t1", Status: taskmodel.StatusSucceeded}
	svc := New(store, serializer.New(store, nil), &fakeHub{}, nil, nil, nil)

	_, err := svc.Cancel(context.Background(), "t1")
	assert.ErrorIs(t, err, gatewayerr.ErrAlreadyTerminal)
}

func TestCancel_UnknownTaskReturnsNotFound(t *testing.T) {
	store := newFakeStore()
	svc := New(store, serializer.New(store, nil), &fakeHub{}, nil, nil, nil)

	_, err := svc.Cancel(context.Background(), "ghost")
	assert.ErrorIs(t, err, gatewayerr.ErrNotFound)
}

func TestGetTaskDetail_ReturnsEventsAndArtifacts(t *testing.T) {
	store := newFakeStore()
	svc := New(store, serializer.New(store, nil), &fakeHub{}, nil, nil, nil)

	taskID, _, err := svc.CreateTask(context.Background(), taskmodel.NormalizedMessage{
		Text: "hi", IdempotencyKey: "k1",
	}, "")
	require.NoError(t, err)

	detail, err := svc.GetTaskDetail(context.Background(), taskID)
	require.NoError(t, err)
	assert.Len(t, detail.Events, 2)
}

func TestListTasks_FiltersByStatus(t *testing.T) {
	store := newFakeStore()
	store.tasks["t1"] = &taskmodel.Task{ID: "t1", Status: taskmodel.StatusCreated}
	store.tasks["t2"] = &taskmodel.Task{ID: "t2", Status: taskmodel.StatusSucceeded}
	svc := New(store, serializer.New(store, nil), &fakeHub{}, nil, nil, nil)

	status := taskmodel.StatusSucceeded
	tasks, err := svc.ListTasks(context.Background(), &status)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "t2", tasks[0].ID)
}
