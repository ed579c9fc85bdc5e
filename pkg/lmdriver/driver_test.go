package lmdriver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octoagent/gateway/pkg/fallback"
	"github.com/octoagent/gateway/pkg/gatewayerr"
	"github.com/octoagent/gateway/pkg/serializer"
	"github.com/octoagent/gateway/pkg/taskmodel"
)

type fakeStore struct {
	mu        sync.Mutex
	nextSeq   map[string]int64
	tasks     map[string]*taskmodel.Task
	committed []taskmodel.Event
}

func newFakeStore(status taskmodel.TaskStatus) *fakeStore {
	return &fakeStore{
		nextSeq: map[string]int64{},
		tasks:   map[string]*taskmodel.Task{"task-1": {ID: "task-1", Status: status}},
	}
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
	f.committed = append(f.committed, ev)
	return nil
}

func (f *fakeStore) CommitTransition(_ context.Context, ev taskmodel.Event, newStatus, expectedStatus taskmodel.TaskStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task := f.tasks[ev.TaskID]
	if task.Status != expectedStatus {
		return &gatewayerr.StatusConflictError{TaskID: ev.TaskID, Expected: string(expectedStatus), Actual: string(task.Status)}
	}
	task.Status = newStatus
	f.committed = append(f.committed, ev)
	return nil
}

func (f *fakeStore) GetTask(_ context.Context, taskID string) (*taskmodel.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[taskID], nil
}

func (f *fakeStore) ForceStatus(_ context.Context, taskID string, newStatus, expectedStatus taskmodel.TaskStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task := f.tasks[taskID]
	if task.Status != expectedStatus {
		return &gatewayerr.StatusConflictError{}
	}
	task.Status = newStatus
	return nil
}

func (f *fakeStore) status(taskID string) taskmodel.TaskStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[taskID].Status
}

type fakeArtifacts struct{}

func (fakeArtifacts) Put(_ context.Context, taskID, name, description string, content []byte, _ time.Time) (*taskmodel.Artifact, error) {
	return &taskmodel.Artifact{ID: "artifact-1", TaskID: taskID, Name: name, Size: int64(len(content))}, nil
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

type fakeCaller struct {
	result fallback.ModelCallResult
	err    error
}

func (f fakeCaller) CallWithFallback(_ context.Context, _ []fallback.Message, modelAlias string) (fallback.ModelCallResult, error) {
	return f.result, f.err
}

func TestProcess_HappyPath(t *testing.T) {
	store := newFakeStore(taskmodel.StatusCreated)
	ser := serializer.New(store, nil)
	hub := &fakeHub{}
	caller := fakeCaller{result: fallback.ModelCallResult{Content: "42", ModelName: "gpt-4o-mini"}}
	d := New(store, ser, fakeArtifacts{}, hub, caller, nil)

	d.Process(context.Background(), "task-1", "what is the answer", "main")

	assert.Equal(t, taskmodel.StatusSucceeded, store.status("task-1"))
	require.NotEmpty(t, hub.events)

	var types []taskmodel.EventType
	for _, ev := range hub.events {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, taskmodel.EventModelCallStarted)
	assert.Contains(t, types, taskmodel.EventModelCallComplete)
	assert.Contains(t, types, taskmodel.EventArtifactCreated)
}

func TestProcess_LLMFailure_MarksTaskFailed(t *testing.T) {
	store := newFakeStore(taskmodel.StatusCreated)
	ser := serializer.New(store, nil)
	hub := &fakeHub{}
	caller := fakeCaller{err: errors.New("proxy unreachable")}
	d := New(store, ser, fakeArtifacts{}, hub, caller, nil)

	d.Process(context.Background(), "task-1", "hello", "main")

	assert.Equal(t, taskmodel.StatusFailed, store.status("task-1"))

	var sawFailure bool
	for _, ev := range hub.events {
		if ev.Type == taskmodel.EventModelCallFailed {
			sawFailure = true
		}
	}
	assert.True(t, sawFailure)
}

func TestProcess_SkipsIfTaskAlreadyLeftCreated(t *testing.T) {
	store := newFakeStore(taskmodel.StatusCancelled)
	ser := serializer.New(store, nil)
	hub := &fakeHub{}
	caller := fakeCaller{result: fallback.ModelCallResult{Content: "42"}}
	d := New(store, ser, fakeArtifacts{}, hub, caller, nil)

	d.Process(context.Background(), "task-1", "hello", "main")

	assert.Equal(t, taskmodel.StatusCancelled, store.status("task-1"), "must not override a task that already moved on")
	assert.Empty(t, hub.events)
}

func TestTruncateUTF8Bytes_DropsPartialTrailingRune(t *testing.T) {
	// "世" is 3 bytes (E4 B8 96); place it straddling the cut point so a
	// naive byte slice would split it in half.
	prefix := strings.Repeat("a", 8190)
	content := prefix + "世" + "tail beyond the cutoff"

	truncated := truncateUTF8Bytes(content, responseSummaryMaxBytes)

	assert.Equal(t, prefix, truncated, "the straddling rune must be dropped whole, not split")
	assert.True(t, utf8.ValidString(truncated))
	assert.LessOrEqual(t, len(truncated), responseSummaryMaxBytes)
}

func TestTruncateUTF8Bytes_ExactBoundaryKeepsWholeRune(t *testing.T) {
	content := strings.Repeat("a", 8189) + "世" // rune ends exactly at byte 8192

	truncated := truncateUTF8Bytes(content, responseSummaryMaxBytes)

	assert.Equal(t, content, truncated)
	assert.True(t, utf8.ValidString(truncated))
}

func TestProcess_ResponseSummary_8192BytesNotTruncated(t *testing.T) {
	store := newFakeStore(taskmodel.StatusCreated)
	ser := serializer.New(store, nil)
	hub := &fakeHub{}
	content := strings.Repeat("あ", 2730) + strings.Repeat("a", 8192-2730*3) // exactly 8192 bytes
	require.Len(t, content, responseSummaryMaxBytes)
	caller := fakeCaller{result: fallback.ModelCallResult{Content: content, ModelName: "gpt-4o-mini"}}
	d := New(store, ser, fakeArtifacts{}, hub, caller, nil)

	d.Process(context.Background(), "task-1", "hi", "main")

	payload := findModelCallCompletedPayload(t, hub.events)
	assert.Equal(t, content, payload.ResponseSummary, "exactly 8192 bytes must not be truncated")
}

func TestProcess_ResponseSummary_8193BytesTruncatedOnRuneBoundary(t *testing.T) {
	store := newFakeStore(taskmodel.StatusCreated)
	ser := serializer.New(store, nil)
	hub := &fakeHub{}
	// A 3-byte rune straddles the 8192-byte cutoff, so the whole rune
	// (and anything after it) must be dropped, not half of it kept.
	content := strings.Repeat("a", 8190) + "世"
	require.Len(t, content, responseSummaryMaxBytes+1)
	caller := fakeCaller{result: fallback.ModelCallResult{Content: content, ModelName: "gpt-4o-mini"}}
	d := New(store, ser, fakeArtifacts{}, hub, caller, nil)

	d.Process(context.Background(), "task-1", "hi", "main")

	payload := findModelCallCompletedPayload(t, hub.events)
	assert.True(t, utf8.ValidString(payload.ResponseSummary))
	assert.Equal(t, strings.Repeat("a", 8190)+"... [truncated, see artifact]", payload.ResponseSummary)
}

func findModelCallCompletedPayload(t *testing.T, events []taskmodel.Event) taskmodel.ModelCallCompletedPayload {
	t.Helper()
	for _, ev := range events {
		if ev.Type == taskmodel.EventModelCallComplete {
			var payload taskmodel.ModelCallCompletedPayload
			require.NoError(t, json.Unmarshal(ev.Payload, &payload))
			return payload
		}
	}
	t.Fatal("no MODEL_CALL_COMPLETED event recorded")
	return taskmodel.ModelCallCompletedPayload{}
}

