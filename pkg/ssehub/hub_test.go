package ssehub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octoagent/gateway/pkg/taskmodel"
)

func TestBroadcast_DeliversToSubscriber(t *testing.T) {
	h := New(10, nil)
	sub := h.Subscribe("task-1")
	defer h.Unsubscribe(sub)

	h.Broadcast("task-1", taskmodel.Event{ID: "ev-1", Type: taskmodel.EventArtifactCreated})

	select {
	case ev := <-sub.Events():
		assert.Equal(t, "ev-1", ev.ID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBroadcast_IgnoresOtherTasks(t *testing.T) {
	h := New(10, nil)
	sub := h.Subscribe("task-1")
	defer h.Unsubscribe(sub)

	h.Broadcast("task-2", taskmodel.Event{ID: "ev-1"})

	select {
	case <-sub.Events():
		t.Fatal("should not receive event for a different task")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBroadcast_DropsSlowSubscriberOnFullQueue(t *testing.T) {
	h := New(1, nil)
	sub := h.Subscribe("task-1")

	h.Broadcast("task-1", taskmodel.Event{ID: "ev-1"})
	h.Broadcast("task-1", taskmodel.Event{ID: "ev-2"})

	select {
	case <-sub.Dropped():
	case <-time.After(time.Second):
		t.Fatal("subscriber should have been dropped")
	}
	assert.Equal(t, 0, h.SubscriberCount("task-1"))
}

func TestUnsubscribe_RemovesFromSet(t *testing.T) {
	h := New(10, nil)
	sub := h.Subscribe("task-1")
	require.Equal(t, 1, h.SubscriberCount("task-1"))

	h.Unsubscribe(sub)
	assert.Equal(t, 0, h.SubscriberCount("task-1"))
}

func TestRecv_HeartbeatOnTimeout(t *testing.T) {
	sub := &Subscription{
		taskID:  "task-1",
		events:  make(chan taskmodel.Event),
		dropped: make(chan struct{}),
	}

	orig := HeartbeatInterval
	HeartbeatInterval = 5 * time.Millisecond
	defer func() { HeartbeatInterval = orig }()

	_, heartbeat, ok := sub.Recv(nil)
	assert.True(t, ok)
	assert.True(t, heartbeat)
}

func TestIsTerminalEvent(t *testing.T) {
	payload, err := json.Marshal(taskmodel.StateTransitionPayload{
		FromStatus: taskmodel.StatusRunning,
		ToStatus:   taskmodel.StatusSucceeded,
	})
	require.NoError(t, err)

	ev := taskmodel.Event{Type: taskmodel.EventStateTransition, Payload: payload}
	assert.True(t, IsTerminalEvent(ev))

	payload, err = json.Marshal(taskmodel.StateTransitionPayload{
		FromStatus: taskmodel.StatusCreated,
		ToStatus:   taskmodel.StatusRunning,
	})
	require.NoError(t, err)
	ev = taskmodel.Event{Type: taskmodel.EventStateTransition, Payload: payload}
	assert.False(t, IsTerminalEvent(ev))
}
