// Package ssehub fans out events to SSE subscribers for a task in-process.
// It mirrors the teacher's ConnectionManager (pkg/events) shape — a
// map[key]set<subscriber> guarded by a short-lived lock, subscriber
// pointers snapshotted before sending so a slow subscriber can't stall
// register/unregister — with the websocket transport swapped for bounded
// per-subscriber channels that an HTTP handler drains into
// text/event-stream bytes.
package ssehub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/octoagent/gateway/pkg/taskmodel"
)

// DefaultQueueSize is the default bound on a subscriber's pending-event
// queue before it is dropped for being too slow to keep up.
const DefaultQueueSize = 100

// HeartbeatInterval is how long Subscription.Recv waits for a new event
// before reporting a heartbeat tick, keeping idle SSE connections alive
// through intermediate proxies. A var, not a const, so tests can shrink it.
var HeartbeatInterval = 15 * time.Second

// Hub broadcasts events to subscribers grouped by task ID.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Subscription]struct{}
	queueSize   int
	log         *slog.Logger
}

// New builds a Hub whose subscriber queues hold up to queueSize events. A
// queueSize <= 0 uses DefaultQueueSize.
func New(queueSize int, log *slog.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		subscribers: make(map[string]map[*Subscription]struct{}),
		queueSize:   queueSize,
		log:         log,
	}
}

// Subscription is a single subscriber's view onto a task's live events.
// Events() delivers events in broadcast order; if the subscriber falls
// behind the queue fills up and the subscriber is dropped — Dropped()
// closes to signal the handler to end the stream rather than deliver a
// gap silently.
type Subscription struct {
	id      string
	taskID  string
	events  chan taskmodel.Event
	dropped chan struct{}
	once    sync.Once
}

// ID is a correlation id for this subscription, unique per connection, used
// only in logging to tell concurrent subscribers to the same task apart.
func (s *Subscription) ID() string { return s.id }

// Events returns the channel new events arrive on.
func (s *Subscription) Events() <-chan taskmodel.Event { return s.events }

// Dropped closes when the subscriber has been evicted for falling behind.
func (s *Subscription) Dropped() <-chan struct{} { return s.dropped }

func (s *Subscription) drop() {
	s.once.Do(func() { close(s.dropped) })
}

// Recv waits for the next event, a heartbeat tick, or context
// cancellation/drop, whichever comes first. ok is false only when the
// subscription was dropped or the context ended.
func (s *Subscription) Recv(done <-chan struct{}) (ev taskmodel.Event, heartbeat bool, ok bool) {
	timer := time.NewTimer(HeartbeatInterval)
	defer timer.Stop()

	select {
	case ev, open := <-s.events:
		if !open {
			return taskmodel.Event{}, false, false
		}
		return ev, false, true
	case <-s.dropped:
		return taskmodel.Event{}, false, false
	case <-done:
		return taskmodel.Event{}, false, false
	case <-timer.C:
		return taskmodel.Event{}, true, true
	}
}

// Subscribe registers a new subscription for taskID. Callers should
// subscribe before querying replay history (register-before-replay
// ordering): this guarantees no event published after the history query
// starts can be missed, at the cost of a subscriber possibly seeing an
// event both in history and live — callers discard live events with an
// event_id at or before the last history event_id they already sent.
func (h *Hub) Subscribe(taskID string) *Subscription {
	sub := &Subscription{
		id:      uuid.NewString(),
		taskID:  taskID,
		events:  make(chan taskmodel.Event, h.queueSize),
		dropped: make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[taskID] == nil {
		h.subscribers[taskID] = make(map[*Subscription]struct{})
	}
	h.subscribers[taskID][sub] = struct{}{}
	return sub
}

// Unsubscribe removes sub from taskID's subscriber set. Safe to call
// more than once and after the subscription has already been dropped.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subscribers[sub.taskID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subscribers, sub.taskID)
	}
}

// Broadcast delivers ev to every current subscriber of taskID. Delivery
// is non-blocking: a subscriber whose queue is full is dropped rather
// than stalling the broadcaster for every other subscriber.
func (h *Hub) Broadcast(taskID string, ev taskmodel.Event) {
	h.mu.RLock()
	set := h.subscribers[taskID]
	subs := make([]*Subscription, 0, len(set))
	for sub := range set {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	var full []*Subscription
	for _, sub := range subs {
		select {
		case sub.events <- ev:
		default:
			full = append(full, sub)
		}
	}

	for _, sub := range full {
		h.log.Warn("subscriber queue full, dropping slow subscriber", "task_id", taskID, "subscription_id", sub.id)
		sub.drop()
		h.Unsubscribe(sub)
	}
}

// SubscriberCount reports how many subscriptions are currently active
// for taskID.
func (h *Hub) SubscriberCount(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[taskID])
}
