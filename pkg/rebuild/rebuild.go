// Package rebuild reconstructs the task projection table from scratch by
// replaying the event log, for recovery after a projection-corrupting bug
// or a manual schema fix.
package rebuild

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/octoagent/gateway/pkg/taskmodel"
)

// Store is the subset of *store.Store the rebuilder needs.
type Store interface {
	AllEventsOrdered(ctx context.Context) ([]taskmodel.Event, error)
	RebuildProjection(ctx context.Context, tasks []taskmodel.Task) error
}

// Rebuilder replays the event log into a fresh task projection.
type Rebuilder struct {
	store Store
	log   *slog.Logger
}

// New builds a Rebuilder.
func New(store Store, log *slog.Logger) *Rebuilder {
	if log == nil {
		log = slog.Default()
	}
	return &Rebuilder{store: store, log: log}
}

// Run reads every event ordered by (task_id, task_seq), applies them in
// memory to derive each task's current projection, then replaces the
// tasks table with the result in one transaction. Returns the number of
// events replayed.
func (r *Rebuilder) Run(ctx context.Context) (int, error) {
	start := time.Now()

	events, err := r.store.AllEventsOrdered(ctx)
	if err != nil {
		return 0, err
	}
	r.log.Info("projection rebuild started", "event_count", len(events))

	tasks := make(map[string]*taskmodel.Task)
	for _, ev := range events {
		ApplyEvent(tasks, ev)
	}

	out := make([]taskmodel.Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, *t)
	}

	if err := r.store.RebuildProjection(ctx, out); err != nil {
		return 0, err
	}

	r.log.Info("projection rebuild completed",
		"event_count", len(events), "task_count", len(out),
		"elapsed_ms", time.Since(start).Milliseconds())
	return len(events), nil
}

// ApplyEvent folds a single event into the in-memory task map, mutating
// it in place. TASK_CREATED builds a fresh Task from its payload;
// STATE_TRANSITION updates status; every other event type just advances
// updated_at and latest_event_id. An event for a task not yet created
// (only possible if the log itself is corrupt) is silently skipped —
// there is nothing sound to build a projection row from.
func ApplyEvent(tasks map[string]*taskmodel.Task, ev taskmodel.Event) {
	switch ev.Type {
	case taskmodel.EventTaskCreated:
		var payload taskmodel.TaskCreatedPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return
		}
		tasks[ev.TaskID] = &taskmodel.Task{
			ID:        ev.TaskID,
			CreatedAt: ev.Ts,
			UpdatedAt: ev.Ts,
			Status:    taskmodel.StatusCreated,
			Title:     payload.Title,
			ThreadID:  payload.ThreadID,
			ScopeID:   payload.ScopeID,
			Requester: taskmodel.Requester{
				Channel:  payload.Channel,
				SenderID: payload.SenderID,
			},
			RiskLevel:     taskmodel.RiskLow,
			LatestEventID: ev.ID,
		}

	case taskmodel.EventStateTransition:
		task, ok := tasks[ev.TaskID]
		if !ok {
			return
		}
		var payload taskmodel.StateTransitionPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return
		}
		task.Status = payload.ToStatus
		task.UpdatedAt = ev.Ts
		task.LatestEventID = ev.ID

	default:
		task, ok := tasks[ev.TaskID]
		if !ok {
			return
		}
		task.UpdatedAt = ev.Ts
		task.LatestEventID = ev.ID
	}
}
