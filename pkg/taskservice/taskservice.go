// Package taskservice implements message ingress, cancellation, and
// lookup: the synchronous half of a task's lifecycle. The asynchronous
// half — driving a task's LM call to completion — runs in pkg/lmdriver,
// launched here via pkg/dispatch and left to run in the background.
package taskservice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/octoagent/gateway/pkg/dispatch"
	"github.com/octoagent/gateway/pkg/gatewayerr"
	"github.com/octoagent/gateway/pkg/ids"
	"github.com/octoagent/gateway/pkg/serializer"
	"github.com/octoagent/gateway/pkg/taskmodel"
)

// titleMaxRunes bounds how much of a message's text becomes a task's
// title.
const titleMaxRunes = 100

// messagePreviewRunes bounds how much of a message's text is kept inline
// in its USER_MESSAGE event payload.
const messagePreviewRunes = 200

// Store is the subset of *store.Store the task service needs directly
// (beyond what it reaches through Serializer).
type Store interface {
	FindByIdempotency(ctx context.Context, key string) (taskID string, found bool, err error)
	CommitInitial(ctx context.Context, task taskmodel.Task, events []taskmodel.Event) error
	GetTask(ctx context.Context, taskID string) (*taskmodel.Task, error)
	ListTasks(ctx context.Context, status *taskmodel.TaskStatus) ([]taskmodel.Task, error)
	EventsFor(ctx context.Context, taskID string) ([]taskmodel.Event, error)
	ListArtifactsForTask(ctx context.Context, taskID string) ([]taskmodel.Artifact, error)
}

// Broadcaster is the subset of *ssehub.Hub the task service needs.
type Broadcaster interface {
	Broadcast(taskID string, ev taskmodel.Event)
}

// Processor runs a task's LM call to completion in the background. Only
// *lmdriver.Driver implements this in practice.
type Processor interface {
	Process(ctx context.Context, taskID, userText, modelAlias string)
}

// Service orchestrates task creation, cancellation, and lookup.
type Service struct {
	store      Store
	serializer *serializer.Serializer
	hub        Broadcaster
	launcher   *dispatch.Launcher
	processor  Processor
	log        *slog.Logger
}

// New builds a Service.
func New(store Store, ser *serializer.Serializer, hub Broadcaster, launcher *dispatch.Launcher, processor Processor, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:      store,
		serializer: ser,
		hub:        hub,
		launcher:   launcher,
		processor:  processor,
		log:        log,
	}
}

// CreateTask converts an inbound message into a task: checks the
// idempotency key, commits the task row plus its TASK_CREATED and
// USER_MESSAGE events in one transaction, broadcasts both, and launches
// background LM processing. A reused idempotency_key returns the
// existing task_id with created=false rather than erroring.
func (s *Service) CreateTask(ctx context.Context, msg taskmodel.NormalizedMessage, modelAlias string) (taskID string, created bool, err error) {
	if existing, found, err := s.store.FindByIdempotency(ctx, msg.IdempotencyKey); err != nil {
		return "", false, err
	} else if found {
		return existing, false, nil
	}

	now := time.Now()
	taskID = ids.New()
	traceID := "trace-" + taskID
	scopeID := msg.ScopeID
	if scopeID == "" {
		scopeID = fmt.Sprintf("chat:%s:%s", msg.Channel, msg.ThreadID)
	}

	task := taskmodel.Task{
		ID:        taskID,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    taskmodel.StatusCreated,
		Title:     truncateRunes(msg.Text, titleMaxRunes),
		ThreadID:  msg.ThreadID,
		ScopeID:   scopeID,
		Requester: taskmodel.Requester{
			Channel:  msg.Channel,
			SenderID: msg.SenderID,
		},
		RiskLevel: taskmodel.RiskLow,
	}

	createdEv := taskmodel.Event{
		ID:            ids.New(),
		TaskID:        taskID,
		TaskSeq:       1,
		Ts:            now,
		Type:          taskmodel.EventTaskCreated,
		SchemaVersion: 1,
		Actor:         taskmodel.ActorSystem,
		Payload: mustJSON(taskmodel.TaskCreatedPayload{
			Title:    task.Title,
			ThreadID: task.ThreadID,
			ScopeID:  scopeID,
			Channel:  msg.Channel,
			SenderID: msg.SenderID,
		}),
		TraceID:   traceID,
		Causality: taskmodel.Causality{IdempotencyKey: msg.IdempotencyKey},
	}
	task.LatestEventID = createdEv.ID

	userMessageEv := taskmodel.Event{
		ID:            ids.New(),
		TaskID:        taskID,
		TaskSeq:       2,
		Ts:            now,
		Type:          taskmodel.EventUserMessage,
		SchemaVersion: 1,
		Actor:         taskmodel.ActorUser,
		Payload: mustJSON(taskmodel.UserMessagePayload{
			TextPreview:     truncateRunes(msg.Text, messagePreviewRunes),
			TextLength:      len([]rune(msg.Text)),
			AttachmentCount: len(msg.Attachments),
		}),
		TraceID: traceID,
	}

	if err := s.store.CommitInitial(ctx, task, []taskmodel.Event{createdEv, userMessageEv}); err != nil {
		if gatewayerr.IsIdempotencyConflict(err) {
			// A concurrent request with the same idempotency_key won the
			// race; re-read and hand back its task_id instead of erroring.
			if existing, found, ferr := s.store.FindByIdempotency(ctx, msg.IdempotencyKey); ferr == nil && found {
				return existing, false, nil
			}
		}
		return "", false, err
	}

	s.broadcast(taskID, createdEv)
	s.broadcast(taskID, userMessageEv)

	if s.launcher != nil && s.processor != nil {
		s.launcher.Launch(context.Background(), taskID, func(ctx context.Context, taskID string) {
			s.processor.Process(ctx, taskID, msg.Text, modelAlias)
		})
	}

	return taskID, true, nil
}

// Cancel moves a task to CANCELLED if it is not already terminal.
// Returns gatewayerr.ErrNotFound if the task does not exist, and
// gatewayerr.ErrAlreadyTerminal if it has already reached a terminal
// status.
func (s *Service) Cancel(ctx context.Context, taskID string) (*taskmodel.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if taskmodel.IsTerminal(task.Status) {
		return nil, gatewayerr.ErrAlreadyTerminal
	}
	if !taskmodel.ValidateTransition(task.Status, taskmodel.StatusCancelled) {
		return nil, gatewayerr.ErrAlreadyTerminal
	}

	traceID := "trace-" + taskID
	fromStatus := task.Status
	ev, err := s.serializer.AppendAndTransition(ctx, taskID, taskmodel.StatusCancelled, fromStatus, func(seq int64) taskmodel.Event {
		return taskmodel.Event{
			ID:            ids.New(),
			TaskID:        taskID,
			TaskSeq:       seq,
			Ts:            time.Now(),
			Type:          taskmodel.EventStateTransition,
			SchemaVersion: 1,
			Actor:         taskmodel.ActorUser,
			Payload: mustJSON(taskmodel.StateTransitionPayload{
				FromStatus: fromStatus,
				ToStatus:   taskmodel.StatusCancelled,
				Reason:     "cancelled by user",
			}),
			TraceID: traceID,
		}
	})
	if err != nil {
		return nil, err
	}
	s.broadcast(taskID, ev)

	if s.launcher != nil {
		s.launcher.Cancel(taskID)
	}

	return s.store.GetTask(ctx, taskID)
}

// GetTask returns a task's current projection without its event or
// artifact history.
func (s *Service) GetTask(ctx context.Context, taskID string) (*taskmodel.Task, error) {
	return s.store.GetTask(ctx, taskID)
}

// TaskDetail is a task plus its full event and artifact history, as
// returned by the task detail endpoint.
type TaskDetail struct {
	Task      taskmodel.Task       `json:"task"`
	Events    []taskmodel.Event    `json:"events"`
	Artifacts []taskmodel.Artifact `json:"artifacts"`
}

// GetTaskDetail returns a task's projection, its events ordered by
// task_seq, and its artifacts ordered by ts.
func (s *Service) GetTaskDetail(ctx context.Context, taskID string) (*TaskDetail, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	events, err := s.store.EventsFor(ctx, taskID)
	if err != nil {
		return nil, err
	}
	artifacts, err := s.store.ListArtifactsForTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return &TaskDetail{Task: *task, Events: events, Artifacts: artifacts}, nil
}

// ListTasks returns tasks ordered by created_at descending, optionally
// filtered to a single status.
func (s *Service) ListTasks(ctx context.Context, status *taskmodel.TaskStatus) ([]taskmodel.Task, error) {
	return s.store.ListTasks(ctx, status)
}

func (s *Service) broadcast(taskID string, ev taskmodel.Event) {
	if s.hub != nil {
		s.hub.Broadcast(taskID, ev)
	}
}
