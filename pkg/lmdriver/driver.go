// Package lmdriver runs a task from CREATED through the LM call to a
// terminal status, in the background, off the request goroutine that
// created the task.
package lmdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/octoagent/gateway/pkg/fallback"
	"github.com/octoagent/gateway/pkg/gatewayerr"
	"github.com/octoagent/gateway/pkg/ids"
	"github.com/octoagent/gateway/pkg/masking"
	"github.com/octoagent/gateway/pkg/serializer"
	"github.com/octoagent/gateway/pkg/taskmodel"
)

// responseSummaryMaxBytes is the size above which a MODEL_CALL_COMPLETED
// payload truncates its response_summary and points readers at the full
// content via its artifact instead. Chosen to match this system's
// existing response-size ceiling for inline event payloads.
const responseSummaryMaxBytes = 8192

// Store is the subset of *store.Store the driver needs directly (beyond
// what it reaches through Serializer).
type Store interface {
	GetTask(ctx context.Context, taskID string) (*taskmodel.Task, error)
	ForceStatus(ctx context.Context, taskID string, newStatus, expectedStatus taskmodel.TaskStatus) error
}

// ArtifactStore is the subset of *artifacts.Store the driver needs.
type ArtifactStore interface {
	Put(ctx context.Context, taskID, name, description string, content []byte, ts time.Time) (*taskmodel.Artifact, error)
}

// Broadcaster is the subset of *ssehub.Hub the driver needs.
type Broadcaster interface {
	Broadcast(taskID string, ev taskmodel.Event)
}

// LMCaller is the subset of *fallback.Manager the driver needs.
type LMCaller interface {
	CallWithFallback(ctx context.Context, messages []fallback.Message, modelAlias string) (fallback.ModelCallResult, error)
}

// Driver processes a single task's LM call end to end.
type Driver struct {
	store      Store
	serializer *serializer.Serializer
	artifacts  ArtifactStore
	hub        Broadcaster
	caller     LMCaller
	sanitizer  *masking.Sanitizer
	log        *slog.Logger
}

// New builds a Driver.
func New(store Store, ser *serializer.Serializer, artifacts ArtifactStore, hub Broadcaster, caller LMCaller, log *slog.Logger) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{
		store:      store,
		serializer: ser,
		artifacts:  artifacts,
		hub:        hub,
		caller:     caller,
		sanitizer:  masking.NewSanitizer(),
		log:        log,
	}
}

// Process runs the full CREATED -> RUNNING -> SUCCEEDED|FAILED lifecycle
// for one task: transition to RUNNING, record MODEL_CALL_STARTED, call
// the LM (with fallback), persist its response as an artifact, record
// MODEL_CALL_COMPLETED and ARTIFACT_CREATED, then transition to
// SUCCEEDED. Any failure along the way is recorded as MODEL_CALL_FAILED
// and the task is moved to FAILED.
func (d *Driver) Process(ctx context.Context, taskID, userText, modelAlias string) {
	traceID := "trace-" + taskID
	if modelAlias == "" {
		modelAlias = "main"
	}

	if err := d.transition(ctx, taskID, taskmodel.StatusCreated, taskmodel.StatusRunning, traceID, ""); err != nil {
		if gatewayerr.IsStatusConflict(err) {
			d.log.Info("task already left CREATED, skipping processing", "task_id", taskID)
			return
		}
		d.log.Error("failed to transition task to running", "task_id", taskID, "error", err)
		return
	}

	requestSummary := fmt.Sprintf("User asks: %s", truncateRunes(userText, 100))
	startedEv, err := d.appendOnly(ctx, taskID, traceID, taskmodel.EventModelCallStarted, taskmodel.ModelCallStartedPayload{
		ModelAlias:     modelAlias,
		RequestSummary: requestSummary,
	})
	if err != nil {
		d.log.Error("failed to record model call started", "task_id", taskID, "error", err)
		d.handleFailure(ctx, taskID, traceID, modelAlias, err)
		return
	}
	d.broadcast(taskID, startedEv)

	result, err := d.caller.CallWithFallback(ctx, []fallback.Message{{Role: "user", Content: userText}}, modelAlias)
	if err != nil {
		d.handleFailure(ctx, taskID, traceID, modelAlias, err)
		return
	}

	artifact, err := d.artifacts.Put(ctx, taskID, "llm-response", "LM response content", []byte(result.Content), time.Now())
	if err != nil {
		d.handleFailure(ctx, taskID, traceID, modelAlias, err)
		return
	}

	completedEv, err := d.writeModelCallCompleted(ctx, taskID, traceID, result, artifact.ID)
	if err != nil {
		d.handleFailure(ctx, taskID, traceID, modelAlias, err)
		return
	}
	d.broadcast(taskID, completedEv)

	artifactEv, err := d.appendOnly(ctx, taskID, traceID, taskmodel.EventArtifactCreated, taskmodel.ArtifactCreatedPayload{
		ArtifactID: artifact.ID,
		Name:       artifact.Name,
		Size:       artifact.Size,
		PartCount:  len(artifact.Parts),
	})
	if err != nil {
		d.handleFailure(ctx, taskID, traceID, modelAlias, err)
		return
	}
	d.broadcast(taskID, artifactEv)

	if err := d.transition(ctx, taskID, taskmodel.StatusRunning, taskmodel.StatusSucceeded, traceID, ""); err != nil {
		if gatewayerr.IsStatusConflict(err) {
			d.log.Info("task left RUNNING before completion could be recorded", "task_id", taskID)
			return
		}
		d.log.Error("failed to transition task to succeeded", "task_id", taskID, "error", err)
	}
}

func (d *Driver) writeModelCallCompleted(ctx context.Context, taskID, traceID string, result fallback.ModelCallResult, artifactID string) (taskmodel.Event, error) {
	summary := result.Content
	if len(summary) > responseSummaryMaxBytes {
		summary = truncateUTF8Bytes(summary, responseSummaryMaxBytes) + "... [truncated, see artifact]"
	}

	return d.appendOnly(ctx, taskID, traceID, taskmodel.EventModelCallComplete, taskmodel.ModelCallCompletedPayload{
		ModelAlias:      result.ModelAlias,
		ModelName:       result.ModelName,
		Provider:        result.Provider,
		ResponseSummary: summary,
		DurationMs:      int64(result.DurationMS),
		TokenUsage: taskmodel.TokenUsage{
			PromptTokens:     result.TokenUsage.PromptTokens,
			CompletionTokens: result.TokenUsage.CompletionTokens,
			TotalTokens:      result.TokenUsage.TotalTokens,
		},
		CostUSD:         result.CostUSD,
		CostUnavailable: result.CostUnavailable,
		IsFallback:      result.IsFallback,
		ArtifactRef:     artifactID,
	})
}

// handleFailure records MODEL_CALL_FAILED and moves the task to FAILED.
// If even that fails, it falls back to forcing the task's status straight
// to FAILED without an event, so a task can never be stuck in RUNNING
// forever just because the failure path itself failed.
func (d *Driver) handleFailure(ctx context.Context, taskID, traceID, modelAlias string, callErr error) {
	d.log.Error("lm processing failed", "task_id", taskID, "error_type", fmt.Sprintf("%T", callErr))

	failedEv, err := d.appendOnly(ctx, taskID, traceID, taskmodel.EventModelCallFailed, taskmodel.ModelCallFailedPayload{
		ModelAlias:   modelAlias,
		ErrorType:    fmt.Sprintf("%T", callErr),
		ErrorMessage: d.sanitizer.Sanitize(callErr.Error()),
	})
	if err != nil {
		d.log.Error("failed to record failure event", "task_id", taskID, "error", err)
		d.forceMarkFailed(ctx, taskID)
		return
	}
	d.broadcast(taskID, failedEv)

	if err := d.transition(ctx, taskID, taskmodel.StatusRunning, taskmodel.StatusFailed, traceID, ""); err != nil {
		if gatewayerr.IsStatusConflict(err) {
			d.log.Warn("skipped failure transition due to state conflict", "task_id", taskID)
			return
		}
		d.log.Error("failed to transition task to failed", "task_id", taskID, "error", err)
	}
}

// forceMarkFailed is the last-resort path: push the task straight to
// FAILED with no accompanying event, used only when even the failure
// event itself could not be committed.
func (d *Driver) forceMarkFailed(ctx context.Context, taskID string) {
	task, err := d.store.GetTask(ctx, taskID)
	if err != nil || taskmodel.IsTerminal(task.Status) {
		return
	}
	if !taskmodel.ValidateTransition(task.Status, taskmodel.StatusFailed) {
		return
	}

	if err := d.store.ForceStatus(ctx, taskID, taskmodel.StatusFailed, task.Status); err != nil {
		d.log.Error("force-fail also failed, task may be stuck", "task_id", taskID, "error", err)
		return
	}
	d.log.Warn("task force-failed without event", "task_id", taskID)
}

func (d *Driver) transition(ctx context.Context, taskID string, from, to taskmodel.TaskStatus, traceID, reason string) error {
	_, err := d.serializer.AppendAndTransition(ctx, taskID, to, from, func(seq int64) taskmodel.Event {
		return taskmodel.Event{
			ID:            ids.New(),
			TaskID:        taskID,
			TaskSeq:       seq,
			Ts:            time.Now(),
			Type:          taskmodel.EventStateTransition,
			SchemaVersion: 1,
			Actor:         taskmodel.ActorSystem,
			Payload:       mustJSON(taskmodel.StateTransitionPayload{FromStatus: from, ToStatus: to, Reason: reason}),
			TraceID:       traceID,
		}
	})
	return err
}

func (d *Driver) appendOnly(ctx context.Context, taskID, traceID string, evType taskmodel.EventType, payload any) (taskmodel.Event, error) {
	return d.serializer.AppendOnly(ctx, taskID, func(seq int64) taskmodel.Event {
		return taskmodel.Event{
			ID:            ids.New(),
			TaskID:        taskID,
			TaskSeq:       seq,
			Ts:            time.Now(),
			Type:          evType,
			SchemaVersion: 1,
			Actor:         taskmodel.ActorSystem,
			Payload:       mustJSON(payload),
			TraceID:       traceID,
		}
	})
}

func (d *Driver) broadcast(taskID string, ev taskmodel.Event) {
	if d.hub != nil {
		d.hub.Broadcast(taskID, ev)
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal event payload: %v", err))
	}
	return b
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// truncateUTF8Bytes cuts s to at most n bytes, backing off to the start of
// whatever rune straddles byte n and dropping it whole rather than
// splitting it — matching the response_summary boundary this system was
// ported from (response_summary.encode("utf-8")[:n].decode("utf-8",
// errors="ignore")).
func truncateUTF8Bytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for i := 0; i < utf8.UTFMax && cut > 0 && !utf8.RuneStart(s[cut]); i++ {
		cut--
	}
	return s[:cut]
}
