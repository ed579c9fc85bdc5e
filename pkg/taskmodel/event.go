package taskmodel

import (
	"encoding/json"
	"time"
)

// EventType tags the shape of an event's payload. New types must be added
// additively; existing ones never change meaning (§3 "additive evolution").
type EventType string

const (
	EventTaskCreated       EventType = "TASK_CREATED"
	EventUserMessage       EventType = "USER_MESSAGE"
	EventModelCallStarted  EventType = "MODEL_CALL_STARTED"
	EventModelCallComplete EventType = "MODEL_CALL_COMPLETED"
	EventModelCallFailed   EventType = "MODEL_CALL_FAILED"
	EventStateTransition   EventType = "STATE_TRANSITION"
	EventArtifactCreated   EventType = "ARTIFACT_CREATED"
	EventError             EventType = "ERROR"
)

// ActorType identifies who/what caused an event.
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
	ActorWorker ActorType = "worker"
)

// Causality links an event to the request that triggered it.
type Causality struct {
	ParentEventID  string `json:"parent_event_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Event is one row of the append-only log. Payload is already-marshaled
// JSON so the store layer never needs to know about payload subtypes.
// It's typed json.RawMessage rather than []byte so that marshaling an
// Event (for the task detail endpoint or elsewhere) embeds the payload as
// a JSON object instead of base64-encoding it.
type Event struct {
	ID            string          `json:"event_id"`
	TaskID        string          `json:"task_id"`
	TaskSeq       int64           `json:"task_seq"`
	Ts            time.Time       `json:"ts"`
	Type          EventType       `json:"type"`
	SchemaVersion int             `json:"schema_version"`
	Actor         ActorType       `json:"actor"`
	Payload       json.RawMessage `json:"payload"`
	TraceID       string          `json:"trace_id"`
	Causality     Causality       `json:"causality"`
}
