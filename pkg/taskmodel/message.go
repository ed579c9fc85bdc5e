package taskmodel

import "time"

// Attachment is a file reference attached to an inbound message.
type Attachment struct {
	ID         string `json:"id"`
	Mime       string `json:"mime"`
	Filename   string `json:"filename,omitempty"`
	Size       int64  `json:"size,omitempty"`
	StorageRef string `json:"storage_ref,omitempty"`
}

// NormalizedMessage is the channel-agnostic shape every inbound message is
// converted to before it reaches task creation. M0 only populates the
// "web" channel, but the shape itself is channel-agnostic by design.
type NormalizedMessage struct {
	Channel        string       `json:"channel"`
	ThreadID       string       `json:"thread_id"`
	ScopeID        string       `json:"scope_id,omitempty"`
	SenderID       string       `json:"sender_id"`
	SenderName     string       `json:"sender_name,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
	Text           string       `json:"text"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	IdempotencyKey string       `json:"idempotency_key"`
}
