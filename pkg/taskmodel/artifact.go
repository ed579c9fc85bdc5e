package taskmodel

import "time"

// PartType classifies an ArtifactPart's content.
type PartType string

const (
	PartText PartType = "text"
	PartFile PartType = "file"
)

// ArtifactPart is one A2A-style content part of an artifact. Exactly one
// of Content/URI is populated depending on whether the part is stored
// inline or spilled to the filesystem.
type ArtifactPart struct {
	Type    PartType `json:"type"`
	Mime    string   `json:"mime,omitempty"`
	Content *string  `json:"content,omitempty"`
	URI     *string  `json:"uri,omitempty"`
}

// Artifact is a content-addressed output produced while processing a task
// (currently: the LM response text).
type Artifact struct {
	ID          string         `json:"artifact_id"`
	TaskID      string         `json:"task_id"`
	Ts          time.Time      `json:"ts"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parts       []ArtifactPart `json:"parts"`
	StorageRef  string         `json:"storage_ref,omitempty"`
	Size        int64          `json:"size"`
	SHA256      string         `json:"sha256"`
	Version     int            `json:"version"`
}
