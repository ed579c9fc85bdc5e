package taskmodel

// Payload structs for each EventType. Fields are additive-only per §3; a
// consumer reading an older schema_version must tolerate missing fields.

type TaskCreatedPayload struct {
	Title    string `json:"title"`
	ThreadID string `json:"thread_id"`
	ScopeID  string `json:"scope_id"`
	Channel  string `json:"channel"`
	SenderID string `json:"sender_id"`
}

type UserMessagePayload struct {
	TextPreview      string `json:"text_preview"`
	TextLength       int    `json:"text_length"`
	AttachmentCount  int    `json:"attachment_count"`
}

type ModelCallStartedPayload struct {
	ModelAlias      string `json:"model_alias"`
	RequestSummary  string `json:"request_summary"`
	ArtifactRef     string `json:"artifact_ref,omitempty"`
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ModelCallCompletedPayload struct {
	ModelAlias      string     `json:"model_alias"`
	ModelName       string     `json:"model_name"`
	Provider        string     `json:"provider"`
	ResponseSummary string     `json:"response_summary"`
	DurationMs      int64      `json:"duration_ms"`
	TokenUsage      TokenUsage `json:"token_usage"`
	CostUSD         float64    `json:"cost_usd"`
	CostUnavailable bool       `json:"cost_unavailable"`
	IsFallback      bool       `json:"is_fallback"`
	ArtifactRef     string     `json:"artifact_ref,omitempty"`
}

type ModelCallFailedPayload struct {
	ModelAlias   string `json:"model_alias"`
	ModelName    string `json:"model_name"`
	Provider     string `json:"provider"`
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
	DurationMs   int64  `json:"duration_ms"`
	IsFallback   bool   `json:"is_fallback"`
}

type StateTransitionPayload struct {
	FromStatus TaskStatus `json:"from_status"`
	ToStatus   TaskStatus `json:"to_status"`
	Reason     string     `json:"reason,omitempty"`
}

type ArtifactCreatedPayload struct {
	ArtifactID string `json:"artifact_id"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	PartCount  int    `json:"part_count"`
}

type ErrorPayload struct {
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
	Recoverable  bool   `json:"recoverable"`
	RecoveryHint string `json:"recovery_hint,omitempty"`
}
