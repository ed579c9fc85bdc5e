// Package fallback resolves semantic model aliases to runtime groups,
// calls the primary LM proxy with a transparent fallback to an echo
// adapter, and tracks per-call token and cost accounting.
package fallback

import "context"

// TokenUsage mirrors the OpenAI/LiteLLM-standard usage field names so
// this package's numbers line up with whatever the proxy itself reports.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ModelCallResult is the one result type every provider in this package
// returns, whether the call landed on the primary proxy or the echo
// fallback.
type ModelCallResult struct {
	Content string `json:"content"`

	ModelAlias string `json:"model_alias"`
	ModelName  string `json:"model_name"`
	Provider   string `json:"provider"`

	DurationMS int `json:"duration_ms"`

	TokenUsage TokenUsage `json:"token_usage"`

	CostUSD         float64 `json:"cost_usd"`
	CostUnavailable bool    `json:"cost_unavailable"`
	IsFallback      bool    `json:"is_fallback"`
	FallbackReason  string  `json:"fallback_reason"`
}

// Message is one chat turn in the request sent to a Provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is anything that can answer a chat completion request: the
// HTTP proxy client and the echo adapter both implement it.
type Provider interface {
	Complete(ctx context.Context, messages []Message, modelAlias string) (ModelCallResult, error)
}
