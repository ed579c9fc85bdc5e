package fallback

import (
	"context"
	"strings"
	"time"
)

// EchoAdapter answers every call by echoing the last user message back.
// It never fails, which is exactly why FallbackManager uses it as the
// last resort after the primary proxy is exhausted.
type EchoAdapter struct{}

// Complete implements Provider.
func (EchoAdapter) Complete(ctx context.Context, messages []Message, modelAlias string) (ModelCallResult, error) {
	start := time.Now()

	userContent := lastUserContent(messages)
	select {
	case <-time.After(10 * time.Millisecond):
	case <-ctx.Done():
		return ModelCallResult{}, ctx.Err()
	}

	content := "Echo: " + userContent
	promptTokens := len(strings.Fields(userContent))
	completionTokens := len(strings.Fields(content))

	return ModelCallResult{
		Content:    content,
		ModelAlias: modelAlias,
		ModelName:  "echo",
		Provider:   "echo",
		DurationMS: int(time.Since(start).Milliseconds()),
		TokenUsage: TokenUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
		CostUSD:         0,
		CostUnavailable: false,
		IsFallback:      false,
	}, nil
}

func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	if len(messages) > 0 {
		return messages[len(messages)-1].Content
	}
	return "(empty)"
}
