package fallback

import "log/slog"

// proxyUsage is the usage block of an OpenAI-compatible chat completion
// response, the shape LiteLLM-style proxies return.
type proxyUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// proxyResponse is the subset of an OpenAI-compatible chat completion
// response this package reads. ResponseCost is the proxy's own
// cost-accounting extension field, used as the fallback channel when the
// primary rate-table computation below can't price the model.
type proxyResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage        proxyUsage `json:"usage"`
	Provider     string     `json:"provider"`
	ResponseCost *float64   `json:"response_cost"`
}

// costTracker computes USD cost, token usage, and model/provider
// attribution from a proxy response. Every method is infallible: a
// pricing miss degrades to CostUnavailable rather than failing the call,
// since cost accounting must never be the reason an LM call fails.
type costTracker struct {
	rates map[string]modelRate
	log   *slog.Logger
}

type modelRate struct {
	promptPerMillion     float64
	completionPerMillion float64
}

// defaultRates is a small built-in price table for common models. Models
// absent from it fall through to the response's own response_cost field.
func defaultRates() map[string]modelRate {
	return map[string]modelRate{
		"gpt-4o":      {promptPerMillion: 2.50, completionPerMillion: 10.00},
		"gpt-4o-mini": {promptPerMillion: 0.15, completionPerMillion: 0.60},
	}
}

func newCostTracker(log *slog.Logger) *costTracker {
	if log == nil {
		log = slog.Default()
	}
	return &costTracker{rates: defaultRates(), log: log}
}

// calculateCost prices a response using the rate table, falling back to
// the response's own response_cost field, and finally to (0, unavailable)
// if neither channel can price it.
func (c *costTracker) calculateCost(resp proxyResponse) (costUSD float64, unavailable bool) {
	if rate, ok := c.rates[resp.Model]; ok {
		promptCost := float64(resp.Usage.PromptTokens) / 1_000_000 * rate.promptPerMillion
		completionCost := float64(resp.Usage.CompletionTokens) / 1_000_000 * rate.completionPerMillion
		return promptCost + completionCost, false
	}

	if resp.ResponseCost != nil && *resp.ResponseCost >= 0 {
		return *resp.ResponseCost, false
	}

	c.log.Warn("cost unavailable", "model", resp.Model)
	return 0.0, true
}

func parseUsage(resp proxyResponse) TokenUsage {
	return TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
}

func extractModelInfo(resp proxyResponse) (modelName, provider string) {
	return resp.Model, resp.Provider
}
