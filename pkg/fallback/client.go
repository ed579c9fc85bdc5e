package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/octoagent/gateway/pkg/gatewayerr"
)

// healthCheckTimeout bounds the liveness probe; a health check that takes
// longer than this is treated as down.
const healthCheckTimeout = 5 * time.Second

// ProxyClient calls an LM proxy's OpenAI-compatible chat completion
// endpoint over HTTP. The proxy key authenticates this process to the
// proxy; it is never the underlying model provider's own API key, which
// lives only inside the proxy's own environment.
type ProxyClient struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	cost    *costTracker
	log     *slog.Logger
}

// NewProxyClient builds a ProxyClient against baseURL.
func NewProxyClient(baseURL, apiKey string, timeout time.Duration, log *slog.Logger) *ProxyClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &ProxyClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
		cost:    newCostTracker(log),
		log:     log,
	}
}

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

// Complete implements Provider by POSTing to {baseURL}/chat/completions.
func (c *ProxyClient) Complete(ctx context.Context, messages []Message, modelAlias string) (ModelCallResult, error) {
	start := time.Now()

	body, err := json.Marshal(chatCompletionRequest{
		Model:       modelAlias,
		Messages:    messages,
		Temperature: 0.7,
	})
	if err != nil {
		return ModelCallResult{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ModelCallResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		duration := time.Since(start)
		c.log.Error("proxy call failed", "model_alias", modelAlias, "error", err, "duration_ms", duration.Milliseconds())
		if isConnectionError(err) {
			return ModelCallResult{}, fmt.Errorf("%w: %s: %v", gatewayerr.ErrProxyUnreachable, c.baseURL, err)
		}
		return ModelCallResult{}, &gatewayerr.ProviderError{Message: fmt.Sprintf("lm call failed: %v", err), Recoverable: true}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return ModelCallResult{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return ModelCallResult{}, fmt.Errorf("%w: %s returned %d", gatewayerr.ErrProxyUnreachable, c.baseURL, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return ModelCallResult{}, &gatewayerr.ProviderError{
			Message:     fmt.Sprintf("proxy returned %d: %s", resp.StatusCode, string(payload)),
			Recoverable: true,
		}
	}

	var parsed proxyResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return ModelCallResult{}, &gatewayerr.ProviderError{Message: fmt.Sprintf("decode proxy response: %v", err), Recoverable: false}
	}

	content := ""
	if len(parsed.Choices) > 0 {
		content = parsed.Choices[0].Message.Content
	}

	costUSD, costUnavailable := c.cost.calculateCost(parsed)
	modelName, provider := extractModelInfo(parsed)

	result := ModelCallResult{
		Content:         content,
		ModelAlias:      modelAlias,
		ModelName:       modelName,
		Provider:        provider,
		DurationMS:      int(time.Since(start).Milliseconds()),
		TokenUsage:      parseUsage(parsed),
		CostUSD:         costUSD,
		CostUnavailable: costUnavailable,
	}

	c.log.Info("lm call completed", "model_alias", modelAlias, "model_name", modelName,
		"provider", provider, "duration_ms", result.DurationMS, "cost_usd", costUSD)

	return result, nil
}

// HealthCheck reports whether the proxy answers its liveness endpoint.
// It never returns an error: any failure just means "not healthy".
func (c *ProxyClient) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health/liveliness", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("health check failed", "url", c.baseURL, "error", err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// isConnectionError distinguishes "the proxy is unreachable" (network,
// DNS, timeout) from "the proxy answered with an error" — only the
// former should trigger fallback activation.
func isConnectionError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
