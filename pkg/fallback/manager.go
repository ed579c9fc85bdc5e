package fallback

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/octoagent/gateway/pkg/gatewayerr"
)

// Manager calls the primary provider and falls back to a secondary one
// transparently on any error. It keeps no health state between calls —
// every call is a fresh lazy probe of the primary, never a sticky
// "currently degraded" flag — so a primary that recovers is used again
// on the very next call with no explicit recovery step.
type Manager struct {
	primary  Provider
	fallback Provider
	log      *slog.Logger
}

// NewManager builds a Manager. fallback may be nil, meaning a primary
// failure is terminal.
func NewManager(primary, fallback Provider, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{primary: primary, fallback: fallback, log: log}
}

// CallWithFallback tries primary first; on any error it tries fallback
// (if configured) and marks the result IsFallback with the primary's
// error recorded as FallbackReason. If both fail, it returns a
// *gatewayerr.ProviderError describing both failures.
func (m *Manager) CallWithFallback(ctx context.Context, messages []Message, modelAlias string) (ModelCallResult, error) {
	result, primaryErr := m.primary.Complete(ctx, messages, modelAlias)
	if primaryErr == nil {
		return result, nil
	}
	m.log.Warn("primary failed, attempting fallback", "error", primaryErr, "model_alias", modelAlias)

	if m.fallback == nil {
		return ModelCallResult{}, &gatewayerr.ProviderError{
			Message:     fmt.Sprintf("primary call failed and no fallback configured: %v", primaryErr),
			Recoverable: false,
		}
	}

	fallbackResult, fallbackErr := m.fallback.Complete(ctx, messages, modelAlias)
	if fallbackErr != nil {
		m.log.Error("both primary and fallback failed", "primary_error", primaryErr, "fallback_error", fallbackErr)
		return ModelCallResult{}, &gatewayerr.ProviderError{
			Message:     fmt.Sprintf("primary and fallback both failed. primary: %v; fallback: %v", primaryErr, fallbackErr),
			Recoverable: false,
		}
	}

	fallbackResult.IsFallback = true
	fallbackResult.FallbackReason = fmt.Sprintf("primary failed: %v", primaryErr)
	m.log.Info("fallback activated", "fallback_reason", primaryErr, "model_alias", modelAlias)
	return fallbackResult, nil
}
