package fallback

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	result ModelCallResult
	err    error
}

func (s stubProvider) Complete(_ context.Context, _ []Message, _ string) (ModelCallResult, error) {
	return s.result, s.err
}

func TestManager_PrimarySuccess_NoFallback(t *testing.T) {
	primary := stubProvider{result: ModelCallResult{Content: "hi", ModelName: "gpt-4o-mini"}}
	fb := stubProvider{result: ModelCallResult{Content: "Echo: hi"}}
	m := NewManager(primary, fb, nil)

	result, err := m.CallWithFallback(context.Background(), []Message{{Role: "user", Content: "hi"}}, "main")
	require.NoError(t, err)
	assert.False(t, result.IsFallback)
	assert.Equal(t, "hi", result.Content)
}

func TestManager_PrimaryFails_FallsBackAndMarks(t *testing.T) {
	primary := stubProvider{err: errors.New("proxy down")}
	fb := stubProvider{result: ModelCallResult{Content: "Echo: hi"}}
	m := NewManager(primary, fb, nil)

	result, err := m.CallWithFallback(context.Background(), []Message{{Role: "user", Content: "hi"}}, "main")
	require.NoError(t, err)
	assert.True(t, result.IsFallback)
	assert.Contains(t, result.FallbackReason, "proxy down")
	assert.Equal(t, "Echo: hi", result.Content)
}

func TestManager_BothFail_ReturnsProviderError(t *testing.T) {
	primary := stubProvider{err: errors.New("proxy down")}
	fb := stubProvider{err: errors.New("echo broke too")}
	m := NewManager(primary, fb, nil)

	_, err := m.CallWithFallback(context.Background(), []Message{{Role: "user", Content: "hi"}}, "main")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "proxy down")
	assert.Contains(t, err.Error(), "echo broke too")
}

func TestManager_NoFallbackConfigured_ReturnsError(t *testing.T) {
	primary := stubProvider{err: errors.New("proxy down")}
	m := NewManager(primary, nil, nil)

	_, err := m.CallWithFallback(context.Background(), []Message{{Role: "user", Content: "hi"}}, "main")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no fallback configured")
}

func TestAliasRegistry_ResolveKnownAlias(t *testing.T) {
	r := NewAliasRegistry(nil, nil)
	assert.Equal(t, "cheap", r.Resolve("router"))
	assert.Equal(t, "main", r.Resolve("planner"))
	assert.Equal(t, "fallback", r.Resolve("fallback"))
}

func TestAliasRegistry_ResolveKnownRuntimeGroupPassthrough(t *testing.T) {
	r := NewAliasRegistry(nil, nil)
	assert.Equal(t, "main", r.Resolve("main"))
}

func TestAliasRegistry_UnknownAliasFallsBackToMain(t *testing.T) {
	r := NewAliasRegistry(nil, nil)
	assert.Equal(t, "main", r.Resolve("nonexistent"))
}

func TestEchoAdapter_EchoesLastUserMessage(t *testing.T) {
	adapter := EchoAdapter{}
	result, err := adapter.Complete(context.Background(), []Message{
		{Role: "system", Content: "you are a bot"},
		{Role: "user", Content: "ping"},
	}, "echo")
	require.NoError(t, err)
	assert.Equal(t, "Echo: ping", result.Content)
	assert.Equal(t, "echo", result.Provider)
	assert.False(t, result.IsFallback)
}

func TestCostTracker_RateTableHit(t *testing.T) {
	c := newCostTracker(nil)
	cost, unavailable := c.calculateCost(proxyResponse{
		Model: "gpt-4o-mini",
		Usage: proxyUsage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000},
	})
	assert.False(t, unavailable)
	assert.InDelta(t, 0.75, cost, 0.0001)
}

func TestCostTracker_FallsBackToResponseCost(t *testing.T) {
	c := newCostTracker(nil)
	responseCost := 0.0042
	cost, unavailable := c.calculateCost(proxyResponse{Model: "unknown-model", ResponseCost: &responseCost})
	assert.False(t, unavailable)
	assert.Equal(t, responseCost, cost)
}

func TestCostTracker_BothChannelsFail_ReturnsUnavailable(t *testing.T) {
	c := newCostTracker(nil)
	cost, unavailable := c.calculateCost(proxyResponse{Model: "unknown-model"})
	assert.True(t, unavailable)
	assert.Equal(t, 0.0, cost)
}
