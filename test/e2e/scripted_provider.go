package e2e

import (
	"context"
	"sync"

	"github.com/octoagent/gateway/pkg/fallback"
)

// ScriptedProvider implements fallback.Provider with controllable,
// swappable behavior: fail until told to recover, or block until
// released, so tests can drive fallback and cancellation scenarios
// deterministically instead of racing a real LM proxy.
type ScriptedProvider struct {
	mu      sync.Mutex
	err     error
	content string
	blockCh chan struct{}
	calls   int
}

// NewScriptedProvider builds a provider that succeeds immediately with a
// fixed response.
func NewScriptedProvider() *ScriptedProvider {
	return &ScriptedProvider{content: "scripted response"}
}

// Fail makes every subsequent call return err instead of succeeding.
func (p *ScriptedProvider) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Recover clears a previously configured failure, making subsequent
// calls succeed again.
func (p *ScriptedProvider) Recover() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = nil
}

// BlockUntil makes the next call hang until ch is closed, modeling a slow
// primary a cancel can race against.
func (p *ScriptedProvider) BlockUntil(ch chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blockCh = ch
}

// Calls returns how many times Complete has been invoked so far.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Complete implements fallback.Provider.
func (p *ScriptedProvider) Complete(ctx context.Context, messages []fallback.Message, modelAlias string) (fallback.ModelCallResult, error) {
	p.mu.Lock()
	p.calls++
	blockCh := p.blockCh
	callErr := p.err
	content := p.content
	p.mu.Unlock()

	// Only blockCh releases a blocked call: an in-flight LM call is never
	// aborted by a task cancellation (see pkg/dispatch.Job), so ctx must
	// not be able to unblock this select either.
	if blockCh != nil {
		<-blockCh
	}

	if callErr != nil {
		return fallback.ModelCallResult{}, callErr
	}

	return fallback.ModelCallResult{
		Content:    content,
		ModelAlias: modelAlias,
		ModelName:  "scripted",
		Provider:   "scripted",
	}, nil
}
