package fallback

import (
	"log/slog"
	"sort"
	"sync"
)

// knownRuntimeGroups are the Proxy-side model_name groups understood
// independent of any alias configuration.
var knownRuntimeGroups = map[string]bool{"cheap": true, "main": true, "fallback": true}

// AliasConfig maps one semantic alias (e.g. "planner") to a cost
// attribution category and a runtime group. At this stage category and
// runtime group are aligned one-to-one; they are kept as separate fields
// because cost attribution is expected to diverge from routing group
// before this system leaves MVP.
type AliasConfig struct {
	Name         string
	Description  string
	Category     string
	RuntimeGroup string
}

func defaultAliases() []AliasConfig {
	return []AliasConfig{
		{Name: "router", Category: "cheap", RuntimeGroup: "cheap", Description: "lightweight routing decisions"},
		{Name: "extractor", Category: "cheap", RuntimeGroup: "cheap", Description: "lightweight information extraction"},
		{Name: "summarizer", Category: "cheap", RuntimeGroup: "cheap", Description: "lightweight summarization"},
		{Name: "planner", Category: "main", RuntimeGroup: "main", Description: "primary planning/reasoning"},
		{Name: "executor", Category: "main", RuntimeGroup: "main", Description: "primary execution/generation"},
		{Name: "fallback", Category: "fallback", RuntimeGroup: "fallback", Description: "degraded fallback"},
	}
}

// AliasRegistry resolves semantic aliases to runtime groups. Loaded once
// at startup and read concurrently thereafter; it never changes at
// runtime, mirroring the teacher's LLMProviderRegistry shape.
type AliasRegistry struct {
	mu      sync.RWMutex
	aliases map[string]AliasConfig
	log     *slog.Logger
}

// NewAliasRegistry builds a registry from aliases, or the built-in
// defaults if aliases is nil.
func NewAliasRegistry(aliases []AliasConfig, log *slog.Logger) *AliasRegistry {
	if aliases == nil {
		aliases = defaultAliases()
	}
	if log == nil {
		log = slog.Default()
	}
	indexed := make(map[string]AliasConfig, len(aliases))
	for _, a := range aliases {
		indexed[a.Name] = a
	}
	return &AliasRegistry{aliases: indexed, log: log}
}

// Resolve maps a semantic alias to its runtime group.
//
// Rules, in order: a registered alias returns its runtime_group; an
// unregistered but already-a-runtime-group name passes through unchanged;
// anything else falls back to "main" and logs a warning, since failing
// the call outright over an unrecognized alias would be worse than
// routing it to the default tier.
func (r *AliasRegistry) Resolve(alias string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cfg, ok := r.aliases[alias]; ok {
		return cfg.RuntimeGroup
	}
	if knownRuntimeGroups[alias] {
		return alias
	}
	r.log.Warn("unknown alias, falling back to main", "alias", alias)
	return "main"
}

// Get returns a single alias's configuration.
func (r *AliasRegistry) Get(alias string) (AliasConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.aliases[alias]
	return cfg, ok
}

// ByCategory returns every alias in a cost-attribution category.
func (r *AliasRegistry) ByCategory(category string) []AliasConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []AliasConfig
	for _, a := range r.aliases {
		if a.Category == category {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ByRuntimeGroup returns every alias routed to a runtime group.
func (r *AliasRegistry) ByRuntimeGroup(group string) []AliasConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []AliasConfig
	for _, a := range r.aliases {
		if a.RuntimeGroup == group {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// List returns every registered alias sorted by name.
func (r *AliasRegistry) List() []AliasConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AliasConfig, 0, len(r.aliases))
	for _, a := range r.aliases {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
