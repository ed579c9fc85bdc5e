// Package masking sanitizes text before it is persisted in an event payload.
//
// MODEL_CALL_FAILED events carry an error_message drawn from whatever the
// LM transport or proxy returned, which may echo back request headers,
// API keys, or other secrets. The Sanitizer strips those before the message
// ever reaches the event log.
package masking

import (
	"regexp"
	"strings"
)

// Masker applies one masking rule to a string. Implementations must be
// defensive: a masker that cannot confidently identify its pattern should
// leave the input unchanged rather than risk corrupting unrelated text.
type Masker interface {
	// Name identifies the masker, used only for logging.
	Name() string

	// AppliesTo is a cheap pre-check (no regex) so Sanitize can skip a
	// masker entirely on the common case where its pattern can't be present.
	AppliesTo(data string) bool

	// Mask applies the masking rule and returns the result.
	Mask(data string) string
}

type regexMasker struct {
	name        string
	needle      string
	re          *regexp.Regexp
	replacement string
}

func (m *regexMasker) Name() string { return m.name }

func (m *regexMasker) AppliesTo(data string) bool {
	return m.needle == "" || strings.Contains(strings.ToLower(data), m.needle)
}

func (m *regexMasker) Mask(data string) string {
	return m.re.ReplaceAllString(data, m.replacement)
}

func newRegexMasker(name, needle, pattern, replacement string) *regexMasker {
	return &regexMasker{name: name, needle: strings.ToLower(needle), re: regexp.MustCompile(pattern), replacement: replacement}
}
