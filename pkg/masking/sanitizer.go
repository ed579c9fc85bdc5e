package masking

// Sanitizer runs a fixed set of secret-shaped maskers over text headed for
// an event payload. Safe for concurrent use; holds no mutable state.
type Sanitizer struct {
	maskers []Masker
}

// NewSanitizer builds a Sanitizer with the built-in secret patterns:
// bearer/JWT tokens, API keys, AWS access keys, GitHub/Slack tokens, and
// PEM-encoded private key blocks. Patterns are grounded on the same
// secret-shape regexes the teacher compiles for alert-payload masking,
// narrowed to the shapes that plausibly appear in an LM proxy error body.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		maskers: []Masker{
			newRegexMasker("bearer_token", "bearer",
				`(?i)bearer\s+[A-Za-z0-9_\-\.]{10,}`, "bearer [REDACTED]"),
			newRegexMasker("api_key", "key",
				`(?i)(api[_-]?key|apikey)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{16,})["']?`, "$1=[REDACTED]"),
			newRegexMasker("secret_or_token_field", "",
				`(?i)(secret|token|password|authorization)["']?\s*[:=]\s*["']?([^"'\s]{8,})["']?`, "$1=[REDACTED]"),
			newRegexMasker("aws_access_key_id", "akia",
				`AKIA[A-Z0-9]{16}`, "[REDACTED-AWS-KEY]"),
			newRegexMasker("github_token", "gh",
				`gh[ps]_[A-Za-z0-9_]{36,255}`, "[REDACTED-GITHUB-TOKEN]"),
			newRegexMasker("slack_token", "xox",
				`xox[baprs]-[A-Za-z0-9-]{10,72}`, "[REDACTED-SLACK-TOKEN]"),
			newRegexMasker("pem_block", "-----begin",
				`(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`, "[REDACTED-PEM-BLOCK]"),
		},
	}
}

// Sanitize applies every masker whose AppliesTo pre-check passes. A masker
// panic or failure to compile would have surfaced at NewSanitizer time, so
// Mask here is infallible by construction.
func (s *Sanitizer) Sanitize(text string) string {
	for _, m := range s.maskers {
		if m.AppliesTo(text) {
			text = m.Mask(text)
		}
	}
	return text
}
