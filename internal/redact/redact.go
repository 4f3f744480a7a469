// Package redact scrubs secrets from text leaving the trust boundary.
// Scrubbing is a boundary control: the on-disk timeline keeps full fidelity
// for the user's own audit trail, and only exports and trace copies pass
// through here.
package redact

import "regexp"

// Each pass runs independently so one pattern's greedy match cannot swallow
// material another pass would have caught. Every replacement is a fixed
// point of its own pattern, which makes Scrub idempotent.
type pass struct {
	re   *regexp.Regexp
	repl string
}

var passes = []pass{
	// Multi-line PEM key blocks first, before the base64 pass fragments them.
	{regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`),
		"[REDACTED:private-key]"},

	// Bearer tokens.
	{regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9\-._~+/]+=*`),
		"Bearer [REDACTED]"},

	// Common vendor key prefixes.
	{regexp.MustCompile(`\b(?:sk-[A-Za-z0-9_-]{16,}|ghp_[A-Za-z0-9]{20,}|gho_[A-Za-z0-9]{20,}|github_pat_[A-Za-z0-9_]{20,}|AKIA[0-9A-Z]{16}|xox[baprs]-[A-Za-z0-9-]{10,}|AIza[0-9A-Za-z_-]{30,})`),
		"[REDACTED]"},

	// KEY=/TOKEN=/PASSWORD=-style assignments. The key and separator are
	// preserved so downstream parsers keep their structure.
	{regexp.MustCompile(`(?i)((?:api[-_]?key|token|secret|password|passwd|credentials|access[-_]?key|secret[-_]?key|client[-_]?secret)["']?\s*[:=]\s*["']?)([^\s"',;]+)`),
		"${1}[REDACTED]"},

	// Long base64 runs (credential bundles, serialized keys).
	{regexp.MustCompile(`[A-Za-z0-9+/]{80,}={0,2}`),
		"[REDACTED:blob]"},
}

// Scrub replaces detected secrets with fixed sentinels. It is total (never
// fails on malformed input) and idempotent: Scrub(Scrub(x)) == Scrub(x).
func Scrub(text string) string {
	if text == "" {
		return text
	}
	for _, p := range passes {
		text = p.re.ReplaceAllString(text, p.repl)
	}
	return text
}
