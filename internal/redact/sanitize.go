package redact

import (
	"regexp"
	"strings"
)

var ansiEscape = regexp.MustCompile(`\x1b(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])`)

// Patterns that try to steer the planner from inside tool output. Each
// pattern optionally captures an existing "[filtered: " marker so that a
// second pass leaves already-bracketed text alone.
var adversarial = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\[filtered: )?ignore\s+previous\s+instructions`),
	regexp.MustCompile(`(?i)(\[filtered: )?disregard\s+all\s+rules`),
	regexp.MustCompile(`(?i)(\[filtered: )?system\s+prompt\s+override`),
	regexp.MustCompile(`(?i)(\[filtered: )?you\s+are\s+now\s+`),
	regexp.MustCompile(`(?i)(\[filtered: )?new\s+role\s+assigned`),
	regexp.MustCompile(`(?i)(\[filtered: )?<script\b[^>]*>.*?</script>`),
}

// SanitizeOutput neutralizes command output before it is fed back to the
// planner: ANSI escape sequences are stripped (log poisoning), known
// prompt-injection phrases are bracketed, and shell substitution syntax is
// defanged. The primary log keeps the raw output; this applies only to the
// copy the planner ingests.
func SanitizeOutput(text string) string {
	if text == "" {
		return text
	}

	text = ansiEscape.ReplaceAllString(text, "")

	for _, re := range adversarial {
		text = re.ReplaceAllStringFunc(text, func(m string) string {
			if strings.HasPrefix(strings.ToLower(m), "[filtered: ") {
				return m
			}
			return "[filtered: " + m + "]"
		})
	}

	text = strings.ReplaceAll(text, "$(", "$_(")
	text = strings.ReplaceAll(text, "`", "'")

	return text
}
