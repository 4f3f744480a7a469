// Package rules holds the tool-scoped rule definitions that drive command
// classification. A Snapshot is immutable once built; reloads construct a
// fresh Snapshot and swap it in atomically at the classifier level.
package rules

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Tier is the execution permission level assigned to a command.
type Tier int

const (
	TierAuto        Tier = iota // released without human involvement
	TierApproval                // requires explicit human approval
	TierDestructive             // requires approval; irreversible consequences
)

func (t Tier) String() string {
	switch t {
	case TierAuto:
		return "auto"
	case TierApproval:
		return "approval"
	case TierDestructive:
		return "destructive"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ParseTier converts a string to a Tier.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "auto":
		return TierAuto, nil
	case "approval":
		return TierApproval, nil
	case "destructive":
		return TierDestructive, nil
	default:
		return 0, fmt.Errorf("unknown tier: %q", s)
	}
}

// ToolRules holds the ordered pattern lists for a single tool.
type ToolRules struct {
	Tool        string
	Auto        []string
	Approval    []string
	Destructive []string
	Timeout     time.Duration // 0 = use the global default
	Streaming   []string      // patterns exempt from timeout truncation
}

// Patterns returns the pattern list for the given tier.
func (tr *ToolRules) Patterns(t Tier) []string {
	switch t {
	case TierAuto:
		return tr.Auto
	case TierApproval:
		return tr.Approval
	case TierDestructive:
		return tr.Destructive
	}
	return nil
}

// IsStreaming reports whether the command matches a streaming pattern.
func (tr *ToolRules) IsStreaming(command string) bool {
	for _, p := range tr.Streaming {
		if MatchPattern(p, command) {
			return true
		}
	}
	return false
}

// Snapshot is an immutable rule table keyed by tool name.
type Snapshot struct {
	tools map[string]*ToolRules
}

// NewSnapshot builds a snapshot from the given tool rule sets.
func NewSnapshot(tools ...*ToolRules) *Snapshot {
	m := make(map[string]*ToolRules, len(tools))
	for _, tr := range tools {
		m[tr.Tool] = tr
	}
	return &Snapshot{tools: m}
}

// Tool returns the rules for a tool, if any.
func (s *Snapshot) Tool(name string) (*ToolRules, bool) {
	tr, ok := s.tools[name]
	return tr, ok
}

// Tools returns all tool names sorted.
func (s *Snapshot) Tools() []string {
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge overlays custom rules on top of base. A tool defined in overlay
// completely replaces the base definition for that tool.
func Merge(base, overlay *Snapshot) *Snapshot {
	m := make(map[string]*ToolRules, len(base.tools)+len(overlay.tools))
	for name, tr := range base.tools {
		m[name] = tr
	}
	for name, tr := range overlay.tools {
		m[name] = tr
	}
	return &Snapshot{tools: m}
}

// MatchPattern reports whether command matches pattern. Patterns are command
// prefixes with an optional trailing wildcard: "kubectl get *" matches
// "kubectl get pods" and the bare "kubectl get", while "git checkout ."
// matches only exactly.
func MatchPattern(pattern, command string) bool {
	pattern = strings.TrimSpace(pattern)
	command = strings.TrimSpace(command)
	if pattern == "" {
		return false
	}

	if !strings.HasSuffix(pattern, "*") {
		return command == pattern
	}

	stem := strings.TrimSuffix(pattern, "*")
	if strings.HasSuffix(stem, " ") {
		// "kubectl get *": match the bare base command too, but never
		// "kubectl getfoo".
		base := strings.TrimRight(stem, " ")
		return command == base || strings.HasPrefix(command, stem)
	}
	return strings.HasPrefix(command, stem)
}

// Specificity ranks a pattern by the length of its literal prefix. Longer
// wins ties within a tier.
func Specificity(pattern string) int {
	return len(strings.TrimRight(strings.TrimSuffix(strings.TrimSpace(pattern), "*"), " "))
}
