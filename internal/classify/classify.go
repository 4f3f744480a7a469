// Package classify assigns an execution tier to every candidate command.
// Classification is a pure function over an immutable rule snapshot; reloads
// swap the snapshot atomically so a concurrent call never observes a
// partially updated table.
package classify

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mjcarver/opsgate/internal/rules"
)

// Result is an immutable classification outcome.
type Result struct {
	Tier    rules.Tier
	Pattern string // matched pattern; empty when the default-deny applied
	Tool    string
}

// Classifier serves classifications from the current rule snapshot.
type Classifier struct {
	log  *zap.Logger
	snap atomic.Pointer[rules.Snapshot]
}

// New creates a classifier serving the built-in default rules.
func New(log *zap.Logger) *Classifier {
	c := &Classifier{log: log}
	c.snap.Store(rules.Defaults())
	return c
}

// LoadDir parses the rules directory and swaps in a snapshot of the
// defaults overlaid with the custom files. On a parse error the previous
// snapshot keeps serving and the error is returned; the classifier never
// degrades to permit-all.
func (c *Classifier) LoadDir(dir string) error {
	custom, err := rules.LoadDir(dir)
	if err != nil {
		c.log.Error("rules reload failed, keeping previous rule set",
			zap.String("dir", dir), zap.Error(err))
		return fmt.Errorf("load rules: %w", err)
	}
	c.snap.Store(rules.Merge(rules.Defaults(), custom))
	c.log.Info("rules loaded", zap.String("dir", dir),
		zap.Strings("tools", c.snap.Load().Tools()))
	return nil
}

// Snapshot returns the current rule snapshot.
func (c *Classifier) Snapshot() *rules.Snapshot {
	return c.snap.Load()
}

// Classify tags the command with its tier. Tiers are checked destructive
// first, then approval, then auto, so a destructive pattern can never be
// shadowed by a broader auto pattern; ties within a tier resolve to the
// longest literal prefix. An unknown tool or an unmatched command yields
// the approval tier.
func (c *Classifier) Classify(tool, command string) Result {
	command = strings.TrimSpace(command)
	if tool == "" {
		tool, _, _ = strings.Cut(command, " ")
	}

	res := Result{Tier: rules.TierApproval, Tool: tool}

	tr, ok := c.snap.Load().Tool(tool)
	if !ok {
		return res
	}

	for _, tier := range []rules.Tier{rules.TierDestructive, rules.TierApproval, rules.TierAuto} {
		if p, ok := bestMatch(tr.Patterns(tier), command); ok {
			res.Tier = tier
			res.Pattern = p
			return res
		}
	}
	return res
}

// ExecPolicy returns the timeout and streaming flag that apply to the
// command. A zero timeout means the caller's default applies.
func (c *Classifier) ExecPolicy(tool, command string) (timeout time.Duration, streaming bool) {
	command = strings.TrimSpace(command)
	if tool == "" {
		tool, _, _ = strings.Cut(command, " ")
	}
	tr, ok := c.snap.Load().Tool(tool)
	if !ok {
		return 0, false
	}
	return tr.Timeout, tr.IsStreaming(command)
}

// bestMatch returns the most specific matching pattern in the list.
func bestMatch(patterns []string, command string) (string, bool) {
	best := ""
	bestLen := -1
	for _, p := range patterns {
		if !rules.MatchPattern(p, command) {
			continue
		}
		if n := rules.Specificity(p); n > bestLen {
			best, bestLen = p, n
		}
	}
	return best, bestLen >= 0
}
