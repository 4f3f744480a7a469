// Package gate sequences classification, human approval, negotiation, and
// execution release. It is the only writer of approval decisions and
// command outcomes, and every transition is appended to the session's
// timeline before control returns.
package gate

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mjcarver/opsgate/internal/approval"
	"github.com/mjcarver/opsgate/internal/classify"
	"github.com/mjcarver/opsgate/internal/memory"
	"github.com/mjcarver/opsgate/internal/rules"
	"github.com/mjcarver/opsgate/internal/runner"
)

// State names the gate's position for one proposed command.
type State string

const (
	StateProposed         State = "proposed"
	StateClassified       State = "classified"
	StateAutoReleased     State = "auto-released"
	StateAwaitingApproval State = "awaiting-approval"
	StateReleased         State = "released"
	StateNegotiating      State = "negotiating"
	StateSkipped          State = "skipped"
)

// Outcomes recorded on the final decision entry.
const (
	OutcomeExecuted   = "executed"
	OutcomeSkipped    = "skipped"
	OutcomeRedirected = "redirected"
)

// Proposal is one candidate command from the planner.
type Proposal struct {
	Tool      string
	Command   string
	Rationale string
}

// Result is what the gate hands back to the planner boundary.
type Result struct {
	State       State
	Outcome     string
	Tier        rules.Tier
	Intent      Intent
	Exec        *runner.Result
	Alternative string
	Reply       string // resolved human text for declined proposals
}

// Executor runs a released command. Commands reach it only through the
// gate; there is no other path from a proposal to a shell.
type Executor interface {
	Run(ctx context.Context, command string, opts runner.Options) (runner.Result, error)
}

// Gate enforces the tier policy for one session at a time per command.
type Gate struct {
	log        *zap.Logger
	classifier *classify.Classifier
	store      *memory.Store
	surface    approval.Surface
	exec       Executor
}

func New(log *zap.Logger, c *classify.Classifier, store *memory.Store, surface approval.Surface, exec Executor) *Gate {
	return &Gate{log: log, classifier: c, store: store, surface: surface, exec: exec}
}

// Process takes a proposal through the full state machine and returns the
// final result. On any error the timeline is consistent up to the last
// appended entry.
func (g *Gate) Process(ctx context.Context, sessionID string, p Proposal) (*Result, error) {
	propSeq, err := g.store.Append(sessionID, memory.Entry{
		Actor:   memory.ActorAutomated,
		Kind:    memory.KindProposal,
		Tool:    p.Tool,
		Command: p.Command,
		Thought: p.Rationale,
	})
	if err != nil {
		return nil, fmt.Errorf("append proposal: %w", err)
	}

	cls := g.classifier.Classify(p.Tool, p.Command)
	if _, err := g.store.Append(sessionID, memory.Entry{
		Actor:   memory.ActorAutomated,
		Kind:    memory.KindClassified,
		Tool:    cls.Tool,
		Command: p.Command,
		Tier:    cls.Tier.String(),
		Pattern: cls.Pattern,
		Refs:    []uint64{propSeq},
	}); err != nil {
		return nil, fmt.Errorf("append classification: %w", err)
	}

	if cls.Tier == rules.TierAuto {
		return g.autoRelease(ctx, sessionID, p, cls, propSeq)
	}
	return g.awaitApproval(ctx, sessionID, p, cls, propSeq)
}

// autoRelease executes immediately but still writes the announcement
// entry. The announcement is mandatory and has no off switch.
func (g *Gate) autoRelease(ctx context.Context, sessionID string, p Proposal, cls classify.Result, propSeq uint64) (*Result, error) {
	if _, err := g.store.Append(sessionID, memory.Entry{
		Actor:   memory.ActorAutomated,
		Kind:    memory.KindAnnouncement,
		Tool:    cls.Tool,
		Command: p.Command,
		Tier:    cls.Tier.String(),
		Text:    fmt.Sprintf("released automatically: matched auto pattern %q", cls.Pattern),
		Refs:    []uint64{propSeq},
	}); err != nil {
		return nil, fmt.Errorf("append announcement: %w", err)
	}

	res := &Result{State: StateAutoReleased, Tier: cls.Tier}
	return g.release(ctx, sessionID, p.Command, cls, res, OutcomeExecuted)
}

func (g *Gate) awaitApproval(ctx context.Context, sessionID string, p Proposal, cls classify.Result, propSeq uint64) (*Result, error) {
	pd := approval.PendingDecision{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Tool:        cls.Tool,
		Command:     p.Command,
		Tier:        cls.Tier.String(),
		Consequence: consequenceFor(cls.Tier, p.Command),
		Reversible:  cls.Tier != rules.TierDestructive,
	}

	negotiated := false
	for {
		raw, err := g.surface.Request(ctx, pd)
		if err != nil {
			// Cancellation or timeout resolves to Skipped, never executed.
			if _, aerr := g.store.Append(sessionID, memory.Entry{
				Actor:   memory.ActorAutomated,
				Kind:    memory.KindDecision,
				Command: p.Command,
				Tier:    cls.Tier.String(),
				Outcome: OutcomeSkipped,
				Text:    fmt.Sprintf("approval wait ended without a decision: %v", err),
				Refs:    []uint64{propSeq},
			}); aerr != nil {
				return nil, aerr
			}
			return &Result{State: StateSkipped, Outcome: OutcomeSkipped, Tier: cls.Tier}, nil
		}

		intent := ResolveIntent(raw)
		if _, err := g.store.Append(sessionID, memory.Entry{
			Actor:    memory.ActorHuman,
			Kind:     memory.KindDecision,
			Command:  p.Command,
			Tier:     cls.Tier.String(),
			RawInput: raw,
			Intent:   string(intent),
			Refs:     []uint64{propSeq},
		}); err != nil {
			return nil, fmt.Errorf("append decision: %w", err)
		}

		switch intent {
		case IntentApprove, IntentApproveExplain:
			command := p.Command
			outcome := OutcomeExecuted
			res := &Result{State: StateReleased, Tier: cls.Tier, Intent: intent}
			if negotiated && pd.Alternative != "" {
				// The approval applies to the offered alternative.
				command = pd.Alternative
				outcome = OutcomeRedirected
				res.Alternative = pd.Alternative
			}
			return g.release(ctx, sessionID, command, cls, res, outcome)

		case IntentDeny:
			if negotiated {
				// Second denial is final. No third argument, ever.
				if _, err := g.store.Append(sessionID, memory.Entry{
					Actor:    memory.ActorAutomated,
					Kind:     memory.KindDecision,
					Command:  p.Command,
					Tier:     cls.Tier.String(),
					Intent:   string(intent),
					RawInput: raw,
					Outcome:  OutcomeSkipped,
					Refs:     []uint64{propSeq},
				}); err != nil {
					return nil, err
				}
				return &Result{
					State: StateSkipped, Outcome: OutcomeSkipped,
					Tier: cls.Tier, Intent: intent, Reply: raw,
				}, nil
			}
			negotiated = true
			pd.Alternative, pd.Justification = g.negotiate(sessionID, p, propSeq)
			if _, err := g.store.Append(sessionID, memory.Entry{
				Actor:   memory.ActorAutomated,
				Kind:    memory.KindNegotiation,
				Command: p.Command,
				Text:    negotiationText(pd.Alternative, pd.Justification),
				Refs:    []uint64{propSeq},
			}); err != nil {
				return nil, err
			}

		case IntentExplainOnly, IntentPlan:
			// A question does not consume the approval opportunity.
			pd.Justification = p.Rationale
			if pd.Justification == "" {
				pd.Justification = "no rationale was recorded for this command"
			}

		case IntentHistory:
			pd.Justification = g.recentHistory(sessionID)

		case IntentAmbiguous:
			// Re-prompt with the same pending decision.
		}
	}
}

// release hands the command to the execution boundary and logs the result
// verbatim. Faults are never retried here; a retry is a new proposal.
func (g *Gate) release(ctx context.Context, sessionID, command string, cls classify.Result, res *Result, outcome string) (*Result, error) {
	timeout, streaming := g.classifier.ExecPolicy(cls.Tool, command)
	exec, err := g.exec.Run(ctx, command, runner.Options{Timeout: timeout, Streaming: streaming})
	if err != nil {
		exec.Stderr = strings.TrimSpace(exec.Stderr + "\n" + err.Error())
	}

	entry := memory.Entry{
		Actor:    memory.ActorAutomated,
		Kind:     memory.KindExecution,
		Tool:     cls.Tool,
		Command:  command,
		Tier:     cls.Tier.String(),
		Output:   combineOutput(exec),
		ExitCode: exec.ExitCode,
		Duration: float64(exec.Duration.Microseconds()) / 1000.0,
		Outcome:  outcome,
	}
	if exec.TimedOut {
		entry.Text = "execution timed out"
	}
	if _, aerr := g.store.Append(sessionID, entry); aerr != nil {
		return nil, fmt.Errorf("append execution: %w", aerr)
	}

	res.Outcome = outcome
	res.Exec = &exec
	g.log.Info("command executed",
		zap.String("session", sessionID),
		zap.String("command", command),
		zap.String("tier", cls.Tier.String()),
		zap.Int("exit", exec.ExitCode))
	return res, nil
}

// negotiate produces the single alternative-or-justification round. When a
// safer alternative exists it is offered; otherwise one justification
// referencing prior timeline entries is presented.
func (g *Gate) negotiate(sessionID string, p Proposal, propSeq uint64) (alternative, justification string) {
	if alt := alternativeFor(p.Command); alt != "" {
		return alt, ""
	}
	why := p.Rationale
	if why == "" {
		why = "the current goal needs this step"
	}
	return "", fmt.Sprintf("%s (see entry %d)", why, propSeq)
}

func (g *Gate) recentHistory(sessionID string) string {
	seq, err := g.store.Seq(sessionID)
	if err != nil {
		return ""
	}
	var from uint64
	if seq > 5 {
		from = seq - 5
	}
	entries, err := g.store.ReadSince(sessionID, from)
	if err != nil {
		return ""
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "[%d] %s", e.Seq, e.Kind)
		if e.Command != "" {
			fmt.Fprintf(&b, " %s", e.Command)
		}
		if e.Outcome != "" {
			fmt.Fprintf(&b, " -> %s", e.Outcome)
		}
		b.WriteString("; ")
	}
	return strings.TrimSuffix(b.String(), "; ")
}

func consequenceFor(tier rules.Tier, command string) string {
	switch tier {
	case rules.TierDestructive:
		return fmt.Sprintf("%q may permanently delete or disrupt live resources", command)
	default:
		return fmt.Sprintf("%q changes live state and needs sign-off", command)
	}
}

func negotiationText(alternative, justification string) string {
	if alternative != "" {
		return fmt.Sprintf("offered alternative: %s", alternative)
	}
	return fmt.Sprintf("justification: %s", justification)
}

func combineOutput(r runner.Result) string {
	out := r.Stdout
	if r.Stderr != "" {
		if out != "" {
			out += "\n"
		}
		out += r.Stderr
	}
	return out
}
