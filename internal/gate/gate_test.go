package gate

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mjcarver/opsgate/internal/approval"
	"github.com/mjcarver/opsgate/internal/classify"
	"github.com/mjcarver/opsgate/internal/memory"
	"github.com/mjcarver/opsgate/internal/rules"
	"github.com/mjcarver/opsgate/internal/runner"
)

// fakeExec records released commands instead of spawning processes.
type fakeExec struct {
	commands []string
}

func (f *fakeExec) Run(ctx context.Context, command string, opts runner.Options) (runner.Result, error) {
	f.commands = append(f.commands, command)
	return runner.Result{Stdout: "ok", ExitCode: 0, Duration: time.Millisecond}, nil
}

type fixture struct {
	gate    *Gate
	store   *memory.Store
	surface *approval.ChannelSurface
	exec    *fakeExec
	session string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := memory.Open(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	session, err := store.CreateSession("test goal")
	if err != nil {
		t.Fatal(err)
	}
	surface := approval.NewChannelSurface()
	exec := &fakeExec{}
	g := New(zap.NewNop(), classify.New(zap.NewNop()), store, surface, exec)
	return &fixture{gate: g, store: store, surface: surface, exec: exec, session: session}
}

// respond answers pending decisions in order as they appear.
func (f *fixture) respond(t *testing.T, answers ...string) chan []approval.PendingDecision {
	t.Helper()
	seen := make(chan []approval.PendingDecision, 1)
	go func() {
		var decisions []approval.PendingDecision
		for _, a := range answers {
			select {
			case p := <-f.surface.Pending:
				decisions = append(decisions, p)
				f.surface.Responses <- a
			case <-time.After(5 * time.Second):
				seen <- decisions
				return
			}
		}
		seen <- decisions
	}()
	return seen
}

func entriesOfKind(t *testing.T, store *memory.Store, session string, kind memory.Kind) []memory.Entry {
	t.Helper()
	entries, err := store.ReadSince(session, 0)
	if err != nil {
		t.Fatal(err)
	}
	var out []memory.Entry
	for _, e := range entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func TestAutoTierReleasesWithoutPause(t *testing.T) {
	f := newFixture(t)

	res, err := f.gate.Process(context.Background(), f.session,
		Proposal{Command: "kubectl get pods"})
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateAutoReleased || res.Outcome != OutcomeExecuted {
		t.Fatalf("state=%s outcome=%s", res.State, res.Outcome)
	}
	if res.Tier != rules.TierAuto {
		t.Fatalf("tier %s", res.Tier)
	}
	if len(f.exec.commands) != 1 || f.exec.commands[0] != "kubectl get pods" {
		t.Fatalf("executed %v", f.exec.commands)
	}

	// Announcement is mandatory.
	if ann := entriesOfKind(t, f.store, f.session, memory.KindAnnouncement); len(ann) != 1 {
		t.Fatalf("expected 1 announcement entry, got %d", len(ann))
	}
	if execs := entriesOfKind(t, f.store, f.session, memory.KindExecution); len(execs) != 1 || execs[0].Tier != "auto" {
		t.Fatalf("unexpected execution entries %+v", execs)
	}
}

func TestNegotiationCeiling(t *testing.T) {
	f := newFixture(t)
	seen := f.respond(t, "no", "no")

	res, err := f.gate.Process(context.Background(), f.session,
		Proposal{Command: "kubectl delete pod x -n prod"})
	if err != nil {
		t.Fatal(err)
	}
	decisions := <-seen

	if res.State != StateSkipped || res.Outcome != OutcomeSkipped {
		t.Fatalf("state=%s outcome=%s", res.State, res.Outcome)
	}
	if res.Tier != rules.TierDestructive {
		t.Fatalf("tier %s", res.Tier)
	}
	// Zero processes spawned.
	if len(f.exec.commands) != 0 {
		t.Fatalf("executed %v", f.exec.commands)
	}
	// Exactly two prompts: original plus one negotiation round.
	if len(decisions) != 2 {
		t.Fatalf("expected 2 prompts, got %d", len(decisions))
	}
	if decisions[0].Alternative != "" {
		t.Fatalf("first prompt already carried an alternative: %+v", decisions[0])
	}
	if decisions[1].Alternative == "" && decisions[1].Justification == "" {
		t.Fatal("negotiation round carried neither alternative nor justification")
	}
	if negs := entriesOfKind(t, f.store, f.session, memory.KindNegotiation); len(negs) != 1 {
		t.Fatalf("expected exactly 1 negotiation entry, got %d", len(negs))
	}
}

func TestApproveReleases(t *testing.T) {
	f := newFixture(t)
	f.respond(t, "yes")

	res, err := f.gate.Process(context.Background(), f.session,
		Proposal{Command: "kubectl apply -f deploy.yaml", Rationale: "roll out fix"})
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateReleased || res.Outcome != OutcomeExecuted {
		t.Fatalf("state=%s outcome=%s", res.State, res.Outcome)
	}
	if len(f.exec.commands) != 1 || f.exec.commands[0] != "kubectl apply -f deploy.yaml" {
		t.Fatalf("executed %v", f.exec.commands)
	}
}

func TestApprovedAlternativeIsRedirected(t *testing.T) {
	f := newFixture(t)
	f.respond(t, "no", "yes")

	res, err := f.gate.Process(context.Background(), f.session,
		Proposal{Command: "kubectl delete pod x -n prod"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeRedirected {
		t.Fatalf("outcome %s", res.Outcome)
	}
	want := "kubectl delete pod x -n prod --dry-run=client"
	if len(f.exec.commands) != 1 || f.exec.commands[0] != want {
		t.Fatalf("executed %v, want %q", f.exec.commands, want)
	}
}

func TestAmbiguousDoesNotConsumeApproval(t *testing.T) {
	f := newFixture(t)
	f.respond(t, "hmm", "why?", "yes")

	res, err := f.gate.Process(context.Background(), f.session,
		Proposal{Command: "kubectl apply -f deploy.yaml", Rationale: "roll out fix"})
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateReleased {
		t.Fatalf("state %s", res.State)
	}
	// Questions never trigger negotiation.
	if negs := entriesOfKind(t, f.store, f.session, memory.KindNegotiation); len(negs) != 0 {
		t.Fatalf("unexpected negotiation entries %+v", negs)
	}
}

func TestCancellationResolvesToSkipped(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-f.surface.Pending
		cancel()
	}()

	res, err := f.gate.Process(ctx, f.session,
		Proposal{Command: "kubectl delete ns staging"})
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateSkipped || res.Outcome != OutcomeSkipped {
		t.Fatalf("state=%s outcome=%s", res.State, res.Outcome)
	}
	if len(f.exec.commands) != 0 {
		t.Fatalf("executed %v", f.exec.commands)
	}
}

func TestUnknownToolAwaitsApproval(t *testing.T) {
	f := newFixture(t)
	f.respond(t, "yes")

	res, err := f.gate.Process(context.Background(), f.session,
		Proposal{Command: "terraform apply"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Tier != rules.TierApproval {
		t.Fatalf("tier %s, want approval", res.Tier)
	}
	if res.State != StateReleased {
		t.Fatalf("state %s", res.State)
	}
}
