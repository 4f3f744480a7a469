package memory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCreateSessionIDs(t *testing.T) {
	s := newTestStore(t)

	id1, err := s.CreateSession("Fix the ingress controller")
	if err != nil {
		t.Fatal(err)
	}
	id2, err := s.CreateSession("Fix the ingress controller")
	if err != nil {
		t.Fatal(err)
	}

	if !strings.HasPrefix(id1, "session_001_") {
		t.Fatalf("unexpected first id %q", id1)
	}
	if !strings.HasPrefix(id2, "session_002_") {
		t.Fatalf("unexpected second id %q", id2)
	}
	if !strings.HasSuffix(id1, "fix-the-ingress-controll") {
		t.Fatalf("unexpected slug in %q", id1)
	}
}

func TestAppendAndReadSince(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateSession("goal")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 4; i++ {
		if _, err := s.Append(id, Entry{Actor: ActorAutomated, Kind: KindNote}); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := s.ReadSince(id, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Seq != 3 || entries[1].Seq != 4 {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestForkIsIndependentCopy(t *testing.T) {
	s := newTestStore(t)
	parent, err := s.CreateSession("parent goal")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.Append(parent, Entry{Actor: ActorAutomated, Kind: KindNote, Text: "before fork"}); err != nil {
			t.Fatal(err)
		}
	}

	h, err := s.Fork(parent, "child goal")
	if err != nil {
		t.Fatal(err)
	}
	child, err := h.Await(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// Child starts with the parent's history.
	entries, err := s.ReadSince(child, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 inherited entries, got %d", len(entries))
	}

	// Writing to the child never mutates the parent.
	if _, err := s.Append(child, Entry{Actor: ActorHuman, Kind: KindNote, Text: "child only"}); err != nil {
		t.Fatal(err)
	}
	parentEntries, err := s.ReadSince(parent, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(parentEntries) != 3 {
		t.Fatalf("parent grew to %d entries after child write", len(parentEntries))
	}

	meta, err := s.Metadata(child)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Parent != parent {
		t.Fatalf("child parent = %q, want %q", meta.Parent, parent)
	}
}

func TestForkCrashNeverShadowsParent(t *testing.T) {
	base := t.TempDir()
	s, err := Open(base, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	parent, err := s.CreateSession("parent goal")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(parent, Entry{Actor: ActorAutomated, Kind: KindNote, Text: "survives"}); err != nil {
		t.Fatal(err)
	}

	// A process that died mid-fork leaves the bulk copy in the temp
	// directory, still carrying the parent's metadata.
	crashed := filepath.Join(base, forkTmpPrefix+"session_002_2026-08-30_child.tmp")
	if err := copyDir(filepath.Join(base, parent), crashed); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(base, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	entries, err := s2.ReadSince(parent, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Text != "survives" {
		t.Fatalf("parent history corrupted after crash+reopen: %+v", entries)
	}
	if got := s2.Sessions(); len(got) != 1 || got[0].ID != parent {
		t.Fatalf("unexpected sessions after reopen %+v", got)
	}
	if _, err := os.Stat(crashed); !os.IsNotExist(err) {
		t.Fatal("unfinished fork directory should be swept on open")
	}

	// The swept id is free again.
	h, err := s2.Fork(parent, "child")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Await(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestForkPublishesUnderFinalNameOnly(t *testing.T) {
	base := t.TempDir()
	s, err := Open(base, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	parent, err := s.CreateSession("parent goal")
	if err != nil {
		t.Fatal(err)
	}
	h, err := s.Fork(parent, "child goal")
	if err != nil {
		t.Fatal(err)
	}
	child, err := h.Await(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// The published directory already carries the child's own identity,
	// and no temp directory remains.
	meta, err := s.Metadata(child)
	if err != nil {
		t.Fatal(err)
	}
	if meta.ID != child || meta.Parent != parent {
		t.Fatalf("published metadata %+v", meta)
	}
	dirs, err := os.ReadDir(base)
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range dirs {
		if strings.HasPrefix(d.Name(), forkTmpPrefix) {
			t.Fatalf("temp directory %s left behind", d.Name())
		}
	}
}

func TestForkRejectsUnknownParent(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Fork("session_099_2026-01-01_ghost", "goal"); err == nil {
		t.Fatal("expected fork of unknown parent to fail")
	}
}

func TestPermanentRemovalRequiresToken(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateSession("goal")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Archive(id, true, ""); err == nil {
		t.Fatal("expected permanent removal without token to be refused")
	}
	if _, err := s.Metadata(id); err != nil {
		t.Fatalf("session should survive refused removal: %v", err)
	}

	token, err := s.IssueRemovalToken(id)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Archive(id, true, token); err != nil {
		t.Fatalf("removal with valid token failed: %v", err)
	}
	if _, err := s.Metadata(id); err == nil {
		t.Fatal("session should be gone after permanent removal")
	}

	// Token is single-use.
	id2, _ := s.CreateSession("goal2")
	if err := s.Archive(id2, true, token); err == nil {
		t.Fatal("expected reused token to be refused")
	}
}

func TestArchiveIsSoftDelete(t *testing.T) {
	base := t.TempDir()
	s, err := Open(base, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.CreateSession("goal")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(id, Entry{Actor: ActorHuman, Kind: KindNote, Text: "keep me"}); err != nil {
		t.Fatal(err)
	}

	if err := s.Archive(id, false, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Metadata(id); err == nil {
		t.Fatal("archived session should not be live")
	}
	if _, err := os.Stat(filepath.Join(base, archivedDir, id, timelineFile)); err != nil {
		t.Fatalf("archived timeline missing: %v", err)
	}
}

func TestClosedSessionRejectsAppends(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateSession("goal")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.CloseSession(id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(id, Entry{Actor: ActorAutomated, Kind: KindNote}); err == nil {
		t.Fatal("expected append to closed session to fail")
	}
	// Closed sessions remain readable.
	if _, err := s.ReadSince(id, 0); err != nil {
		t.Fatalf("closed session should stay readable: %v", err)
	}
}

func TestTreeMaterializesParents(t *testing.T) {
	s := newTestStore(t)
	root, _ := s.CreateSession("root")
	h, err := s.Fork(root, "branch")
	if err != nil {
		t.Fatal(err)
	}
	child, err := h.Await(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	roots := s.Tree()
	if len(roots) != 1 || roots[0].Meta.ID != root {
		t.Fatalf("unexpected roots %+v", roots)
	}
	if len(roots[0].Children) != 1 || roots[0].Children[0].Meta.ID != child {
		t.Fatalf("unexpected children %+v", roots[0].Children)
	}
}

func TestStoreReopens(t *testing.T) {
	base := t.TempDir()
	s, err := Open(base, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.CreateSession("goal")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(id, Entry{Actor: ActorAutomated, Kind: KindNote, Text: "persisted"}); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(base, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	entries, err := s2.ReadSince(id, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Text != "persisted" {
		t.Fatalf("unexpected entries after reopen %+v", entries)
	}
	seq, err := s2.Seq(id)
	if err != nil || seq != 1 {
		t.Fatalf("seq after reopen = %d, %v", seq, err)
	}
}

func TestCrashLeavesPreviousFileIntact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, metadataFile)
	before := []byte("id: session_001\nstatus: active\n")
	if err := AtomicWrite(path, before); err != nil {
		t.Fatal(err)
	}

	// A crash between temp-write and rename leaves only a temp file behind.
	tmp := filepath.Join(dir, "."+metadataFile+".tmp-crashed")
	if err := os.WriteFile(tmp, []byte("id: session_001\nstatus: half-writ"), 0o600); err != nil {
		t.Fatal(err)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(after) != string(before) {
		t.Fatalf("target file changed: %q", after)
	}
}

func TestMilestones(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateSession("goal")
	if err != nil {
		t.Fatal(err)
	}
	seq, err := s.Append(id, Entry{Actor: ActorAutomated, Kind: KindExecution, Outcome: "executed"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.CommitMilestone(id, "pods healthy again", "restart cleared the crashloop", []uint64{seq}); err != nil {
		t.Fatal(err)
	}

	ms, err := s.Milestones(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(ms) != 1 || ms[0].Summary != "pods healthy again" || len(ms[0].Refs) != 1 {
		t.Fatalf("unexpected milestones %+v", ms)
	}
}

func TestRecentMilestones(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateSession("goal")
	if err != nil {
		t.Fatal(err)
	}
	for _, summary := range []string{"first", "second", "third"} {
		if err := s.CommitMilestone(id, summary, "", nil); err != nil {
			t.Fatal(err)
		}
	}

	ms, err := s.RecentMilestones(id, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(ms) != 2 || ms[0].Summary != "second" || ms[1].Summary != "third" {
		t.Fatalf("unexpected recap %+v", ms)
	}

	// Zero means all.
	all, err := s.RecentMilestones(id, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected all milestones, got %d", len(all))
	}
}

func TestExportIsScrubbed(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateSession("goal")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(id, Entry{
		Actor:   ActorAutomated,
		Kind:    KindExecution,
		Command: "curl -H 'Authorization: Bearer abc123def456'",
		Output:  "API_KEY=supersecretvalue",
	}); err != nil {
		t.Fatal(err)
	}

	out, err := s.Export(id)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "abc123def456") || strings.Contains(out, "supersecretvalue") {
		t.Fatalf("export leaked secrets: %s", out)
	}

	// The on-disk log keeps full fidelity.
	entries, err := s.ReadSince(id, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(entries[0].Output, "supersecretvalue") {
		t.Fatal("primary log should not be redacted")
	}
}

func TestHooksReceiveScrubbedCopies(t *testing.T) {
	s := newTestStore(t)
	got := make(chan Entry, 1)
	s.AddHook(func(sessionID string, e Entry) { got <- e })

	id, err := s.CreateSession("goal")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(id, Entry{
		Actor:  ActorAutomated,
		Kind:   KindExecution,
		Output: "TOKEN=verysecret",
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case e := <-got:
		if strings.Contains(e.Output, "verysecret") {
			t.Fatalf("hook received unscrubbed entry: %q", e.Output)
		}
		if e.Seq != 1 {
			t.Fatalf("hook entry seq = %d", e.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("hook not invoked")
	}
}
