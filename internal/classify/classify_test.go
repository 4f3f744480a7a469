package classify

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/mjcarver/opsgate/internal/rules"
)

func TestClassifyScenarios(t *testing.T) {
	c := New(zap.NewNop())

	tests := []struct {
		command string
		want    rules.Tier
	}{
		{"kubectl get pods", rules.TierAuto},
		{"kubectl describe pod web", rules.TierAuto},
		{"kubectl apply -f deploy.yaml", rules.TierApproval},
		{"kubectl delete pod x -n prod", rules.TierDestructive},
		{"kubectl drain node-1", rules.TierDestructive},
		{"git status", rules.TierAuto},
		{"git push --force origin main", rules.TierDestructive},
		{"docker ps", rules.TierAuto},
		{"helm uninstall web", rules.TierDestructive},
	}
	for _, tt := range tests {
		res := c.Classify("", tt.command)
		if res.Tier != tt.want {
			t.Errorf("Classify(%q) = %s, want %s (pattern %q)", tt.command, res.Tier, tt.want, res.Pattern)
		}
	}
}

func TestDestructiveNeverAuto(t *testing.T) {
	c := New(zap.NewNop())
	snap := c.Snapshot()
	for _, tool := range snap.Tools() {
		tr, _ := snap.Tool(tool)
		for _, pattern := range tr.Destructive {
			// Build a command the destructive pattern matches.
			command := pattern
			if n := len(command); n > 0 && command[n-1] == '*' {
				command = command[:n-1] + "anything"
			}
			if res := c.Classify(tool, command); res.Tier == rules.TierAuto {
				t.Errorf("destructive command %q classified auto", command)
			}
		}
	}
}

func TestUnknownIsApproval(t *testing.T) {
	c := New(zap.NewNop())

	if res := c.Classify("", "terraform apply"); res.Tier != rules.TierApproval {
		t.Fatalf("unknown tool = %s, want approval", res.Tier)
	}
	if res := c.Classify("kubectl", "kubectl port-forward svc/web 8080"); res.Tier != rules.TierApproval {
		t.Fatalf("unmatched command = %s, want approval", res.Tier)
	}
	// No pattern attached to the default-deny result.
	if res := c.Classify("", "terraform apply"); res.Pattern != "" {
		t.Fatalf("default-deny carried pattern %q", res.Pattern)
	}
}

func TestDestructiveWinsTierOrder(t *testing.T) {
	dir := t.TempDir()
	body := "## auto_execute\n- mycli run *\n\n## destructive\n- mycli run --prod *\n"
	if err := os.WriteFile(filepath.Join(dir, "mycli.rules"), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	c := New(zap.NewNop())
	if err := c.LoadDir(dir); err != nil {
		t.Fatal(err)
	}
	// Matches both tiers; destructive is checked first.
	if res := c.Classify("", "mycli run --prod deploy"); res.Tier != rules.TierDestructive {
		t.Fatalf("tier = %s, want destructive", res.Tier)
	}
}

func TestReloadFailureKeepsOldSnapshot(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "mycli.rules")
	if err := os.WriteFile(good, []byte("## auto_execute\n- mycli status *\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	c := New(zap.NewNop())
	if err := c.LoadDir(dir); err != nil {
		t.Fatal(err)
	}
	if res := c.Classify("", "mycli status"); res.Tier != rules.TierAuto {
		t.Fatalf("tier = %s before bad reload", res.Tier)
	}

	// Corrupt the file; the reload must fail and the old snapshot keeps
	// serving.
	if err := os.WriteFile(good, []byte("## broken\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := c.LoadDir(dir); err == nil {
		t.Fatal("expected reload to fail")
	}
	if res := c.Classify("", "mycli status"); res.Tier != rules.TierAuto {
		t.Fatalf("tier = %s after failed reload, want auto", res.Tier)
	}
}

func TestCustomRulesOverrideDefaults(t *testing.T) {
	dir := t.TempDir()
	body := "## destructive\n- git *\n"
	if err := os.WriteFile(filepath.Join(dir, "git.rules"), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	c := New(zap.NewNop())
	if err := c.LoadDir(dir); err != nil {
		t.Fatal(err)
	}
	if res := c.Classify("", "git status"); res.Tier != rules.TierDestructive {
		t.Fatalf("custom rules did not replace defaults: %s", res.Tier)
	}
}

func TestExecPolicy(t *testing.T) {
	c := New(zap.NewNop())

	timeout, streaming := c.ExecPolicy("", "kubectl logs -f web")
	if !streaming {
		t.Fatal("kubectl logs -f should be streaming")
	}
	_ = timeout

	timeout, streaming = c.ExecPolicy("", "helm list")
	if streaming {
		t.Fatal("helm list is not streaming")
	}
	if timeout == 0 {
		t.Fatal("helm carries a per-tool timeout")
	}
}
