// Package drift watches for environment changes, repeated-command loops,
// and runaway sessions. It only emits signals; acting on them stays with
// the gate's caller so policy decisions live in one place.
package drift

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Snapshot is a stable fingerprint of the live environment. Only booleans
// and enums participate in the hash; raw error text never does, so a
// transient message format change can not fake an environment change.
type Snapshot struct {
	OS    string          `json:"os"`
	Shell string          `json:"shell"`
	Tools map[string]bool `json:"tools"`
}

// Hash returns a stable digest of the snapshot's fields.
func (s Snapshot) Hash() string {
	names := make([]string, 0, len(s.Tools))
	for name := range s.Tools {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "os=%s;shell=%s", s.OS, s.Shell)
	for _, name := range names {
		fmt.Fprintf(&b, ";%s=%t", name, s.Tools[name])
	}
	h := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", h)
}

// Probe checks tool availability in parallel and returns a fresh snapshot.
func Probe(ctx context.Context, shell string, tools []string) Snapshot {
	snap := Snapshot{
		OS:    runtime.GOOS,
		Shell: shell,
		Tools: make(map[string]bool, len(tools)),
	}

	var mu sync.Mutex
	g, _ := errgroup.WithContext(ctx)
	for _, tool := range tools {
		g.Go(func() error {
			_, err := exec.LookPath(tool)
			mu.Lock()
			snap.Tools[tool] = err == nil
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return snap
}
