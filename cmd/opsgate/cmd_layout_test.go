package main

import (
	"testing"

	"github.com/spf13/cobra"
)

func findCommand(t *testing.T, parent *cobra.Command, name string) *cobra.Command {
	t.Helper()
	for _, c := range parent.Commands() {
		if c.Name() == name {
			return c
		}
	}
	t.Fatalf("command %q not registered under %q", name, parent.Name())
	return nil
}

func hasAlias(c *cobra.Command, alias string) bool {
	for _, a := range c.Aliases {
		if a == alias {
			return true
		}
	}
	return false
}

func TestSessionRemovalAliases(t *testing.T) {
	remove := findCommand(t, findCommand(t, rootCmd, "sessions"), "remove")
	for _, alias := range []string{"archive", "rm"} {
		if !hasAlias(remove, alias) {
			t.Fatalf("sessions remove missing alias %q", alias)
		}
	}
}

func TestAuditSubcommands(t *testing.T) {
	audit := findCommand(t, rootCmd, "audit")
	show := findCommand(t, audit, "show")
	if !hasAlias(show, "tail") {
		t.Fatal("audit show missing alias tail")
	}
	findCommand(t, audit, "milestones")
	findCommand(t, audit, "verify")
	findCommand(t, audit, "export")
}

func TestResumeCommandRegistered(t *testing.T) {
	resume := findCommand(t, rootCmd, "resume")
	if resume.Args == nil {
		t.Fatal("resume should require a session id")
	}
}
