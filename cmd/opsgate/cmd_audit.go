package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mjcarver/opsgate/internal/memory"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect session timelines",
}

var auditAfter uint64

var auditShowCmd = &cobra.Command{
	Use:     "show <session-id>",
	Aliases: []string{"tail"},
	Short:   "Print timeline entries",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := memory.Open(cfg.BasePath, logger)
		if err != nil {
			return err
		}
		entries, err := store.ReadSince(args[0], auditAfter)
		if err != nil {
			return err
		}
		for _, e := range entries {
			line := fmt.Sprintf("[%d] %s %s/%s", e.Seq, e.Time.Format("15:04:05"), e.Actor, e.Kind)
			if e.Command != "" {
				line += " " + e.Command
			}
			if e.Tier != "" {
				line += " (" + e.Tier + ")"
			}
			if e.Outcome != "" {
				line += " -> " + e.Outcome
			}
			if e.Text != "" {
				line += " " + e.Text
			}
			fmt.Println(line)
		}
		return nil
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <session-id>",
	Short: "Verify the timeline's hash chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := memory.Open(cfg.BasePath, logger)
		if err != nil {
			return err
		}
		if err := store.Verify(args[0]); err != nil {
			return err
		}
		fmt.Println("chain verified")
		return nil
	},
}

var auditExportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a scrubbed, human-readable timeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := memory.Open(cfg.BasePath, logger)
		if err != nil {
			return err
		}
		out, err := store.Export(args[0])
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

var milestonesLast int

var auditMilestonesCmd = &cobra.Command{
	Use:   "milestones <session-id>",
	Short: "Print the session's milestone recap",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := memory.Open(cfg.BasePath, logger)
		if err != nil {
			return err
		}
		ms, err := store.RecentMilestones(args[0], milestonesLast)
		if err != nil {
			return err
		}
		for _, m := range ms {
			line := fmt.Sprintf("[%d] %s %s", m.Seq, m.Time.Format("2006-01-02 15:04"), m.Summary)
			if m.Finding != "" {
				line += ": " + m.Finding
			}
			fmt.Println(line)
		}
		return nil
	},
}

var milestoneFinding string

var milestoneCmd = &cobra.Command{
	Use:   "milestone <session-id> <summary...>",
	Short: "Record a confirmed finding",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := memory.Open(cfg.BasePath, logger)
		if err != nil {
			return err
		}
		summary := ""
		for _, a := range args[1:] {
			if summary != "" {
				summary += " "
			}
			summary += a
		}
		seq, err := store.Seq(args[0])
		if err != nil {
			return err
		}
		var refs []uint64
		if seq > 0 {
			refs = []uint64{seq}
		}
		return store.CommitMilestone(args[0], summary, milestoneFinding, refs)
	},
}

func init() {
	auditShowCmd.Flags().Uint64Var(&auditAfter, "after", 0, "show entries with seq greater than this")
	auditMilestonesCmd.Flags().IntVar(&milestonesLast, "last", 0, "show only the most recent N milestones")
	milestoneCmd.Flags().StringVar(&milestoneFinding, "finding", "", "the confirmed finding")

	auditCmd.AddCommand(auditShowCmd, auditVerifyCmd, auditExportCmd, auditMilestonesCmd)
	rootCmd.AddCommand(auditCmd, milestoneCmd)
}
