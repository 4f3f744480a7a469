package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mjcarver/opsgate/internal/approval"
)

var approveWait bool

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Answer pending approval requests",
	Long: `Connects to a running "opsgate serve" over the approval socket,
shows the pending decision, and sends back your response. Answers can be
free text: yes, no, "why?", and so on.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reader := bufio.NewReader(os.Stdin)
		for {
			pending, err := approval.Fetch(cfg.Approval.Socket)
			if err != nil {
				return err
			}
			if pending == nil {
				if !approveWait {
					fmt.Println("nothing pending")
					return nil
				}
				time.Sleep(500 * time.Millisecond)
				continue
			}

			fmt.Printf("\nsession: %s\n", pending.SessionID)
			fmt.Printf("[%s] %s\n", strings.ToUpper(pending.Tier), pending.Command)
			if pending.Consequence != "" {
				fmt.Printf("  %s\n", pending.Consequence)
			}
			if !pending.Reversible {
				fmt.Println("  this action is not reversible")
			}
			if pending.Alternative != "" {
				fmt.Printf("  alternative: %s\n", pending.Alternative)
			}
			if pending.Justification != "" {
				fmt.Printf("  %s\n", pending.Justification)
			}
			fmt.Print("> ")

			line, err := reader.ReadString('\n')
			if err != nil {
				return err
			}
			if err := approval.Respond(cfg.Approval.Socket, pending.ID, strings.TrimSpace(line)); err != nil {
				return err
			}
			if !approveWait {
				return nil
			}
		}
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Clear a session's turn counter so the planner may continue",
	Long: `Sends a turn-counter reset to a running "opsgate serve". Use after
reviewing a session that hit its turn limit.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := approval.ResetTurns(cfg.Approval.Socket, args[0]); err != nil {
			return err
		}
		fmt.Printf("turn counter reset for %s\n", args[0])
		return nil
	},
}

func init() {
	approveCmd.Flags().BoolVar(&approveWait, "wait", false, "keep waiting for further requests")
	rootCmd.AddCommand(approveCmd, resumeCmd)
}
