package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mjcarver/opsgate/internal/memory"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := memory.Open(cfg.BasePath, logger)
		if err != nil {
			return err
		}
		for _, meta := range store.Sessions() {
			parent := ""
			if meta.Parent != "" {
				parent = "  <- " + meta.Parent
			}
			fmt.Printf("%-40s %-8s %s%s\n", meta.ID, meta.Status, meta.Goal, parent)
		}
		return nil
	},
}

var sessionsTreeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Show the session DAG",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := memory.Open(cfg.BasePath, logger)
		if err != nil {
			return err
		}
		for _, root := range store.Tree() {
			printNode(root, 0)
		}
		return nil
	},
}

func printNode(n *memory.Node, depth int) {
	fmt.Printf("%s%s [%s] %s\n", strings.Repeat("  ", depth), n.Meta.ID, n.Meta.Status, n.Meta.Goal)
	for _, c := range n.Children {
		printNode(c, depth+1)
	}
}

var sessionsNewCmd = &cobra.Command{
	Use:   "new <goal...>",
	Short: "Create a new session",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := memory.Open(cfg.BasePath, logger)
		if err != nil {
			return err
		}
		id, err := store.CreateSession(strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var forkGoal string

var sessionsForkCmd = &cobra.Command{
	Use:   "fork <session-id>",
	Short: "Fork a session into an independent copy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := memory.Open(cfg.BasePath, logger)
		if err != nil {
			return err
		}
		h, err := store.Fork(args[0], forkGoal)
		if err != nil {
			return err
		}
		id, err := h.Await(context.Background())
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var sessionsCloseCmd = &cobra.Command{
	Use:   "close <session-id>",
	Short: "Close a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := memory.Open(cfg.BasePath, logger)
		if err != nil {
			return err
		}
		return store.CloseSession(args[0])
	},
}

var (
	removePermanent bool
	removeToken     string
)

var sessionsRemoveCmd = &cobra.Command{
	Use:     "remove <session-id>",
	Aliases: []string{"archive", "rm"},
	Short:   "Archive a session (soft delete)",
	Long: `Moves the session into the archived area. With --permanent the data
is removed outright; that requires a confirmation token issued by this
command on a previous run without --token.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := memory.Open(cfg.BasePath, logger)
		if err != nil {
			return err
		}
		if removePermanent && removeToken == "" {
			token, err := store.IssueRemovalToken(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("permanent removal destroys data irrecoverably.\n")
			fmt.Printf("re-run with: opsgate sessions remove %s --permanent --token %s\n", args[0], token)
			return nil
		}
		return store.Archive(args[0], removePermanent, removeToken)
	},
}

func init() {
	sessionsForkCmd.Flags().StringVar(&forkGoal, "goal", "", "goal for the fork (inherits the parent's when omitted)")
	sessionsRemoveCmd.Flags().BoolVar(&removePermanent, "permanent", false, "remove data outright instead of archiving")
	sessionsRemoveCmd.Flags().StringVar(&removeToken, "token", "", "confirmation token for permanent removal")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsTreeCmd, sessionsNewCmd,
		sessionsForkCmd, sessionsCloseCmd, sessionsRemoveCmd)
	rootCmd.AddCommand(sessionsCmd)
}
