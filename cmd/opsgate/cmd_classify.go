package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mjcarver/opsgate/internal/classify"
)

var classifyTool string

var classifyCmd = &cobra.Command{
	Use:   "classify <command...>",
	Short: "Classify a command against the current rule set",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		classifier := classify.New(logger)
		if err := classifier.LoadDir(cfg.RulesDir); err != nil {
			return err
		}

		command := strings.Join(args, " ")
		res := classifier.Classify(classifyTool, command)
		fmt.Printf("tier:    %s\n", res.Tier)
		fmt.Printf("tool:    %s\n", res.Tool)
		if res.Pattern != "" {
			fmt.Printf("pattern: %s\n", res.Pattern)
		} else {
			fmt.Println("pattern: (none matched; deny by default)")
		}

		timeout, streaming := classifier.ExecPolicy(classifyTool, command)
		if timeout > 0 {
			fmt.Printf("timeout: %s\n", timeout)
		}
		if streaming {
			fmt.Println("streaming: yes")
		}
		return nil
	},
}

func init() {
	classifyCmd.Flags().StringVar(&classifyTool, "tool", "", "tool name (derived from the command when omitted)")
	rootCmd.AddCommand(classifyCmd)
}
