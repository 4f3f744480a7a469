package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mjcarver/opsgate/internal/redact"
)

var scrubCmd = &cobra.Command{
	Use:   "scrub",
	Short: "Scrub secrets from stdin",
	Long: `Reads text from stdin and writes it back with secrets replaced by
sentinels. The same scrubber runs on every export and trace copy.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		fmt.Print(redact.Scrub(string(data)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scrubCmd)
}
