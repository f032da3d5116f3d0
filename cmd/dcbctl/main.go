package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dcbctl",
	Short: "Maintenance and admin CLI for a filedcb event store",
	Long: `dcbctl operates directly on a filedcb store's RootPath: wiping a
context, backfilling tags, rebuilding projections, or reporting status.
wipe and addtags open the store for the duration of the command; rebuild
and status read and reset the on-disk files directly. No command talks
to any running process.`,
}

func init() {
	rootCmd.PersistentFlags().String("root", "", "store root path (required)")
	rootCmd.PersistentFlags().StringSlice("context", nil, "context name(s) to operate on (required)")
	rootCmd.MarkPersistentFlagRequired("root")
	rootCmd.MarkPersistentFlagRequired("context")

	rootCmd.AddCommand(wipeCmd)
	rootCmd.AddCommand(addTagsCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(statusCmd)
}
