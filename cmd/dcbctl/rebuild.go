package main

import (
	"fmt"
	"path/filepath"

	"github.com/rdpk/filedcb/internal/fsutil"
	"github.com/spf13/cobra"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Reset a projection's checkpoint and state for reprocessing",
	Long: `rebuild clears the named projection's state and checkpoint files on
disk. dcbctl does not itself know a projection's KeySelector or Apply
function (those live in the host process's Go code), so this command
only resets the on-disk checkpoint to zero; the next time the owning
process calls Update for this projection, it reprocesses the full event
history from scratch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, _ := cmd.Flags().GetString("root")
		contexts, _ := cmd.Flags().GetStringSlice("context")
		name, _ := cmd.Flags().GetString("projection")
		if root == "" || len(contexts) == 0 {
			return fmt.Errorf("--root and --context are required")
		}
		if name == "" {
			return fmt.Errorf("--projection is required")
		}
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("resolve --root: %w", err)
		}

		for _, c := range contexts {
			dir := filepath.Join(absRoot, c, "Projections", name)
			if err := fsutil.RemoveAllWritable(dir); err != nil {
				return fmt.Errorf("rebuild %s/%s: %w", c, name, err)
			}
			if err := fsutil.EnsureDir(dir); err != nil {
				return fmt.Errorf("rebuild %s/%s: %w", c, name, err)
			}
			fmt.Printf("%s: projection %q reset to checkpoint 0\n", c, name)
		}
		return nil
	},
}

func init() {
	rebuildCmd.Flags().String("projection", "", "projection name to reset (required)")
}
