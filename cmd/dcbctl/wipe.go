package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Destructively remove every file under the given context(s)",
	Long: `wipe removes all events, indices, and projection state under each
--context directory, clearing any write-protect bits first. The
directory skeleton is recreated empty; this does not delete the
context from future Store configurations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("refusing to wipe without --yes")
		}

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		contexts, _ := cmd.Flags().GetStringSlice("context")
		for _, c := range contexts {
			if err := store.DeleteStore(c); err != nil {
				return fmt.Errorf("wipe %s: %w", c, err)
			}
			fmt.Printf("wiped context %q\n", c)
		}
		return nil
	},
}

func init() {
	wipeCmd.Flags().Bool("yes", false, "confirm the destructive wipe")
}
