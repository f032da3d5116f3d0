package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report ledger position and projection checkpoints per context",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, _ := cmd.Flags().GetString("root")
		contexts, _ := cmd.Flags().GetStringSlice("context")
		if root == "" || len(contexts) == 0 {
			return fmt.Errorf("--root and --context are required")
		}
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("resolve --root: %w", err)
		}

		for _, c := range contexts {
			contextDir := filepath.Join(absRoot, c)
			ledgerPos, err := readLedgerFile(filepath.Join(contextDir, ".ledger"))
			if err != nil {
				return fmt.Errorf("status %s: %w", c, err)
			}
			fmt.Printf("%s: ledger position %d\n", c, ledgerPos)

			names, err := listProjections(filepath.Join(contextDir, "Projections"))
			if err != nil {
				return fmt.Errorf("status %s: %w", c, err)
			}
			for _, name := range names {
				checkpoint, err := readLedgerFile(filepath.Join(contextDir, "Projections", name, ".checkpoint"))
				if err != nil {
					return fmt.Errorf("status %s/%s: %w", c, name, err)
				}
				fmt.Printf("%s:   projection %q checkpoint %d\n", c, name, checkpoint)
			}
		}
		return nil
	},
}

func readLedgerFile(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

func listProjections(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
