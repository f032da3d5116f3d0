package main

import (
	"fmt"
	"path/filepath"

	"github.com/rdpk/filedcb/pkg/dcb"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func openStore(cmd *cobra.Command) (*dcb.Store, error) {
	root, err := cmd.Flags().GetString("root")
	if err != nil {
		return nil, err
	}
	contexts, err := cmd.Flags().GetStringSlice("context")
	if err != nil {
		return nil, err
	}
	if root == "" || len(contexts) == 0 {
		return nil, fmt.Errorf("--root and --context are required")
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve --root: %w", err)
	}

	logger := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	return dcb.Open(dcb.StoreConfig{
		RootPath: root,
		Contexts: contexts,
		Logger:   &logger,
	})
}
