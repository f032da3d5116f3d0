package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rdpk/filedcb/pkg/dcb"
	"github.com/spf13/cobra"
)

var addTagsCmd = &cobra.Command{
	Use:   "addtags",
	Short: "Backfill tags onto every existing event of a given type",
	RunE: func(cmd *cobra.Command, args []string) error {
		eventType, _ := cmd.Flags().GetString("event-type")
		tagPairs, _ := cmd.Flags().GetStringSlice("tag")
		if eventType == "" {
			return fmt.Errorf("--event-type is required")
		}
		tags, err := parseTagFlags(tagPairs)
		if err != nil {
			return err
		}

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		contexts, _ := cmd.Flags().GetStringSlice("context")
		for _, c := range contexts {
			added, processed, err := store.AddTags(context.Background(), c, eventType, tags)
			if err != nil {
				return fmt.Errorf("addtags %s: %w", c, err)
			}
			fmt.Printf("%s: %d tags added across %d events\n", c, added, processed)
		}
		return nil
	},
}

func init() {
	addTagsCmd.Flags().String("event-type", "", "event type to backfill (required)")
	addTagsCmd.Flags().StringSlice("tag", nil, "key=value pair, repeatable")
}

func parseTagFlags(pairs []string) ([]dcb.Tag, error) {
	tags := make([]dcb.Tag, 0, len(pairs))
	for _, p := range pairs {
		idx := strings.IndexByte(p, '=')
		if idx < 0 {
			return nil, fmt.Errorf("--tag %q must be key=value", p)
		}
		tags = append(tags, dcb.NewTag(p[:idx], p[idx+1:]))
	}
	return tags, nil
}
