package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/gatekeep/internal/idgen"
)

var discoverCmd = &cobra.Command{
	Use:     "discover <event>",
	Short:   "Cluster unlinked check-ins into gates and update bindings",
	GroupID: "jobs",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := gatesClient.RunDiscovery(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("running discovery: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), report)
		}
		printDiscoveryReport(cmd.OutOrStdout(), report)
		return nil
	},
}

var dedupCmd = &cobra.Command{
	Use:     "dedup <event>",
	Short:   "Merge duplicate gates of an event",
	GroupID: "jobs",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := gatesClient.RunDeduplication(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("running deduplication: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), report)
		}
		printDeduplicationReport(cmd.OutOrStdout(), report)
		return nil
	},
}

var mergeCmd = &cobra.Command{
	Use:     "merge <event> <gate-id> <gate-id>...",
	Short:   "Merge the given gates into the oldest of them",
	GroupID: "jobs",
	Args:    cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		seen := make(map[string]bool, len(args)-1)
		for _, id := range args[1:] {
			if !idgen.Valid(id, idgen.GatePrefix) {
				return fmt.Errorf("%q is not a gate id", id)
			}
			if seen[id] {
				return fmt.Errorf("gate %s listed twice", id)
			}
			seen[id] = true
		}
		report, err := gatesClient.MergeGates(cmd.Context(), args[0], args[1:])
		if err != nil {
			return fmt.Errorf("merging gates: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), report)
		}
		printDeduplicationReport(cmd.OutOrStdout(), report)
		return nil
	},
}

var applyCmd = &cobra.Command{
	Use:     "apply <event> <gate-id> <category>",
	Short:   "Apply a post-merge recommendation if it promotes the binding",
	GroupID: "jobs",
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := gatesClient.ApplyRecommendation(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			return fmt.Errorf("applying recommendation: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), resp)
		}
		printApplied(cmd.OutOrStdout(), resp)
		return nil
	},
}
