package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var gatesCmd = &cobra.Command{
	Use:     "gates <event> [gate-id]",
	Short:   "List the gates learned for an event, or show one gate",
	GroupID: "gates",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if len(args) == 2 {
			gate, err := gatesClient.GetGate(ctx, args[0], args[1])
			if err != nil {
				return fmt.Errorf("getting gate: %w", err)
			}
			bindings, err := gatesClient.ListBindings(ctx, args[0], args[1])
			if err != nil {
				return fmt.Errorf("listing bindings: %w", err)
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{"gate": gate, "bindings": bindings})
			}
			printGate(cmd.OutOrStdout(), gate)
			fmt.Fprintln(cmd.OutOrStdout())
			printBindingTable(cmd.OutOrStdout(), bindings)
			return nil
		}

		gates, err := gatesClient.ListGates(ctx, args[0])
		if err != nil {
			return fmt.Errorf("listing gates: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), gates)
		}
		printGateTable(cmd.OutOrStdout(), gates)
		return nil
	},
}

var bindingsGateID string

var bindingsCmd = &cobra.Command{
	Use:     "bindings <event>",
	Short:   "List gate/category bindings for an event",
	GroupID: "gates",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bindings, err := gatesClient.ListBindings(cmd.Context(), args[0], bindingsGateID)
		if err != nil {
			return fmt.Errorf("listing bindings: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), bindings)
		}
		printBindingTable(cmd.OutOrStdout(), bindings)
		return nil
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:     "history <event>",
	Short:   "Show recent gate and binding events",
	GroupID: "gates",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		evts, err := gatesClient.History(cmd.Context(), args[0], 0, historyLimit)
		if err != nil {
			return fmt.Errorf("getting history: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), evts)
		}
		printHistory(cmd.OutOrStdout(), evts)
		return nil
	},
}

func init() {
	bindingsCmd.Flags().StringVar(&bindingsGateID, "gate", "", "only show bindings of this gate")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum number of events")
}
