package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/gatekeep/internal/client"
	"github.com/alfredjeanlab/gatekeep/internal/ui"
)

var errDenied = errors.New("access denied")

var evaluateAllowUnknown bool

var evaluateCmd = &cobra.Command{
	Use:     "evaluate <event> <gate-id> <category>",
	Short:   "Decide whether a wristband category may enter at a gate",
	GroupID: "gates",
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := gatesClient.Evaluate(cmd.Context(), args[0], &client.EvaluateRequest{
			GateID:       args[1],
			Category:     args[2],
			AllowUnknown: evaluateAllowUnknown,
		})
		if err != nil {
			return fmt.Errorf("evaluating: %w", err)
		}
		if jsonOutput {
			if err := printJSON(cmd.OutOrStdout(), d); err != nil {
				return err
			}
		} else {
			line := fmt.Sprintf("%s  %s  %s", ui.RenderDecision(d.Allowed), ui.RenderStatus(d.Status), d.Reason)
			if d.LearningMode {
				line += "  " + ui.RenderMuted("(learning)")
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		if !d.Allowed {
			return errDenied
		}
		return nil
	},
}

func init() {
	evaluateCmd.Flags().BoolVar(&evaluateAllowUnknown, "allow-unknown", false, "allow categories with no binding at the gate")
}
