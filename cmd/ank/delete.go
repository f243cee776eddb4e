package main

import (
	"github.com/spf13/cobra"

	"github.com/eclipse-ankaios/ankaios-go/pkg/types"
)

var deleteCmd = &cobra.Command{
	Use:   "delete workload NAME...",
	Short: "Remove workloads from the desired state",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) < 2 || args[0] != "workload" {
			return usagef("expected: ank delete workload NAME...")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		names := args[1:]

		// Deleting is a masked update that omits the named paths.
		masks := make([]string, 0, len(names))
		for _, name := range names {
			masks = append(masks, "desiredState.workloads."+name)
		}

		c, err := buildClient(cmd)
		if err != nil {
			return err
		}
		result, err := c.UpdateState(cmd.Context(), types.CompleteState{}, masks)
		if err != nil {
			return err
		}
		printUpdateResult(result.AddedWorkloads, result.DeletedWorkloads)
		return nil
	},
}
