package main

import (
	"github.com/spf13/cobra"

	"github.com/eclipse-ankaios/ankaios-go/pkg/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a manifest file",
	Long: `Apply the workloads of a manifest on top of the current desired
state. Unlike "set state" without masks, apply never touches workloads
the manifest does not name. With --delete the named workloads are
removed instead.

Examples:
  # Add or update the manifest's workloads
  ank apply -f manifest.yaml

  # Remove the manifest's workloads
  ank apply --delete -f manifest.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "Manifest file to apply (required)")
	applyCmd.Flags().Bool("delete", false, "Delete the manifest's workloads instead of applying them")
	_ = applyCmd.MarkFlagRequired("file")
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	deleteMode, _ := cmd.Flags().GetBool("delete")

	manifest, err := readStateFile(filename)
	if err != nil {
		return err
	}
	if manifest.DesiredState == nil || len(manifest.DesiredState.Workloads) == 0 {
		return usagef("%s contains no workloads", filename)
	}

	// One mask per named workload scopes the update: apply leaves
	// everything else alone, delete relies on the masked paths being
	// absent from an empty state.
	masks := make([]string, 0, len(manifest.DesiredState.Workloads))
	for name := range manifest.DesiredState.Workloads {
		masks = append(masks, "desiredState.workloads."+name)
	}

	c, err := buildClient(cmd)
	if err != nil {
		return err
	}

	newState := *manifest
	if deleteMode {
		newState = types.CompleteState{}
	}
	result, err := c.UpdateState(cmd.Context(), newState, masks)
	if err != nil {
		return err
	}
	printUpdateResult(result.AddedWorkloads, result.DeletedWorkloads)
	return nil
}
