package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/eclipse-ankaios/ankaios-go/pkg/types"
)

var setCmd = &cobra.Command{
	Use:   "set",
	Short: "Write state to the server",
}

var setStateCmd = &cobra.Command{
	Use:   "state [update-mask...]",
	Short: "Apply a state file, optionally restricted to mask paths",
	Long: `Apply a CompleteState manifest. Without masks the whole desired
state is replaced; with masks only the named subtrees change, and a
mask path absent from the file deletes that subtree.

Examples:
  # Replace the desired state
  ank set state -f state.yaml

  # Move one workload to another agent
  ank set state -f state.yaml desiredState.workloads.nginx.agent`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			return usagef("--file is required")
		}

		newState, err := readStateFile(file)
		if err != nil {
			return err
		}

		c, err := buildClient(cmd)
		if err != nil {
			return err
		}
		result, err := c.UpdateState(cmd.Context(), *newState, args)
		if err != nil {
			return err
		}
		printUpdateResult(result.AddedWorkloads, result.DeletedWorkloads)
		return nil
	},
}

func init() {
	setStateCmd.Flags().StringP("file", "f", "", "State manifest file (required)")
	setCmd.AddCommand(setStateCmd)
}

func readStateFile(path string) (*types.CompleteState, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, usagef("cannot read %s: %v", path, err)
	}
	state := &types.CompleteState{}
	if err := yaml.Unmarshal(raw, state); err != nil {
		return nil, usagef("cannot parse %s: %v", path, err)
	}
	return state, nil
}

func printUpdateResult(added, deleted []string) {
	for _, name := range added {
		fmt.Printf("+ %s\n", name)
	}
	for _, name := range deleted {
		fmt.Printf("- %s\n", name)
	}
	if len(added) == 0 && len(deleted) == 0 {
		fmt.Println("No changes.")
	}
}
