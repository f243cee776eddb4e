package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/eclipse-ankaios/ankaios-go/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run workload NAME",
	Short: "Add a single workload to the desired state",
	Long: `Add or replace one workload without touching the rest of the
desired state.

Example:
  ank run workload nginx --runtime podman --agent agent_A \
      --config 'image: docker.io/nginx:latest'`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 2 || args[0] != "workload" {
			return usagef("expected: ank run workload NAME")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[1]
		agentName, _ := cmd.Flags().GetString("agent")
		runtimeTag, _ := cmd.Flags().GetString("runtime")
		runtimeConfig, _ := cmd.Flags().GetString("config")
		tags, _ := cmd.Flags().GetStringSlice("tags")

		if agentName == "" || runtimeTag == "" || runtimeConfig == "" {
			return usagef("--agent, --runtime and --config are required")
		}

		workload := types.Workload{
			Agent:         agentName,
			Runtime:       runtimeTag,
			RuntimeConfig: runtimeConfig,
		}
		for _, t := range tags {
			key, value, found := strings.Cut(t, "=")
			if !found {
				return usagef("tag %q is not key=value", t)
			}
			workload.Tags = append(workload.Tags, types.Tag{Key: key, Value: value})
		}

		newState := types.CompleteState{
			DesiredState: &types.State{
				APIVersion: types.CurrentAPIVersion,
				Workloads:  map[string]types.Workload{name: workload},
			},
		}

		c, err := buildClient(cmd)
		if err != nil {
			return err
		}
		result, err := c.UpdateState(cmd.Context(), newState,
			[]string{"desiredState.workloads." + name})
		if err != nil {
			return err
		}
		printUpdateResult(result.AddedWorkloads, result.DeletedWorkloads)
		return nil
	},
}

func init() {
	runCmd.Flags().String("agent", "", "Agent to run the workload on")
	runCmd.Flags().String("runtime", "podman", "Runtime tag")
	runCmd.Flags().String("config", "", "Runtime configuration (YAML)")
	runCmd.Flags().StringSlice("tags", nil, "key=value tags")
}
