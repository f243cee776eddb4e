package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Read state from the server",
}

var getStateCmd = &cobra.Command{
	Use:   "state [field-mask...]",
	Short: "Print the complete state as YAML",
	Long: `Print the complete state, optionally filtered by dotted-path field
masks.

Examples:
  # Full state
  ank get state

  # Only the desired workloads
  ank get state desiredState.workloads

  # One workload's agent assignment
  ank get state desiredState.workloads.nginx.agent`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildClient(cmd)
		if err != nil {
			return err
		}
		state, err := c.GetCompleteState(cmd.Context(), args)
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(state)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

var getWorkloadsCmd = &cobra.Command{
	Use:   "workloads",
	Short: "List workloads with their execution states",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildClient(cmd)
		if err != nil {
			return err
		}
		state, err := c.GetCompleteState(cmd.Context(), []string{"workloadStates"})
		if err != nil {
			return err
		}

		entries := state.WorkloadStates.Entries()
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].InstanceName.String() < entries[j].InstanceName.String()
		})

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 3, ' ', 0)
		fmt.Fprintln(w, "WORKLOAD NAME\tAGENT\tEXECUTION STATE\tADDITIONAL INFO")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s(%s)\t%s\n",
				e.InstanceName.WorkloadName,
				e.InstanceName.AgentName,
				e.ExecutionState.State,
				e.ExecutionState.Substate,
				e.ExecutionState.AdditionalInfo,
			)
		}
		return w.Flush()
	},
}

var getAgentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List connected agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildClient(cmd)
		if err != nil {
			return err
		}
		state, err := c.GetCompleteState(cmd.Context(), []string{"agents", "desiredState.workloads"})
		if err != nil {
			return err
		}

		perAgent := map[string]int{}
		if state.DesiredState != nil {
			for _, wl := range state.DesiredState.Workloads {
				perAgent[wl.Agent]++
			}
		}

		names := make([]string, 0, len(state.Agents))
		for name := range state.Agents {
			names = append(names, name)
		}
		sort.Strings(names)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 3, ' ', 0)
		fmt.Fprintln(w, "NAME\tWORKLOADS\tCONNECTED SINCE")
		for _, name := range names {
			fmt.Fprintf(w, "%s\t%d\t%s\n", name, perAgent[name], state.Agents[name].ConnectedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

func init() {
	getCmd.AddCommand(getStateCmd)
	getCmd.AddCommand(getWorkloadsCmd)
	getCmd.AddCommand(getAgentsCmd)
}
