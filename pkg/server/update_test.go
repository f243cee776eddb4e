package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-ankaios/ankaios-go/pkg/api"
	"github.com/eclipse-ankaios/ankaios-go/pkg/types"
)

func stateWith(workloads map[string]types.Workload) *types.State {
	return &types.State{APIVersion: types.CurrentAPIVersion, Workloads: workloads}
}

func TestComputeDeltaAdd(t *testing.T) {
	old := stateWith(nil)
	next := stateWith(map[string]types.Workload{
		"nginx": {Agent: "agent_A", Runtime: "podman", RuntimeConfig: "image: nginx"},
	})

	d := computeDelta(old, next)
	require.Contains(t, d.perAgent, "agent_A")
	assert.Len(t, d.perAgent["agent_A"].Added, 1)
	assert.Empty(t, d.perAgent["agent_A"].Deleted)
	assert.Len(t, d.added, 1)
	assert.Empty(t, d.deleted)
}

func TestComputeDeltaRemove(t *testing.T) {
	old := stateWith(map[string]types.Workload{
		"nginx": {Agent: "agent_A", Runtime: "podman", RuntimeConfig: "image: nginx"},
	})
	next := stateWith(nil)

	d := computeDelta(old, next)
	require.Contains(t, d.perAgent, "agent_A")
	assert.Empty(t, d.perAgent["agent_A"].Added)
	assert.Len(t, d.perAgent["agent_A"].Deleted, 1)
}

func TestComputeDeltaUnchangedIsNoop(t *testing.T) {
	workloads := map[string]types.Workload{
		"nginx": {Agent: "agent_A", Runtime: "podman", RuntimeConfig: "image: nginx"},
	}
	d := computeDelta(stateWith(workloads), stateWith(workloads))
	assert.True(t, d.empty())
	assert.Empty(t, d.perAgent)
}

func TestComputeDeltaAgentMove(t *testing.T) {
	old := stateWith(map[string]types.Workload{
		"w": {Agent: "agent_A", Runtime: "podman", RuntimeConfig: "image: w"},
	})
	next := stateWith(map[string]types.Workload{
		"w": {Agent: "agent_B", Runtime: "podman", RuntimeConfig: "image: w"},
	})

	d := computeDelta(old, next)
	require.Contains(t, d.perAgent, "agent_A")
	require.Contains(t, d.perAgent, "agent_B")

	assert.Len(t, d.perAgent["agent_A"].Deleted, 1)
	assert.Empty(t, d.perAgent["agent_A"].Added)
	assert.Len(t, d.perAgent["agent_B"].Added, 1)
	assert.Empty(t, d.perAgent["agent_B"].Deleted)

	assert.Equal(t, "agent_A", d.perAgent["agent_A"].Deleted[0].InstanceName.AgentName)
	assert.Equal(t, "agent_B", d.perAgent["agent_B"].Added[0].InstanceName.AgentName)
}

func TestComputeDeltaHashChange(t *testing.T) {
	old := stateWith(map[string]types.Workload{
		"w": {Agent: "agent_A", Runtime: "podman", RuntimeConfig: "image: w:1"},
	})
	next := stateWith(map[string]types.Workload{
		"w": {Agent: "agent_A", Runtime: "podman", RuntimeConfig: "image: w:2"},
	})

	d := computeDelta(old, next)
	cmd := d.perAgent["agent_A"]
	require.NotNil(t, cmd)

	// Old hash deleted, new hash added, on the same agent.
	require.Len(t, cmd.Deleted, 1)
	require.Len(t, cmd.Added, 1)
	assert.NotEqual(t, cmd.Deleted[0].InstanceName.ID, cmd.Added[0].InstanceName.ID)
}

func TestApplyUpdateRejectsInvalidCandidate(t *testing.T) {
	current := stateWith(nil)
	req := &api.UpdateStateRequest{
		NewState: types.CompleteState{
			DesiredState: stateWith(map[string]types.Workload{
				"nginx": {Agent: "agent_A", Runtime: "rocket", RuntimeConfig: "image: nginx"},
			}),
		},
	}

	_, err := applyUpdate(current, req, map[string]bool{"podman": true})
	assert.True(t, types.IsValidation(err))
}

func TestApplyUpdateMasksOutsideDesiredStateAreNoop(t *testing.T) {
	current := stateWith(map[string]types.Workload{
		"nginx": {Agent: "agent_A", Runtime: "podman", RuntimeConfig: "image: nginx"},
	})
	req := &api.UpdateStateRequest{
		NewState:   types.CompleteState{},
		UpdateMask: []string{"workloadStates", "agents"},
	}

	candidate, err := applyUpdate(current, req, nil)
	require.NoError(t, err)
	assert.Equal(t, current.Workloads, candidate.Workloads)
	assert.True(t, computeDelta(current, candidate).empty())
}
