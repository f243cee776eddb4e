package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoWorkloadState() *CompleteState {
	return &CompleteState{
		DesiredState: &State{
			APIVersion: CurrentAPIVersion,
			Workloads: map[string]Workload{
				"nginx": {Agent: "agent_A", Runtime: "podman", RuntimeConfig: "image: nginx"},
				"redis": {Agent: "agent_B", Runtime: "podman", RuntimeConfig: "image: redis"},
			},
		},
	}
}

func TestFilterCompleteSelectsSubtree(t *testing.T) {
	filtered, err := FilterComplete(twoWorkloadState(), []string{"desiredState.workloads.nginx"})
	require.NoError(t, err)
	require.NotNil(t, filtered.DesiredState)

	assert.Contains(t, filtered.DesiredState.Workloads, "nginx")
	assert.NotContains(t, filtered.DesiredState.Workloads, "redis")
}

func TestFilterCompleteMissingBranchIsNoop(t *testing.T) {
	filtered, err := FilterComplete(twoWorkloadState(), []string{"desiredState.workloads.ghost"})
	require.NoError(t, err)
	// Nothing is selected, so no sub-tree is present in the result.
	assert.Equal(t, &CompleteState{}, filtered)
}

func TestFilterCompleteEmptyMaskReturnsAll(t *testing.T) {
	state := twoWorkloadState()
	filtered, err := FilterComplete(state, nil)
	require.NoError(t, err)
	assert.Equal(t, state, filtered)
}

func TestApplyUpdateFullReplace(t *testing.T) {
	next := &CompleteState{
		DesiredState: &State{
			APIVersion: CurrentAPIVersion,
			Workloads: map[string]Workload{
				"only": {Agent: "agent_C", Runtime: "podman", RuntimeConfig: "image: only"},
			},
		},
	}

	merged, err := ApplyUpdate(twoWorkloadState(), next, nil)
	require.NoError(t, err)
	require.NotNil(t, merged.DesiredState)
	assert.Len(t, merged.DesiredState.Workloads, 1)
	assert.Contains(t, merged.DesiredState.Workloads, "only")
}

func TestApplyUpdateMaskedOverwrite(t *testing.T) {
	next := &CompleteState{
		DesiredState: &State{
			APIVersion: CurrentAPIVersion,
			Workloads: map[string]Workload{
				"nginx": {Agent: "agent_B", Runtime: "podman", RuntimeConfig: "image: nginx"},
			},
		},
	}

	merged, err := ApplyUpdate(twoWorkloadState(), next, []string{"desiredState.workloads.nginx.agent"})
	require.NoError(t, err)

	// Only the agent field moved; redis is untouched.
	assert.Equal(t, "agent_B", merged.DesiredState.Workloads["nginx"].Agent)
	assert.Equal(t, "image: nginx", merged.DesiredState.Workloads["nginx"].RuntimeConfig)
	assert.Contains(t, merged.DesiredState.Workloads, "redis")
}

func TestApplyUpdateMaskedDelete(t *testing.T) {
	merged, err := ApplyUpdate(twoWorkloadState(), &CompleteState{}, []string{"desiredState.workloads.redis"})
	require.NoError(t, err)

	assert.NotContains(t, merged.DesiredState.Workloads, "redis")
	assert.Contains(t, merged.DesiredState.Workloads, "nginx")
}

func TestApplyUpdateMissingBranchIsNoop(t *testing.T) {
	current := twoWorkloadState()
	merged, err := ApplyUpdate(current, &CompleteState{}, []string{"desiredState.workloads.ghost.agent"})
	require.NoError(t, err)
	assert.Equal(t, current.DesiredState.Workloads["nginx"], merged.DesiredState.Workloads["nginx"])
	assert.Len(t, merged.DesiredState.Workloads, 2)
}

// Round-trip law: applying a state and reading it back with a
// desired-state mask yields the same desired state.
func TestApplyThenFilterRoundTrip(t *testing.T) {
	state := twoWorkloadState()

	merged, err := ApplyUpdate(&CompleteState{}, state, nil)
	require.NoError(t, err)

	filtered, err := FilterComplete(merged, []string{"desiredState"})
	require.NoError(t, err)
	assert.Equal(t, state.DesiredState.Workloads, filtered.DesiredState.Workloads)
	assert.Equal(t, state.DesiredState.APIVersion, filtered.DesiredState.APIVersion)
}
