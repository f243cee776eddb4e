package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eclipse-ankaios/ankaios-go/pkg/api"
	"github.com/eclipse-ankaios/ankaios-go/pkg/types"
)

func storeWith(states ...types.WorkloadState) *StateStore {
	s := NewStateStore()
	for _, ws := range states {
		s.Update(ws)
	}
	return s
}

func depSpec(name string, deps map[string]types.AddCondition) api.AddedWorkload {
	return api.AddedFromSpec(name, types.Workload{
		Agent:         "agent_A",
		Runtime:       "podman",
		RuntimeConfig: "image: " + name,
		Dependencies:  deps,
	})
}

func observation(name, id string, state types.ExecutionState) types.WorkloadState {
	return types.WorkloadState{
		InstanceName:   types.WorkloadInstanceName{WorkloadName: name, AgentName: "agent_A", ID: id},
		ExecutionState: state,
	}
}

func TestCreateFulfilled(t *testing.T) {
	spec := depSpec("app", map[string]types.AddCondition{
		"db":  types.AddCondRunning,
		"job": types.AddCondSucceeded,
	})

	tests := []struct {
		name  string
		store *StateStore
		want  bool
	}{
		{
			name:  "no states known",
			store: NewStateStore(),
			want:  false,
		},
		{
			name: "one dependency missing",
			store: storeWith(
				observation("db", "h1", types.StateRunningOK()),
			),
			want: false,
		},
		{
			name: "condition not reached",
			store: storeWith(
				observation("db", "h1", types.StateRunningOK()),
				observation("job", "h2", types.StateRunningOK()),
			),
			want: false,
		},
		{
			name: "all conditions met",
			store: storeWith(
				observation("db", "h1", types.StateRunningOK()),
				observation("job", "h2", types.StateSucceededOK()),
			),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, createFulfilled(spec, tt.store))
		})
	}
}

func TestCreateFulfilledNoDependencies(t *testing.T) {
	assert.True(t, createFulfilled(depSpec("solo", nil), NewStateStore()))
}

func TestDeleteFulfilled(t *testing.T) {
	app := depSpec("app", map[string]types.AddCondition{"db": types.AddCondRunning})
	local := []api.AddedWorkload{app}

	t.Run("dependent still running", func(t *testing.T) {
		store := storeWith(observation("app", "h1", types.StateRunningOK()))
		assert.False(t, deleteFulfilled("db", local, store))
	})

	t.Run("dependent pending", func(t *testing.T) {
		store := storeWith(observation("app", "h1", types.StateWaitingToStart()))
		assert.False(t, deleteFulfilled("db", local, store))
	})

	t.Run("dependent finished", func(t *testing.T) {
		store := storeWith(observation("app", "h1", types.StateSucceededOK()))
		assert.True(t, deleteFulfilled("db", local, store))
	})

	t.Run("no dependents", func(t *testing.T) {
		store := storeWith(observation("app", "h1", types.StateRunningOK()))
		assert.True(t, deleteFulfilled("web", local, store))
	})

	t.Run("dependent never started", func(t *testing.T) {
		assert.True(t, deleteFulfilled("db", local, NewStateStore()))
	})
}
