package agent

import (
	"github.com/eclipse-ankaios/ankaios-go/pkg/api"
	"github.com/eclipse-ankaios/ankaios-go/pkg/types"
)

// Dependency gating. A create is held until every declared condition
// is satisfied by the latest cluster-wide snapshot; a delete is held
// while a workload on this agent still needs the deleted one. The
// conditions are re-evaluated whenever the state store changes.

// createFulfilled reports whether all of the workload's dependency
// conditions hold. A dependency with no known state is unmet, which
// parks the workload in Pending(WaitingToStart).
func createFulfilled(spec api.AddedWorkload, store *StateStore) bool {
	for dep, cond := range spec.Dependencies {
		state, known := store.StateOf(dep)
		if !known || !cond.Fulfilled(state) {
			return false
		}
	}
	return true
}

// deleteFulfilled reports whether the named workload may be torn down:
// no workload assigned to this agent that declares a dependency on it
// may still be pending, running or stopping. Dependents on other agents
// are not consulted.
func deleteFulfilled(workloadName string, localSpecs []api.AddedWorkload, store *StateStore) bool {
	for _, spec := range localSpecs {
		if _, depends := spec.Dependencies[workloadName]; !depends {
			continue
		}
		state, known := store.StateOf(spec.InstanceName.WorkloadName)
		if !known {
			continue
		}
		switch state.State {
		case types.StatePending, types.StateRunning, types.StateStopping:
			return false
		}
	}
	return true
}
