package types

// WorkloadState is one observation: the execution state of a specific
// workload instance on a specific agent.
type WorkloadState struct {
	InstanceName   WorkloadInstanceName `yaml:"instanceName" json:"instanceName" cbor:"1,keyasint"`
	ExecutionState ExecutionState       `yaml:"executionState" json:"executionState" cbor:"2,keyasint"`
}

// WorkloadStatesMap aggregates observations three levels deep:
// agent name -> workload name -> instance id -> execution state.
// Keeping the instance id as the innermost key lets stale states from a
// prior instance coexist briefly with the new one until the Removed
// observation for the old id arrives and purges it.
type WorkloadStatesMap map[string]map[string]map[string]ExecutionState

// Put merges one observation, last writer wins per triple.
func (m WorkloadStatesMap) Put(state WorkloadState) {
	n := state.InstanceName
	byWorkload, ok := m[n.AgentName]
	if !ok {
		byWorkload = make(map[string]map[string]ExecutionState)
		m[n.AgentName] = byWorkload
	}
	byID, ok := byWorkload[n.WorkloadName]
	if !ok {
		byID = make(map[string]ExecutionState)
		byWorkload[n.WorkloadName] = byID
	}
	byID[n.ID] = state.ExecutionState
}

// Get returns the execution state stored for the instance name.
func (m WorkloadStatesMap) Get(n WorkloadInstanceName) (ExecutionState, bool) {
	state, ok := m[n.AgentName][n.WorkloadName][n.ID]
	return state, ok
}

// GetByWorkloadName returns the most relevant state for a workload name
// regardless of agent and instance id. Dependencies are declared by
// workload name only, so the lookup scans all agents; with several
// instances alive during a hash change, a non-removed entry wins.
func (m WorkloadStatesMap) GetByWorkloadName(name string) (ExecutionState, bool) {
	var found ExecutionState
	var ok bool
	for _, byWorkload := range m {
		for id := range byWorkload[name] {
			state := byWorkload[name][id]
			if !ok || found.IsRemoved() {
				found, ok = state, true
			}
		}
	}
	return found, ok
}

// Remove deletes the entry for the instance name, pruning empty levels.
func (m WorkloadStatesMap) Remove(n WorkloadInstanceName) {
	byWorkload := m[n.AgentName]
	byID := byWorkload[n.WorkloadName]
	delete(byID, n.ID)
	if len(byID) == 0 {
		delete(byWorkload, n.WorkloadName)
	}
	if len(byWorkload) == 0 {
		delete(m, n.AgentName)
	}
}

// Entries flattens the map into a list of observations.
func (m WorkloadStatesMap) Entries() []WorkloadState {
	var out []WorkloadState
	for agent, byWorkload := range m {
		for name, byID := range byWorkload {
			for id, state := range byID {
				out = append(out, WorkloadState{
					InstanceName:   WorkloadInstanceName{WorkloadName: name, AgentName: agent, ID: id},
					ExecutionState: state,
				})
			}
		}
	}
	return out
}

// AgentEntries returns the observations belonging to one agent.
func (m WorkloadStatesMap) AgentEntries(agent string) []WorkloadState {
	var out []WorkloadState
	for name, byID := range m[agent] {
		for id, state := range byID {
			out = append(out, WorkloadState{
				InstanceName:   WorkloadInstanceName{WorkloadName: name, AgentName: agent, ID: id},
				ExecutionState: state,
			})
		}
	}
	return out
}

// Clone returns a deep copy.
func (m WorkloadStatesMap) Clone() WorkloadStatesMap {
	out := make(WorkloadStatesMap, len(m))
	for agent, byWorkload := range m {
		outWorkloads := make(map[string]map[string]ExecutionState, len(byWorkload))
		for name, byID := range byWorkload {
			outIDs := make(map[string]ExecutionState, len(byID))
			for id, state := range byID {
				outIDs[id] = state
			}
			outWorkloads[name] = outIDs
		}
		out[agent] = outWorkloads
	}
	return out
}
