package server

import (
	"time"

	"github.com/eclipse-ankaios/ankaios-go/pkg/types"
)

// store holds the server's authoritative state: the desired state, the
// aggregated workload states and the connected-agent map. It is owned
// exclusively by the reconciliation task; nothing in here locks because
// nothing else may touch it.
type store struct {
	desired *types.State
	states  types.WorkloadStatesMap
	agents  types.AgentMap
}

func newStore() *store {
	return &store{
		desired: &types.State{APIVersion: types.CurrentAPIVersion},
		states:  make(types.WorkloadStatesMap),
		agents:  make(types.AgentMap),
	}
}

// complete snapshots the full CompleteState for a read request.
func (s *store) complete() *types.CompleteState {
	agents := make(types.AgentMap, len(s.agents))
	for name, entry := range s.agents {
		agents[name] = entry
	}
	return &types.CompleteState{
		DesiredState:   s.desired.Clone(),
		WorkloadStates: s.states.Clone(),
		Agents:         agents,
	}
}

// connectAgent records agent liveness; reconnects refresh the
// timestamp.
func (s *store) connectAgent(name string, now time.Time) {
	s.agents[name] = types.ConnectedAgent{ConnectedAt: now}
}

func (s *store) disconnectAgent(name string) {
	delete(s.agents, name)
}

// mergeStates folds an inbound batch of observations into the
// aggregated map, last writer wins per (agent, name, id) triple.
// Removed entries are purged from the map during the merge; the
// returned delta still carries them to consumers.
func (s *store) mergeStates(batch []types.WorkloadState) []types.WorkloadState {
	delta := make([]types.WorkloadState, 0, len(batch))
	for _, ws := range batch {
		delta = append(delta, ws)
		if ws.ExecutionState.IsRemoved() {
			s.states.Remove(ws.InstanceName)
			continue
		}
		s.states.Put(ws)
	}
	return delta
}

// markAgentDisconnected rewrites every non-terminal state of the agent
// to AgentDisconnected and returns the delta, exactly once per
// disconnect event.
func (s *store) markAgentDisconnected(agent string) []types.WorkloadState {
	var delta []types.WorkloadState
	for _, ws := range s.states.AgentEntries(agent) {
		if ws.ExecutionState.IsTerminal() || ws.ExecutionState.State == types.StateAgentDisconnected {
			continue
		}
		ws.ExecutionState = types.StateDisconnected()
		s.states.Put(ws)
		delta = append(delta, ws)
	}
	return delta
}

// assignedWorkloads returns the desired workloads targeting one agent.
func (s *store) assignedWorkloads(agent string) map[string]types.Workload {
	out := make(map[string]types.Workload)
	for name, wl := range s.desired.Workloads {
		if wl.Agent == agent {
			out[name] = wl
		}
	}
	return out
}
