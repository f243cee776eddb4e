package agent

import (
	"sync"

	"github.com/eclipse-ankaios/ankaios-go/pkg/types"
)

// StateStore mirrors the cluster-wide workload states on the agent.
// Only the manager writes; control loops read snapshots for dependency
// evaluation. The lock exists for the reader side, the single-writer
// discipline is by construction.
type StateStore struct {
	mu     sync.RWMutex
	states types.WorkloadStatesMap
}

// NewStateStore returns an empty store.
func NewStateStore() *StateStore {
	return &StateStore{states: make(types.WorkloadStatesMap)}
}

// Update merges one observation, dropping Removed entries.
func (s *StateStore) Update(ws types.WorkloadState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ws.ExecutionState.IsRemoved() {
		s.states.Remove(ws.InstanceName)
		return
	}
	s.states.Put(ws)
}

// Replace resets the store to a fresh snapshot, used when a
// ServerHello re-seeds the agent after reconnect.
func (s *StateStore) Replace(all []types.WorkloadState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = make(types.WorkloadStatesMap)
	for _, ws := range all {
		if !ws.ExecutionState.IsRemoved() {
			s.states.Put(ws)
		}
	}
}

// StateOf returns the most relevant execution state known for a
// workload name anywhere in the cluster.
func (s *StateStore) StateOf(workloadName string) (types.ExecutionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states.GetByWorkloadName(workloadName)
}
