package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func instance(workload, agent, id string) WorkloadInstanceName {
	return WorkloadInstanceName{WorkloadName: workload, AgentName: agent, ID: id}
}

func TestStatesMapPutGet(t *testing.T) {
	m := make(WorkloadStatesMap)
	n := instance("nginx", "agent_A", "h1")

	m.Put(WorkloadState{InstanceName: n, ExecutionState: StateRunningOK()})

	got, ok := m.Get(n)
	require.True(t, ok)
	assert.Equal(t, StateRunning, got.State)

	// Last writer wins per triple.
	m.Put(WorkloadState{InstanceName: n, ExecutionState: StateSucceededOK()})
	got, _ = m.Get(n)
	assert.Equal(t, StateSucceeded, got.State)
}

func TestStatesMapStaleInstanceCoexists(t *testing.T) {
	m := make(WorkloadStatesMap)
	oldInst := instance("w", "agent_A", "h1")
	newInst := instance("w", "agent_A", "h2")

	m.Put(WorkloadState{InstanceName: oldInst, ExecutionState: StateStoppingRequested()})
	m.Put(WorkloadState{InstanceName: newInst, ExecutionState: StateRunningOK()})

	_, oldOK := m.Get(oldInst)
	_, newOK := m.Get(newInst)
	assert.True(t, oldOK)
	assert.True(t, newOK)

	// The old hash's Removed purges only the old entry.
	m.Remove(oldInst)
	_, oldOK = m.Get(oldInst)
	_, newOK = m.Get(newInst)
	assert.False(t, oldOK)
	assert.True(t, newOK)
}

func TestStatesMapRemovePrunesEmptyLevels(t *testing.T) {
	m := make(WorkloadStatesMap)
	n := instance("w", "agent_A", "h1")
	m.Put(WorkloadState{InstanceName: n, ExecutionState: StateRunningOK()})

	m.Remove(n)
	assert.Empty(t, m)
}

func TestGetByWorkloadName(t *testing.T) {
	m := make(WorkloadStatesMap)
	_, ok := m.GetByWorkloadName("db")
	assert.False(t, ok)

	m.Put(WorkloadState{InstanceName: instance("db", "agent_B", "h1"), ExecutionState: StateRunningOK()})

	got, ok := m.GetByWorkloadName("db")
	require.True(t, ok)
	assert.Equal(t, StateRunning, got.State)
}

func TestAgentEntries(t *testing.T) {
	m := make(WorkloadStatesMap)
	m.Put(WorkloadState{InstanceName: instance("a", "agent_A", "h1"), ExecutionState: StateRunningOK()})
	m.Put(WorkloadState{InstanceName: instance("b", "agent_A", "h2"), ExecutionState: StateWaitingToStart()})
	m.Put(WorkloadState{InstanceName: instance("c", "agent_B", "h3"), ExecutionState: StateRunningOK()})

	assert.Len(t, m.AgentEntries("agent_A"), 2)
	assert.Len(t, m.AgentEntries("agent_B"), 1)
	assert.Empty(t, m.AgentEntries("agent_C"))
}

func TestExecutionStatePredicates(t *testing.T) {
	assert.True(t, StateSucceededOK().IsTerminal())
	assert.True(t, StateFailedExec("boom").IsTerminal())
	assert.True(t, StateRemovedFinal().IsTerminal())
	assert.False(t, StateRunningOK().IsTerminal())
	assert.False(t, StateWaitingToStart().IsTerminal())

	assert.True(t, StateRemovedFinal().IsRemoved())
	assert.False(t, StateSucceededOK().IsRemoved())
}
