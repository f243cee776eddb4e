package controlinterface

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eclipse-ankaios/ankaios-go/pkg/types"
)

func TestAuthorizerDefaultClosed(t *testing.T) {
	a := NewAuthorizer(nil)
	assert.False(t, a.Allows(types.AccessRead, nil))
	assert.False(t, a.Allows(types.AccessRead, []string{"workloadStates"}))
	assert.False(t, a.Allows(types.AccessWrite, []string{"desiredState.workloads.self"}))
}

func TestAuthorizerAllowRules(t *testing.T) {
	a := NewAuthorizer(&types.ControlInterfaceAccess{
		AllowRules: []types.AccessRule{
			{Operation: types.AccessRead, FilterMasks: []string{"workloadStates"}},
			{Operation: types.AccessWrite, FilterMasks: []string{"desiredState.workloads.self"}},
		},
	})

	tests := []struct {
		name  string
		op    types.AccessOperation
		masks []string
		want  bool
	}{
		{"read granted subtree", types.AccessRead, []string{"workloadStates"}, true},
		{"read deeper than grant", types.AccessRead, []string{"workloadStates.agent_A.db"}, true},
		{"read outside grant", types.AccessRead, []string{"desiredState"}, false},
		{"write own workload", types.AccessWrite, []string{"desiredState.workloads.self"}, true},
		{"write own field", types.AccessWrite, []string{"desiredState.workloads.self.agent"}, true},
		{"write another workload", types.AccessWrite, []string{"desiredState.workloads.other"}, false},
		{"one mask out of bounds sinks the request", types.AccessWrite,
			[]string{"desiredState.workloads.self", "desiredState.workloads.other"}, false},
		{"write with read-only grant", types.AccessWrite, []string{"workloadStates"}, false},
		{"maskless request needs an unrestricted rule", types.AccessRead, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.Allows(tt.op, tt.masks))
		})
	}
}

func TestAuthorizerDenyWins(t *testing.T) {
	a := NewAuthorizer(&types.ControlInterfaceAccess{
		AllowRules: []types.AccessRule{
			{Operation: types.AccessReadWrite},
		},
		DenyRules: []types.AccessRule{
			{Operation: types.AccessWrite, FilterMasks: []string{"desiredState.workloads.db"}},
		},
	})

	assert.True(t, a.Allows(types.AccessRead, []string{"desiredState.workloads.db"}))
	assert.True(t, a.Allows(types.AccessWrite, []string{"desiredState.workloads.web"}))
	assert.False(t, a.Allows(types.AccessWrite, []string{"desiredState.workloads.db"}))
	assert.False(t, a.Allows(types.AccessWrite, []string{"desiredState.workloads.db.agent"}))
	// A maskless write touches the denied subtree too.
	assert.False(t, a.Allows(types.AccessWrite, nil))
}

func TestAuthorizerWildcardSegments(t *testing.T) {
	a := NewAuthorizer(&types.ControlInterfaceAccess{
		AllowRules: []types.AccessRule{
			{Operation: types.AccessRead, FilterMasks: []string{"desiredState.workloads.*.tags"}},
		},
	})

	assert.True(t, a.Allows(types.AccessRead, []string{"desiredState.workloads.db.tags"}))
	assert.True(t, a.Allows(types.AccessRead, []string{"desiredState.workloads.web.tags"}))
	assert.False(t, a.Allows(types.AccessRead, []string{"desiredState.workloads.db.agent"}))
}

func TestAuthorizerReadWriteCoversBoth(t *testing.T) {
	a := NewAuthorizer(&types.ControlInterfaceAccess{
		AllowRules: []types.AccessRule{
			{Operation: types.AccessReadWrite, FilterMasks: []string{"desiredState"}},
		},
	})

	assert.True(t, a.Allows(types.AccessRead, []string{"desiredState.workloads"}))
	assert.True(t, a.Allows(types.AccessWrite, []string{"desiredState.workloads"}))
	assert.False(t, a.Allows(types.AccessRead, []string{"workloadStates"}))
}
