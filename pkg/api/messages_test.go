package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-ankaios/ankaios-go/pkg/types"
)

func TestToServerValidate(t *testing.T) {
	assert.NoError(t, (&ToServer{AgentHello: &AgentHello{AgentName: "a"}}).Validate())
	assert.NoError(t, (&ToServer{Goodbye: &Goodbye{}}).Validate())

	assert.Error(t, (&ToServer{}).Validate())
	assert.Error(t, (&ToServer{
		AgentHello: &AgentHello{},
		Goodbye:    &Goodbye{},
	}).Validate())
}

func TestFromServerValidate(t *testing.T) {
	assert.NoError(t, (&FromServer{ServerHello: &ServerHello{}}).Validate())
	assert.Error(t, (&FromServer{}).Validate())
	assert.Error(t, (&FromServer{
		ServerHello: &ServerHello{},
		Goodbye:     &Goodbye{},
	}).Validate())
}

func TestRequestOperation(t *testing.T) {
	op, masks := (&Request{
		UpdateState: &UpdateStateRequest{UpdateMask: []string{"desiredState.workloads.w"}},
	}).RequestOperation()
	assert.Equal(t, types.AccessWrite, op)
	assert.Equal(t, []string{"desiredState.workloads.w"}, masks)

	op, masks = (&Request{
		CompleteState: &CompleteStateRequest{FieldMask: []string{"workloadStates"}},
	}).RequestOperation()
	assert.Equal(t, types.AccessRead, op)
	assert.Equal(t, []string{"workloadStates"}, masks)

	op, _ = (&Request{}).RequestOperation()
	assert.Empty(t, op)
}

// The codec must survive the union round trip including instance
// names, since dependency evaluation keys on them.
func TestCodecRoundTrip(t *testing.T) {
	wl := types.Workload{Agent: "agent_A", Runtime: "podman", RuntimeConfig: "image: nginx"}
	msg := &FromServer{
		UpdateWorkload: &UpdateWorkload{
			Added: []AddedWorkload{AddedFromSpec("nginx", wl)},
		},
	}

	raw, err := Codec{}.Marshal(msg)
	require.NoError(t, err)

	decoded := &FromServer{}
	require.NoError(t, Codec{}.Unmarshal(raw, decoded))
	require.NoError(t, decoded.Validate())
	require.Len(t, decoded.UpdateWorkload.Added, 1)
	assert.Equal(t, msg.UpdateWorkload.Added[0].InstanceName, decoded.UpdateWorkload.Added[0].InstanceName)
	assert.Equal(t, "podman", decoded.UpdateWorkload.Added[0].Runtime)
}
