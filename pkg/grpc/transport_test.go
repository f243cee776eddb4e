package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-ankaios/ankaios-go/pkg/api"
	"github.com/eclipse-ankaios/ankaios-go/pkg/log"
	"github.com/eclipse-ankaios/ankaios-go/pkg/server"
	"github.com/eclipse-ankaios/ankaios-go/pkg/types"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

// startTransport runs a plain-text transport on a random port and
// returns its address.
func startTransport(t *testing.T) (*server.Server, string) {
	t.Helper()

	core := server.New([]string{"podman"})
	core.Start()
	t.Cleanup(core.Stop)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	transport := NewTransport(core, nil)
	go func() { _ = transport.Serve(lis) }()
	t.Cleanup(transport.Stop)

	return core, lis.Addr().String()
}

func TestAgentStreamHandshake(t *testing.T) {
	core, addr := startTransport(t)

	resp := core.HandleRequest(context.Background(), &api.Request{
		RequestID: "seed",
		UpdateState: &api.UpdateStateRequest{
			NewState: types.CompleteState{
				DesiredState: &types.State{
					APIVersion: types.CurrentAPIVersion,
					Workloads: map[string]types.Workload{
						"nginx": {Agent: "agent_A", Runtime: "podman", RuntimeConfig: "image: nginx"},
					},
				},
			},
		},
	})
	require.Nil(t, resp.Error)

	connector := &Connector{Target: addr}
	stream, err := connector.Connect(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	require.NoError(t, stream.Send(&api.ToServer{AgentHello: &api.AgentHello{
		AgentName:       "agent_A",
		ProtocolVersion: api.ProtocolVersion,
	}}))

	msg, err := stream.Recv()
	require.NoError(t, err)
	require.NotNil(t, msg.ServerHello)
	require.Len(t, msg.ServerHello.AddedWorkloads, 1)
	assert.Equal(t, "nginx", msg.ServerHello.AddedWorkloads[0].InstanceName.WorkloadName)
}

func TestAgentStreamCarriesStateUpdates(t *testing.T) {
	core, addr := startTransport(t)

	connector := &Connector{Target: addr}
	stream, err := connector.Connect(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	require.NoError(t, stream.Send(&api.ToServer{AgentHello: &api.AgentHello{
		AgentName:       "agent_A",
		ProtocolVersion: api.ProtocolVersion,
	}}))
	_, err = stream.Recv() // ServerHello
	require.NoError(t, err)

	n := types.WorkloadInstanceName{WorkloadName: "w", AgentName: "agent_A", ID: "h1"}
	require.NoError(t, stream.Send(&api.ToServer{
		UpdateWorkloadState: &api.UpdateWorkloadState{
			WorkloadStates: []types.WorkloadState{{InstanceName: n, ExecutionState: types.StateRunningOK()}},
		},
	}))

	// The observation lands in the aggregated map and is broadcast
	// back on the same stream.
	msg, err := stream.Recv()
	require.NoError(t, err)
	require.NotNil(t, msg.UpdateWorkloadState)

	require.Eventually(t, func() bool {
		resp := core.HandleRequest(context.Background(), &api.Request{
			RequestID:     "probe",
			CompleteState: &api.CompleteStateRequest{},
		})
		if resp.CompleteState == nil {
			return false
		}
		_, ok := resp.CompleteState.WorkloadStates.Get(n)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClientStreamRequestResponse(t *testing.T) {
	_, addr := startTransport(t)

	connector := &Connector{Target: addr}
	stream, err := connector.Connect(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	require.NoError(t, stream.Send(&api.ToServer{Request: &api.Request{
		RequestID:     "r1",
		CompleteState: &api.CompleteStateRequest{FieldMask: []string{"desiredState"}},
	}}))

	msg, err := stream.Recv()
	require.NoError(t, err)
	require.NotNil(t, msg.Response)
	assert.Equal(t, "r1", msg.Response.RequestID)
	require.NotNil(t, msg.Response.CompleteState)
}

func TestProtocolVersionMismatchClosesStream(t *testing.T) {
	_, addr := startTransport(t)

	connector := &Connector{Target: addr}
	stream, err := connector.Connect(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	require.NoError(t, stream.Send(&api.ToServer{AgentHello: &api.AgentHello{
		AgentName:       "agent_A",
		ProtocolVersion: "v999",
	}}))

	msg, err := stream.Recv()
	require.NoError(t, err)
	require.NotNil(t, msg.Goodbye)
	assert.Contains(t, msg.Goodbye.Reason, "protocol version")

	_, err = stream.Recv()
	assert.Error(t, err)
}

func TestStreamDropMarksAgentDisconnected(t *testing.T) {
	core, addr := startTransport(t)

	connector := &Connector{Target: addr}
	stream, err := connector.Connect(context.Background())
	require.NoError(t, err)

	require.NoError(t, stream.Send(&api.ToServer{AgentHello: &api.AgentHello{
		AgentName:       "agent_A",
		ProtocolVersion: api.ProtocolVersion,
	}}))
	_, err = stream.Recv()
	require.NoError(t, err)

	n := types.WorkloadInstanceName{WorkloadName: "w", AgentName: "agent_A", ID: "h1"}
	require.NoError(t, stream.Send(&api.ToServer{
		UpdateWorkloadState: &api.UpdateWorkloadState{
			WorkloadStates: []types.WorkloadState{{InstanceName: n, ExecutionState: types.StateRunningOK()}},
		},
	}))

	stream.Close()

	require.Eventually(t, func() bool {
		resp := core.HandleRequest(context.Background(), &api.Request{
			RequestID:     "probe",
			CompleteState: &api.CompleteStateRequest{},
		})
		if resp.CompleteState == nil {
			return false
		}
		state, ok := resp.CompleteState.WorkloadStates.Get(n)
		return ok && state.State == types.StateAgentDisconnected
	}, 2*time.Second, 10*time.Millisecond)
}
