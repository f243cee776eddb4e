package api

import (
	"fmt"

	"github.com/eclipse-ankaios/ankaios-go/pkg/types"
)

// ProtocolVersion is negotiated in AgentHello and in the control
// interface initial hello. A mismatch closes the stream with Goodbye.
const ProtocolVersion = "v1"

// AddedWorkload carries everything an agent needs to realize one
// workload instance.
type AddedWorkload struct {
	InstanceName           types.WorkloadInstanceName    `cbor:"1,keyasint"`
	Runtime                string                        `cbor:"2,keyasint"`
	RuntimeConfig          string                        `cbor:"3,keyasint"`
	RestartPolicy          types.RestartPolicy           `cbor:"4,keyasint,omitempty"`
	Tags                   []types.Tag                   `cbor:"5,keyasint,omitempty"`
	Dependencies           map[string]types.AddCondition `cbor:"6,keyasint,omitempty"`
	ControlInterfaceAccess *types.ControlInterfaceAccess `cbor:"7,keyasint,omitempty"`
}

// DeletedWorkload names one instance the agent must tear down.
type DeletedWorkload struct {
	InstanceName types.WorkloadInstanceName `cbor:"1,keyasint"`
}

// AgentHello opens an agent stream.
type AgentHello struct {
	AgentName       string `cbor:"1,keyasint"`
	ProtocolVersion string `cbor:"2,keyasint"`
}

// ServerHello answers AgentHello with the agent's full assigned set and
// the cluster-wide state snapshot for dependency evaluation.
type ServerHello struct {
	AddedWorkloads []AddedWorkload       `cbor:"1,keyasint,omitempty"`
	WorkloadStates []types.WorkloadState `cbor:"2,keyasint,omitempty"`
}

// UpdateWorkload carries a desired-state delta for one agent. Deletes
// are processed before adds.
type UpdateWorkload struct {
	Added   []AddedWorkload   `cbor:"1,keyasint,omitempty"`
	Deleted []DeletedWorkload `cbor:"2,keyasint,omitempty"`
}

// UpdateWorkloadState flows in both directions: agents report their
// observations, the server broadcasts cluster-wide deltas.
type UpdateWorkloadState struct {
	WorkloadStates []types.WorkloadState `cbor:"1,keyasint"`
}

// Request is a client call (CLI, or a workload through the control
// interface proxy). Exactly one content field is set.
type Request struct {
	RequestID     string                `cbor:"1,keyasint"`
	UpdateState   *UpdateStateRequest   `cbor:"2,keyasint,omitempty"`
	CompleteState *CompleteStateRequest `cbor:"3,keyasint,omitempty"`
}

// UpdateStateRequest applies newState along the update mask paths.
type UpdateStateRequest struct {
	NewState   types.CompleteState `cbor:"1,keyasint"`
	UpdateMask []string            `cbor:"2,keyasint,omitempty"`
}

// CompleteStateRequest reads the state filtered by the field mask.
type CompleteStateRequest struct {
	FieldMask []string `cbor:"1,keyasint,omitempty"`
}

// Response answers a Request. Exactly one content field is set.
type Response struct {
	RequestID     string               `cbor:"1,keyasint"`
	CompleteState *types.CompleteState `cbor:"2,keyasint,omitempty"`
	UpdateSuccess *UpdateStateSuccess  `cbor:"3,keyasint,omitempty"`
	Error         *Error               `cbor:"4,keyasint,omitempty"`
}

// UpdateStateSuccess lists the instance names the update touched.
type UpdateStateSuccess struct {
	AddedWorkloads   []string `cbor:"1,keyasint,omitempty"`
	DeletedWorkloads []string `cbor:"2,keyasint,omitempty"`
}

// Error is a request rejection.
type Error struct {
	Message string `cbor:"1,keyasint"`
}

// Goodbye announces a clean stream shutdown from either side.
type Goodbye struct {
	Reason string `cbor:"1,keyasint,omitempty"`
}

// ToServer is the tagged union carried agent/client -> server. Exactly
// one field is set per message.
type ToServer struct {
	AgentHello          *AgentHello          `cbor:"1,keyasint,omitempty"`
	UpdateWorkloadState *UpdateWorkloadState `cbor:"2,keyasint,omitempty"`
	Request             *Request             `cbor:"3,keyasint,omitempty"`
	Goodbye             *Goodbye             `cbor:"4,keyasint,omitempty"`
}

// FromServer is the tagged union carried server -> agent/client.
type FromServer struct {
	ServerHello         *ServerHello         `cbor:"1,keyasint,omitempty"`
	UpdateWorkload      *UpdateWorkload      `cbor:"2,keyasint,omitempty"`
	UpdateWorkloadState *UpdateWorkloadState `cbor:"3,keyasint,omitempty"`
	Response            *Response            `cbor:"4,keyasint,omitempty"`
	Goodbye             *Goodbye             `cbor:"5,keyasint,omitempty"`
}

// Validate rejects messages with zero or more than one variant set,
// so a decoding peer never partially processes an ambiguous frame.
func (m *ToServer) Validate() error {
	n := 0
	if m.AgentHello != nil {
		n++
	}
	if m.UpdateWorkloadState != nil {
		n++
	}
	if m.Request != nil {
		n++
	}
	if m.Goodbye != nil {
		n++
	}
	if n != 1 {
		return fmt.Errorf("malformed ToServer message: %d variants set", n)
	}
	return nil
}

// Validate rejects ambiguous FromServer frames.
func (m *FromServer) Validate() error {
	n := 0
	if m.ServerHello != nil {
		n++
	}
	if m.UpdateWorkload != nil {
		n++
	}
	if m.UpdateWorkloadState != nil {
		n++
	}
	if m.Response != nil {
		n++
	}
	if m.Goodbye != nil {
		n++
	}
	if n != 1 {
		return fmt.Errorf("malformed FromServer message: %d variants set", n)
	}
	return nil
}

// AddedFromSpec builds the wire form of one desired workload.
func AddedFromSpec(name string, wl types.Workload) AddedWorkload {
	return AddedWorkload{
		InstanceName:           types.NewInstanceName(name, wl),
		Runtime:                wl.Runtime,
		RuntimeConfig:          wl.RuntimeConfig,
		RestartPolicy:          wl.RestartPolicy,
		Tags:                   wl.Tags,
		Dependencies:           wl.Dependencies,
		ControlInterfaceAccess: wl.ControlInterfaceAccess,
	}
}
