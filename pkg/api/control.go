package api

import (
	"fmt"

	"github.com/eclipse-ankaios/ankaios-go/pkg/types"
)

// Control interface unions, exchanged over the per-workload named
// pipes as length-prefixed CBOR frames.

// ToAnkaios is what a workload writes into its input pipe.
type ToAnkaios struct {
	Hello   *Hello   `cbor:"1,keyasint,omitempty"`
	Request *Request `cbor:"2,keyasint,omitempty"`
}

// Hello opens a control interface session.
type Hello struct {
	ProtocolVersion string `cbor:"1,keyasint"`
}

// FromAnkaios is what the agent writes into the workload's output
// pipe.
type FromAnkaios struct {
	Response            *Response            `cbor:"1,keyasint,omitempty"`
	UpdateWorkloadState *UpdateWorkloadState `cbor:"2,keyasint,omitempty"`
	ConnectionClosed    *ConnectionClosed    `cbor:"3,keyasint,omitempty"`
}

// ConnectionClosed terminates a session, e.g. on protocol version
// mismatch.
type ConnectionClosed struct {
	Reason string `cbor:"1,keyasint,omitempty"`
}

// Validate rejects ambiguous ToAnkaios frames.
func (m *ToAnkaios) Validate() error {
	n := 0
	if m.Hello != nil {
		n++
	}
	if m.Request != nil {
		n++
	}
	if n != 1 {
		return fmt.Errorf("malformed ToAnkaios message: %d variants set", n)
	}
	return nil
}

// RequestOperation classifies a request for authorization purposes.
func (r *Request) RequestOperation() (types.AccessOperation, []string) {
	switch {
	case r.UpdateState != nil:
		return types.AccessWrite, r.UpdateState.UpdateMask
	case r.CompleteState != nil:
		return types.AccessRead, r.CompleteState.FieldMask
	default:
		return "", nil
	}
}
