package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/eclipse-ankaios/ankaios-go/pkg/api"
	"github.com/eclipse-ankaios/ankaios-go/pkg/types"
)

// WorkloadID is the runtime-specific handle of a created workload,
// opaque to everything above the adaptor.
type WorkloadID string

// ReusableWorkload is a still-running container discovered on agent
// (re)start whose instance name matches a desired workload, adopted
// without recreation.
type ReusableWorkload struct {
	InstanceName types.WorkloadInstanceName
	ID           WorkloadID
}

// Runtime is the adaptor contract a container backend implements.
// Implementations must be safe for concurrent use by multiple control
// loops. Failures are classified retriable or fatal through
// types.RuntimeError.
type Runtime interface {
	// Name returns the runtime tag workloads select this backend by.
	Name() string

	// CreateWorkload realizes the spec and returns the handle plus a
	// running state checker observing it.
	CreateWorkload(ctx context.Context, spec api.AddedWorkload) (WorkloadID, StateChecker, error)

	// StartChecker attaches a state checker to an already-existing
	// workload, used when adopting reusable workloads.
	StartChecker(ctx context.Context, id WorkloadID, spec api.AddedWorkload) (StateChecker, error)

	// DeleteWorkload tears the workload down. Deleting a workload that
	// no longer exists is not an error.
	DeleteWorkload(ctx context.Context, id WorkloadID) error

	// GetReusableWorkloads lists this runtime's still-running workloads
	// created on behalf of the named agent.
	GetReusableWorkloads(ctx context.Context, agentName string) ([]ReusableWorkload, error)
}

// Registry maps runtime tags to adaptors. Runtimes register once at
// agent startup; lookups after that are read-only.
type Registry struct {
	mu       sync.RWMutex
	runtimes map[string]Runtime
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{runtimes: make(map[string]Runtime)}
}

// Register adds a runtime under its own name. Registering the same
// name twice is a programming error.
func (r *Registry) Register(rt Runtime) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runtimes[rt.Name()]; exists {
		return fmt.Errorf("runtime %q already registered", rt.Name())
	}
	r.runtimes[rt.Name()] = rt
	return nil
}

// Lookup resolves a runtime tag.
func (r *Registry) Lookup(name string) (Runtime, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.runtimes[name]
	if !ok {
		return nil, fmt.Errorf("unknown runtime %q", name)
	}
	return rt, nil
}

// Names returns the registered runtime tags.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.runtimes))
	for name := range r.runtimes {
		names = append(names, name)
	}
	return names
}
