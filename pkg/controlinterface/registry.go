package controlinterface

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/eclipse-ankaios/ankaios-go/pkg/api"
	"github.com/eclipse-ankaios/ankaios-go/pkg/log"
	"github.com/eclipse-ankaios/ankaios-go/pkg/types"
)

// Registry owns the control interface sessions of one agent, keyed by
// workload instance name. A session exists only for workloads whose
// spec carries controlInterfaceAccess rules.
type Registry struct {
	runFolder string
	forward   RequestFunc

	mu       sync.Mutex
	sessions map[types.WorkloadInstanceName]*Session

	logger zerolog.Logger
}

// NewRegistry builds the session registry.
func NewRegistry(runFolder string, forward RequestFunc) *Registry {
	return &Registry{
		runFolder: runFolder,
		forward:   forward,
		sessions:  make(map[types.WorkloadInstanceName]*Session),
		logger:    log.WithComponent("control-interface"),
	}
}

// StartSession opens a session for a workload that requested one.
// Workloads without access rules get no pipes at all.
func (r *Registry) StartSession(ctx context.Context, spec api.AddedWorkload) {
	if spec.ControlInterfaceAccess == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[spec.InstanceName]; exists {
		return
	}

	session, err := NewSession(r.runFolder, spec, r.forward)
	if err != nil {
		r.logger.Warn().Err(err).Str("workload", spec.InstanceName.WorkloadName).
			Msg("cannot set up control interface")
		return
	}
	r.sessions[spec.InstanceName] = session
	session.Start(ctx)
}

// StopSession tears down the session of one instance, if any.
func (r *Registry) StopSession(instance types.WorkloadInstanceName) {
	r.mu.Lock()
	session, ok := r.sessions[instance]
	delete(r.sessions, instance)
	r.mu.Unlock()
	if ok {
		session.Stop()
	}
}

// PushStates fans a state delta out to all subscribing sessions.
func (r *Registry) PushStates(states []types.WorkloadState) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.PushStates(states)
	}
}

// Shutdown stops every session.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[types.WorkloadInstanceName]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
}
