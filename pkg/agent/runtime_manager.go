package agent

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/eclipse-ankaios/ankaios-go/pkg/api"
	"github.com/eclipse-ankaios/ankaios-go/pkg/log"
	"github.com/eclipse-ankaios/ankaios-go/pkg/runtime"
	"github.com/eclipse-ankaios/ankaios-go/pkg/types"
)

// SessionManager is the control interface hook: sessions follow the
// lifetime of the workloads that requested one.
type SessionManager interface {
	StartSession(ctx context.Context, spec api.AddedWorkload)
	StopSession(instance types.WorkloadInstanceName)
}

// RuntimeManager owns the control loops of all workloads assigned to
// this agent, keyed by workload name. It routes added/deleted sets
// from the server into per-loop commands and adopts reusable workloads
// after a reconnect. Only the manager task calls into it, so there is
// no locking.
type RuntimeManager struct {
	agentName string
	registry  *runtime.Registry
	store     *StateStore
	report    func(types.WorkloadState)
	loopCfg   controlLoopConfig
	sessions  SessionManager

	loops map[string]*ControlLoop

	logger zerolog.Logger
}

// NewRuntimeManager builds the manager for one agent.
func NewRuntimeManager(
	agentName string,
	registry *runtime.Registry,
	store *StateStore,
	report func(types.WorkloadState),
	cfg controlLoopConfig,
) *RuntimeManager {
	return &RuntimeManager{
		agentName: agentName,
		registry:  registry,
		store:     store,
		report:    report,
		loopCfg:   cfg,
		loops:     make(map[string]*ControlLoop),
		logger:    log.WithComponent("runtime-manager"),
	}
}

// localSpecs snapshots the specs of all owned loops, used for delete
// gating.
func (m *RuntimeManager) localSpecs() []api.AddedWorkload {
	out := make([]api.AddedWorkload, 0, len(m.loops))
	for _, loop := range m.loops {
		out = append(out, loop.spec)
	}
	return out
}

// HandleServerHello processes the one-shot full assignment after
// (re)connect: adopt reusable workloads by instance name, create the
// rest, tear down whatever runs locally but is no longer assigned.
func (m *RuntimeManager) HandleServerHello(ctx context.Context, hello *api.ServerHello) {
	m.store.Replace(hello.WorkloadStates)

	reusable := m.findReusableWorkloads(ctx)

	assigned := make(map[string]bool, len(hello.AddedWorkloads))
	for _, added := range hello.AddedWorkloads {
		assigned[added.InstanceName.WorkloadName] = true
		m.addWorkload(ctx, added, reusable)
	}

	// Loops surviving from before the reconnect whose workload is no
	// longer assigned must go.
	for name, loop := range m.loops {
		if !assigned[name] {
			loop.Send(cmdDelete{})
		}
	}

	m.notifyDependenciesChanged()
}

// HandleUpdateWorkload processes a desired-state delta. Deletes are
// processed before adds within one message. A delete paired with an
// add of the same workload name is a hash change: the control loop
// performs the delete-then-create itself, so only the add is routed.
func (m *RuntimeManager) HandleUpdateWorkload(ctx context.Context, update *api.UpdateWorkload) {
	replaced := make(map[string]bool, len(update.Added))
	for _, added := range update.Added {
		replaced[added.InstanceName.WorkloadName] = true
	}
	for _, deleted := range update.Deleted {
		if replaced[deleted.InstanceName.WorkloadName] {
			continue
		}
		m.deleteWorkload(deleted)
	}
	for _, added := range update.Added {
		m.addWorkload(ctx, added, nil)
	}
}

// UpdateWorkloadState stores a cluster-wide observation and wakes any
// loop parked on dependencies.
func (m *RuntimeManager) UpdateWorkloadState(states []types.WorkloadState) {
	for _, ws := range states {
		m.store.Update(ws)
	}
	m.notifyDependenciesChanged()
}

// StoreOwnState records one of this agent's own observations before it
// is forwarded to the server, so local dependency evaluation never
// waits for the server round trip.
func (m *RuntimeManager) StoreOwnState(ws types.WorkloadState) {
	m.store.Update(ws)
	m.notifyDependenciesChanged()
}

func (m *RuntimeManager) addWorkload(ctx context.Context, added api.AddedWorkload, reusable map[string]runtime.WorkloadID) {
	name := added.InstanceName.WorkloadName

	if existing, ok := m.loops[name]; ok {
		select {
		case <-existing.Done():
			delete(m.loops, name)
		default:
			if existing.InstanceName() == added.InstanceName {
				// Same instance, resumption after reconnect: no
				// runtime action, but the server needs the current
				// state again.
				existing.Send(cmdReportCurrent{})
				return
			}
			if m.sessions != nil {
				m.sessions.StopSession(existing.InstanceName())
				m.sessions.StartSession(ctx, added)
			}
			existing.Send(cmdUpdate{spec: added})
			return
		}
	}

	rt, err := m.registry.Lookup(added.Runtime)
	if err != nil {
		m.logger.Error().Str("workload", name).Err(err).Msg("cannot realize workload")
		m.report(types.WorkloadState{
			InstanceName:   added.InstanceName,
			ExecutionState: types.StateFailedExec(err.Error()),
		})
		return
	}

	loop := newControlLoop(added, rt, m.store, m.report, m.localSpecs, m.loopCfg)
	m.loops[name] = loop
	loop.Start(ctx)

	if m.sessions != nil {
		m.sessions.StartSession(ctx, added)
	}

	if id, ok := reusable[added.InstanceName.String()]; ok {
		m.logger.Info().Str("workload", name).Msg("adopting reusable workload")
		loop.Send(cmdAdopt{id: id})
		return
	}
	loop.Send(cmdCreate{spec: added})
}

func (m *RuntimeManager) deleteWorkload(deleted api.DeletedWorkload) {
	if m.sessions != nil {
		m.sessions.StopSession(deleted.InstanceName)
	}
	name := deleted.InstanceName.WorkloadName
	loop, ok := m.loops[name]
	if !ok || !loop.Send(cmdDelete{}) {
		// Nothing owns it; confirm removal so the server can purge
		// the entry.
		m.report(types.WorkloadState{
			InstanceName:   deleted.InstanceName,
			ExecutionState: types.StateRemovedFinal(),
		})
	}
}

// Prune drops terminated loops from the table. Called by the manager
// task between message batches.
func (m *RuntimeManager) Prune() {
	for name, loop := range m.loops {
		select {
		case <-loop.Done():
			delete(m.loops, name)
		default:
		}
	}
}

func (m *RuntimeManager) notifyDependenciesChanged() {
	for _, loop := range m.loops {
		loop.Send(cmdDependenciesChanged{})
	}
}

// findReusableWorkloads asks every registered runtime for containers
// it still runs on this agent's behalf.
func (m *RuntimeManager) findReusableWorkloads(ctx context.Context) map[string]runtime.WorkloadID {
	out := make(map[string]runtime.WorkloadID)
	for _, name := range m.registry.Names() {
		rt, err := m.registry.Lookup(name)
		if err != nil {
			continue
		}
		found, err := rt.GetReusableWorkloads(ctx, m.agentName)
		if err != nil {
			m.logger.Warn().Str("runtime", name).Err(err).Msg("listing reusable workloads failed")
			continue
		}
		for _, rw := range found {
			out[rw.InstanceName.String()] = rw.ID
		}
	}
	return out
}

// Loops snapshots the owned control loops.
func (m *RuntimeManager) Loops() []*ControlLoop {
	out := make([]*ControlLoop, 0, len(m.loops))
	for _, loop := range m.loops {
		out = append(out, loop)
	}
	return out
}
