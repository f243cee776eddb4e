package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/eclipse-ankaios/ankaios-go/pkg/api"
	"github.com/eclipse-ankaios/ankaios-go/pkg/log"
	"github.com/eclipse-ankaios/ankaios-go/pkg/metrics"
	"github.com/eclipse-ankaios/ankaios-go/pkg/runtime"
	"github.com/eclipse-ankaios/ankaios-go/pkg/types"
)

// Retry policy defaults. Both are tunables on the agent config; the
// values here apply when the config leaves them zero.
const (
	DefaultRetryLimit    = 20
	DefaultRetryInterval = time.Second
)

// commandQueueSize bounds the per-loop command channel. The manager
// blocks rather than drops when a loop falls behind.
const commandQueueSize = 16

// loopCommand is the FIFO input of a control loop.
type loopCommand interface{ isLoopCommand() }

type cmdCreate struct{ spec api.AddedWorkload }
type cmdAdopt struct{ id runtime.WorkloadID }
type cmdUpdate struct{ spec api.AddedWorkload }
type cmdDelete struct{}
type cmdRetry struct{ token uint64 }
type cmdDependenciesChanged struct{}
type cmdObserved struct{ state types.ExecutionState }
type cmdReportCurrent struct{}

func (cmdCreate) isLoopCommand()              {}
func (cmdAdopt) isLoopCommand()               {}
func (cmdUpdate) isLoopCommand()              {}
func (cmdDelete) isLoopCommand()              {}
func (cmdRetry) isLoopCommand()               {}
func (cmdDependenciesChanged) isLoopCommand() {}
func (cmdObserved) isLoopCommand()            {}
func (cmdReportCurrent) isLoopCommand()       {}

// retryTimerFunc schedules fire after d and returns a cancel func.
// Production uses time.AfterFunc; tests inject an immediate or manual
// trigger to lock the retry interval without waiting for it.
type retryTimerFunc func(d time.Duration, fire func()) (cancel func())

func defaultRetryTimer(d time.Duration, fire func()) func() {
	t := time.AfterFunc(d, fire)
	return func() { t.Stop() }
}

// ControlLoop owns one workload's lifecycle from creation to deletion.
// All input arrives on a single FIFO command channel; the loop never
// shares its runtime handle with anyone.
type ControlLoop struct {
	spec     api.AddedWorkload
	rt       runtime.Runtime
	store    *StateStore
	report   func(types.WorkloadState)
	localSet func() []api.AddedWorkload

	commands chan loopCommand
	done     chan struct{}

	retryLimit    int
	retryInterval time.Duration
	retryTimer    retryTimerFunc

	// run-loop state, touched only by the loop goroutine
	workloadID   runtime.WorkloadID
	checker      runtime.StateChecker
	checkerStop  chan struct{}
	retryCount   int
	retryToken   uint64
	cancelRetry  func()
	waitingDeps  bool
	deleteParked bool
	lastObserved types.ExecutionState

	logger zerolog.Logger
}

// controlLoopConfig carries the knobs the manager injects.
type controlLoopConfig struct {
	retryLimit    int
	retryInterval time.Duration
	retryTimer    retryTimerFunc
}

func (c controlLoopConfig) withDefaults() controlLoopConfig {
	if c.retryLimit <= 0 {
		c.retryLimit = DefaultRetryLimit
	}
	if c.retryInterval <= 0 {
		c.retryInterval = DefaultRetryInterval
	}
	if c.retryTimer == nil {
		c.retryTimer = defaultRetryTimer
	}
	return c
}

// newControlLoop builds a loop for one instance. localSet lets the
// loop evaluate delete gating against the specs currently assigned to
// this agent; report forwards observations to the manager.
func newControlLoop(
	spec api.AddedWorkload,
	rt runtime.Runtime,
	store *StateStore,
	report func(types.WorkloadState),
	localSet func() []api.AddedWorkload,
	cfg controlLoopConfig,
) *ControlLoop {
	cfg = cfg.withDefaults()
	return &ControlLoop{
		spec:          spec,
		rt:            rt,
		store:         store,
		report:        report,
		localSet:      localSet,
		commands:      make(chan loopCommand, commandQueueSize),
		done:          make(chan struct{}),
		retryLimit:    cfg.retryLimit,
		retryInterval: cfg.retryInterval,
		retryTimer:    cfg.retryTimer,
		logger:        log.WithWorkload(spec.InstanceName.WorkloadName),
	}
}

// Start launches the loop goroutine.
func (l *ControlLoop) Start(ctx context.Context) {
	go l.run(ctx)
}

// Send enqueues a command, FIFO from the manager's point of view.
// Blocks while the queue is full; returns false once the loop has
// terminated.
func (l *ControlLoop) Send(cmd loopCommand) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.commands <- cmd:
		return true
	case <-l.done:
		return false
	}
}

// InstanceName returns the instance the loop currently owns.
func (l *ControlLoop) InstanceName() types.WorkloadInstanceName {
	return l.spec.InstanceName
}

// Done is closed when the loop has terminated.
func (l *ControlLoop) Done() <-chan struct{} {
	return l.done
}

// handleAdopt seeds the loop with an already-running workload instead
// of creating one: reconnect and agent restart must not recreate. When
// the handle turns out unusable the loop falls back to a create.
func (l *ControlLoop) handleAdopt(ctx context.Context, id runtime.WorkloadID) {
	checker, err := l.rt.StartChecker(ctx, id, l.spec)
	if err != nil {
		l.logger.Warn().Err(err).Msg("adoption failed, recreating")
		l.handleCreate(ctx, l.spec)
		return
	}
	l.workloadID = id
	l.attachChecker(checker)
	l.publish(types.StateRunningOK())
}

func (l *ControlLoop) run(ctx context.Context) {
	defer close(l.done)
	defer l.stopRetry()
	defer l.stopChecker()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-l.commands:
			switch c := cmd.(type) {
			case cmdCreate:
				l.handleCreate(ctx, c.spec)
			case cmdAdopt:
				l.handleAdopt(ctx, c.id)
			case cmdUpdate:
				l.handleUpdate(ctx, c.spec)
			case cmdDelete:
				if l.handleDelete(ctx) {
					return
				}
			case cmdRetry:
				if l.handleRetry(ctx, c.token) {
					return
				}
			case cmdDependenciesChanged:
				if l.handleDependenciesChanged(ctx) {
					return
				}
			case cmdObserved:
				l.handleObserved(ctx, c.state)
			case cmdReportCurrent:
				l.handleReportCurrent()
			}
		}
	}
}

// handleCreate gates on dependencies, then attempts the first create.
func (l *ControlLoop) handleCreate(ctx context.Context, spec api.AddedWorkload) {
	l.spec = spec
	if !createFulfilled(l.spec, l.store) {
		l.waitingDeps = true
		l.publish(types.StateWaitingToStart())
		return
	}
	l.attemptCreate(ctx)
}

// handleUpdate applies a new spec. A changed hash is delete-then-create
// under this loop; an unchanged hash only merges metadata. Any pending
// retry of the old spec is superseded and the counter restarts at zero.
func (l *ControlLoop) handleUpdate(ctx context.Context, spec api.AddedWorkload) {
	l.stopRetry()

	if spec.InstanceName == l.spec.InstanceName {
		l.spec = spec
		return
	}

	oldInstance := l.spec.InstanceName
	l.publish(types.StateStoppingRequested())
	l.stopChecker()
	if l.workloadID != "" {
		if err := l.rt.DeleteWorkload(ctx, l.workloadID); err != nil {
			l.logger.Warn().Err(err).Msg("delete during update failed")
			l.publish(types.StateDeleteFailed(err.Error()))
			return
		}
		l.workloadID = ""
	}
	l.report(types.WorkloadState{InstanceName: oldInstance, ExecutionState: types.StateRemovedFinal()})

	l.spec = spec
	l.retryCount = 0
	l.logger = log.WithWorkload(spec.InstanceName.WorkloadName)
	l.handleCreate(ctx, spec)
}

// handleDelete tears the workload down. Returns true when the loop is
// finished. Deletion is gated the same way creation is: while a local
// dependent still needs this workload, the loop parks in
// Stopping(WaitingToStop).
func (l *ControlLoop) handleDelete(ctx context.Context) bool {
	l.stopRetry()
	l.waitingDeps = false

	if !deleteFulfilled(l.spec.InstanceName.WorkloadName, l.localSet(), l.store) {
		l.deleteParked = true
		l.publish(types.StateWaitingToStop())
		return false
	}
	return l.performDelete(ctx)
}

func (l *ControlLoop) performDelete(ctx context.Context) bool {
	l.publish(types.StateStoppingRequested())
	l.stopChecker()

	if l.workloadID != "" {
		if err := l.rt.DeleteWorkload(ctx, l.workloadID); err != nil {
			l.publish(types.StateDeleteFailed(err.Error()))
			if types.IsRetriable(err) && l.scheduleRetry() {
				l.deleteParked = true
				return false
			}
			l.publish(types.StateFailedExec(err.Error()))
			return true
		}
		l.workloadID = ""
	}

	l.publish(types.StateRemovedFinal())
	return true
}

// handleRetry re-attempts the pending operation. Stale tokens from a
// superseded schedule are ignored. Returns true when a retried delete
// finished the loop.
func (l *ControlLoop) handleRetry(ctx context.Context, token uint64) bool {
	if token != l.retryToken {
		return false
	}
	if l.deleteParked {
		l.deleteParked = false
		return l.performDelete(ctx)
	}
	l.attemptCreate(ctx)
	return false
}

// handleDependenciesChanged wakes a parked create or delete. Returns
// true when the loop terminated through a parked delete.
func (l *ControlLoop) handleDependenciesChanged(ctx context.Context) bool {
	if l.waitingDeps && createFulfilled(l.spec, l.store) {
		l.waitingDeps = false
		l.attemptCreate(ctx)
		return false
	}
	if l.deleteParked && deleteFulfilled(l.spec.InstanceName.WorkloadName, l.localSet(), l.store) {
		l.deleteParked = false
		return l.performDelete(ctx)
	}
	return false
}

// handleObserved reacts to a state checker observation: forward it and
// apply the restart policy on terminal exits.
func (l *ControlLoop) handleObserved(ctx context.Context, state types.ExecutionState) {
	l.lastObserved = state
	l.publish(state)

	restart := false
	switch state.State {
	case types.StateSucceeded:
		restart = l.spec.RestartPolicy == types.RestartAlways
	case types.StateFailed:
		restart = l.spec.RestartPolicy == types.RestartAlways || l.spec.RestartPolicy == types.RestartOnFailure
	}
	if !restart {
		return
	}

	l.logger.Info().Str("policy", string(l.spec.RestartPolicy)).Msg("restarting workload per restart policy")
	l.stopChecker()
	if l.workloadID != "" {
		if err := l.rt.DeleteWorkload(ctx, l.workloadID); err != nil {
			l.logger.Warn().Err(err).Msg("cleanup before restart failed")
		}
		l.workloadID = ""
	}
	l.attemptCreate(ctx)
}

// handleReportCurrent re-publishes the instance's current state after
// a reconnect: the server rewrote it to AgentDisconnected and the loop
// is the only one who knows better.
func (l *ControlLoop) handleReportCurrent() {
	switch {
	case l.lastObserved.State != "":
		l.publish(l.lastObserved)
	case l.workloadID != "":
		l.publish(types.StateRunningOK())
	case l.waitingDeps:
		l.publish(types.StateWaitingToStart())
	case l.deleteParked:
		l.publish(types.StateWaitingToStop())
	}
}

// attemptCreate performs one create call, wiring up retry on a
// retriable failure. A success clears the retry counter.
func (l *ControlLoop) attemptCreate(ctx context.Context) {
	l.publish(types.StateStarting(""))

	id, checker, err := l.rt.CreateWorkload(ctx, l.spec)
	if err != nil {
		metrics.WorkloadCreatesTotal.WithLabelValues("failure").Inc()
		info := fmt.Sprintf("%v, retry %d/%d", err, l.retryCount+1, l.retryLimit)
		if types.IsRetriable(err) && l.scheduleRetry() {
			l.publish(types.StateStartingFailed(info))
			return
		}
		l.logger.Error().Err(err).Msg("workload create failed permanently")
		l.publish(types.StateFailedExec(err.Error()))
		return
	}

	metrics.WorkloadCreatesTotal.WithLabelValues("success").Inc()
	l.retryCount = 0
	l.stopRetry()
	l.workloadID = id
	l.lastObserved = types.ExecutionState{}
	l.attachChecker(checker)
	l.publish(types.StateRunningOK())
}

// scheduleRetry arms the retry timer when the budget allows another
// attempt. The token invalidates the schedule when an update or delete
// supersedes it.
func (l *ControlLoop) scheduleRetry() bool {
	if l.retryCount >= l.retryLimit {
		return false
	}
	l.retryCount++
	metrics.WorkloadRetriesTotal.Inc()
	l.stopRetry()
	l.retryToken++
	token := l.retryToken
	l.cancelRetry = l.retryTimer(l.retryInterval, func() {
		l.Send(cmdRetry{token: token})
	})
	return true
}

func (l *ControlLoop) stopRetry() {
	if l.cancelRetry != nil {
		l.cancelRetry()
		l.cancelRetry = nil
	}
	l.retryToken++
}

// attachChecker starts forwarding observations from the runtime's
// state checker into the command channel.
func (l *ControlLoop) attachChecker(checker runtime.StateChecker) {
	l.checker = checker
	stop := make(chan struct{})
	l.checkerStop = stop
	go func() {
		for state := range checker.States() {
			select {
			case <-stop:
				return
			default:
			}
			l.Send(cmdObserved{state: state})
		}
	}()
}

// stopChecker cancels the state checker before the workload handle is
// released, never after.
func (l *ControlLoop) stopChecker() {
	if l.checker == nil {
		return
	}
	close(l.checkerStop)
	l.checker.Stop()
	l.checker = nil
}

// publish reports an execution state for the owned instance.
func (l *ControlLoop) publish(state types.ExecutionState) {
	l.report(types.WorkloadState{InstanceName: l.spec.InstanceName, ExecutionState: state})
}
