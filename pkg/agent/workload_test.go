package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-ankaios/ankaios-go/pkg/api"
	"github.com/eclipse-ankaios/ankaios-go/pkg/log"
	"github.com/eclipse-ankaios/ankaios-go/pkg/runtime"
	"github.com/eclipse-ankaios/ankaios-go/pkg/types"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

// fakeChecker is a manually driven state checker.
type fakeChecker struct {
	ch   chan types.ExecutionState
	once sync.Once
}

func newFakeChecker() *fakeChecker {
	return &fakeChecker{ch: make(chan types.ExecutionState, 8)}
}

func (c *fakeChecker) States() <-chan types.ExecutionState { return c.ch }

func (c *fakeChecker) Stop() {
	c.once.Do(func() { close(c.ch) })
}

func (c *fakeChecker) emit(state types.ExecutionState) {
	c.ch <- state
}

// fakeRuntime scripts create results and records every call.
type fakeRuntime struct {
	mu            sync.Mutex
	createErrs    []error
	creates       []api.AddedWorkload
	deletes       []runtime.WorkloadID
	deleteErr     error
	reusable      []runtime.ReusableWorkload
	checkers      []*fakeChecker
	adoptedChecks int
	nextID        int
}

func (f *fakeRuntime) Name() string { return "podman" }

func (f *fakeRuntime) CreateWorkload(ctx context.Context, spec api.AddedWorkload) (runtime.WorkloadID, runtime.StateChecker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, spec)
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return "", nil, err
		}
	}
	f.nextID++
	checker := newFakeChecker()
	f.checkers = append(f.checkers, checker)
	return runtime.WorkloadID(fmt.Sprintf("c%d", f.nextID)), checker, nil
}

func (f *fakeRuntime) StartChecker(ctx context.Context, id runtime.WorkloadID, spec api.AddedWorkload) (runtime.StateChecker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adoptedChecks++
	checker := newFakeChecker()
	f.checkers = append(f.checkers, checker)
	return checker, nil
}

func (f *fakeRuntime) DeleteWorkload(ctx context.Context, id runtime.WorkloadID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	return f.deleteErr
}

func (f *fakeRuntime) GetReusableWorkloads(ctx context.Context, agentName string) ([]runtime.ReusableWorkload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reusable, nil
}

func (f *fakeRuntime) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.creates)
}

func (f *fakeRuntime) deleteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deletes)
}

// immediateRetry fires retries without waiting.
func immediateRetry(d time.Duration, fire func()) func() {
	go fire()
	return func() {}
}

// manualRetry collects fire functions for the test to trigger.
type manualRetry struct {
	mu    sync.Mutex
	fires []func()
}

func (m *manualRetry) timer(d time.Duration, fire func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fires = append(m.fires, fire)
	return func() {}
}

func (m *manualRetry) fireLast() {
	m.mu.Lock()
	fire := m.fires[len(m.fires)-1]
	m.mu.Unlock()
	fire()
}

func specFor(name, agent, cfg string) api.AddedWorkload {
	wl := types.Workload{Agent: agent, Runtime: "podman", RuntimeConfig: cfg}
	return api.AddedFromSpec(name, wl)
}

// nextState pulls the next published observation.
func nextState(t *testing.T, reports chan types.WorkloadState) types.WorkloadState {
	t.Helper()
	select {
	case ws := <-reports:
		return ws
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a workload state")
		return types.WorkloadState{}
	}
}

func expectState(t *testing.T, reports chan types.WorkloadState, state types.ExecutionStateEnum, substate string) types.WorkloadState {
	t.Helper()
	ws := nextState(t, reports)
	assert.Equal(t, state, ws.ExecutionState.State, "unexpected state %s", ws.ExecutionState)
	if substate != "" {
		assert.Equal(t, substate, ws.ExecutionState.Substate)
	}
	return ws
}

type loopHarness struct {
	loop    *ControlLoop
	rt      *fakeRuntime
	store   *StateStore
	reports chan types.WorkloadState
	cancel  context.CancelFunc
}

func newLoopHarness(t *testing.T, spec api.AddedWorkload, rt *fakeRuntime, cfg controlLoopConfig) *loopHarness {
	t.Helper()
	h := &loopHarness{
		rt:      rt,
		store:   NewStateStore(),
		reports: make(chan types.WorkloadState, 64),
	}
	report := func(ws types.WorkloadState) {
		h.store.Update(ws)
		h.reports <- ws
	}
	h.loop = newControlLoop(spec, rt, h.store, report, func() []api.AddedWorkload { return nil }, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.loop.Start(ctx)
	t.Cleanup(cancel)
	return h
}

func TestControlLoopSimpleCreate(t *testing.T) {
	rt := &fakeRuntime{}
	h := newLoopHarness(t, specFor("nginx", "agent_A", "image: nginx"), rt, controlLoopConfig{})

	h.loop.Send(cmdCreate{spec: specFor("nginx", "agent_A", "image: nginx")})

	expectState(t, h.reports, types.StatePending, types.SubstateStarting)
	expectState(t, h.reports, types.StateRunning, types.SubstateOK)
	assert.Equal(t, 1, rt.createCount())
}

func TestControlLoopForwardsCheckerObservations(t *testing.T) {
	rt := &fakeRuntime{}
	h := newLoopHarness(t, specFor("job", "agent_A", "image: job"), rt, controlLoopConfig{})

	h.loop.Send(cmdCreate{spec: specFor("job", "agent_A", "image: job")})
	expectState(t, h.reports, types.StatePending, types.SubstateStarting)
	expectState(t, h.reports, types.StateRunning, types.SubstateOK)

	rt.checkers[0].emit(types.StateSucceededOK())
	expectState(t, h.reports, types.StateSucceeded, types.SubstateOK)
}

func TestControlLoopCreateFailureRetries(t *testing.T) {
	rt := &fakeRuntime{createErrs: []error{
		types.Retriablef("create", fmt.Errorf("pull failed")),
		types.Retriablef("create", fmt.Errorf("pull failed")),
		nil,
	}}
	h := newLoopHarness(t, specFor("w", "agent_A", "image: w"), rt, controlLoopConfig{
		retryTimer: immediateRetry,
	})

	h.loop.Send(cmdCreate{spec: specFor("w", "agent_A", "image: w")})

	expectState(t, h.reports, types.StatePending, types.SubstateStarting)
	first := expectState(t, h.reports, types.StatePending, types.SubstateStartingFailed)
	assert.Contains(t, first.ExecutionState.AdditionalInfo, "retry 1/20")

	expectState(t, h.reports, types.StatePending, types.SubstateStarting)
	second := expectState(t, h.reports, types.StatePending, types.SubstateStartingFailed)
	assert.Contains(t, second.ExecutionState.AdditionalInfo, "retry 2/20")

	expectState(t, h.reports, types.StatePending, types.SubstateStarting)
	expectState(t, h.reports, types.StateRunning, types.SubstateOK)
	assert.Equal(t, 3, rt.createCount())
	assert.Equal(t, 0, h.loop.retryCount)
}

func TestControlLoopRetryLimitExhausted(t *testing.T) {
	rt := &fakeRuntime{createErrs: []error{
		types.Retriablef("create", fmt.Errorf("no space")),
		types.Retriablef("create", fmt.Errorf("no space")),
		types.Retriablef("create", fmt.Errorf("no space")),
	}}
	h := newLoopHarness(t, specFor("w", "agent_A", "image: w"), rt, controlLoopConfig{
		retryLimit: 2,
		retryTimer: immediateRetry,
	})

	h.loop.Send(cmdCreate{spec: specFor("w", "agent_A", "image: w")})

	expectState(t, h.reports, types.StatePending, types.SubstateStarting)
	expectState(t, h.reports, types.StatePending, types.SubstateStartingFailed)
	expectState(t, h.reports, types.StatePending, types.SubstateStarting)
	expectState(t, h.reports, types.StatePending, types.SubstateStartingFailed)
	expectState(t, h.reports, types.StatePending, types.SubstateStarting)

	// Third failure exceeds the budget of 2.
	expectState(t, h.reports, types.StateFailed, types.SubstateExecFailed)
	assert.Equal(t, 3, rt.createCount())
}

func TestControlLoopFatalErrorDoesNotRetry(t *testing.T) {
	rt := &fakeRuntime{createErrs: []error{
		types.Fatalf("create", fmt.Errorf("bad config")),
	}}
	h := newLoopHarness(t, specFor("w", "agent_A", "image: w"), rt, controlLoopConfig{
		retryTimer: immediateRetry,
	})

	h.loop.Send(cmdCreate{spec: specFor("w", "agent_A", "image: w")})

	expectState(t, h.reports, types.StatePending, types.SubstateStarting)
	expectState(t, h.reports, types.StateFailed, types.SubstateExecFailed)
	assert.Equal(t, 1, rt.createCount())
}

func TestControlLoopDependencyGating(t *testing.T) {
	wl := types.Workload{
		Agent:         "agent_A",
		Runtime:       "podman",
		RuntimeConfig: "image: app",
		Dependencies:  map[string]types.AddCondition{"db": types.AddCondRunning},
	}
	spec := api.AddedFromSpec("app", wl)

	rt := &fakeRuntime{}
	h := newLoopHarness(t, spec, rt, controlLoopConfig{})

	h.loop.Send(cmdCreate{spec: spec})
	expectState(t, h.reports, types.StatePending, types.SubstateWaitingToStart)
	assert.Equal(t, 0, rt.createCount())

	// A wake-up without the dependency satisfied keeps it parked.
	h.loop.Send(cmdDependenciesChanged{})
	select {
	case ws := <-h.reports:
		t.Fatalf("unexpected state while parked: %s", ws.ExecutionState)
	case <-time.After(50 * time.Millisecond):
	}

	// The dependency turns RUNNING: one wake-up releases the create.
	h.store.Update(types.WorkloadState{
		InstanceName:   types.WorkloadInstanceName{WorkloadName: "db", AgentName: "agent_B", ID: "h9"},
		ExecutionState: types.StateRunningOK(),
	})
	h.loop.Send(cmdDependenciesChanged{})

	expectState(t, h.reports, types.StatePending, types.SubstateStarting)
	expectState(t, h.reports, types.StateRunning, types.SubstateOK)
}

func TestControlLoopUpdateWithHashChange(t *testing.T) {
	oldSpec := specFor("w", "agent_A", "image: w:1")
	newSpec := specFor("w", "agent_A", "image: w:2")
	require.NotEqual(t, oldSpec.InstanceName.ID, newSpec.InstanceName.ID)

	rt := &fakeRuntime{}
	h := newLoopHarness(t, oldSpec, rt, controlLoopConfig{})

	h.loop.Send(cmdCreate{spec: oldSpec})
	expectState(t, h.reports, types.StatePending, types.SubstateStarting)
	expectState(t, h.reports, types.StateRunning, types.SubstateOK)

	h.loop.Send(cmdUpdate{spec: newSpec})

	stopping := expectState(t, h.reports, types.StateStopping, types.SubstateRequested)
	assert.Equal(t, oldSpec.InstanceName, stopping.InstanceName)

	removed := expectState(t, h.reports, types.StateRemoved, "")
	assert.Equal(t, oldSpec.InstanceName, removed.InstanceName)

	starting := expectState(t, h.reports, types.StatePending, types.SubstateStarting)
	assert.Equal(t, newSpec.InstanceName, starting.InstanceName)
	expectState(t, h.reports, types.StateRunning, types.SubstateOK)

	assert.Equal(t, 2, rt.createCount())
	assert.Equal(t, 1, rt.deleteCount())
	assert.Equal(t, newSpec.InstanceName, h.loop.InstanceName())
}

func TestControlLoopUpdateWithSameHashIsMetadataOnly(t *testing.T) {
	spec := specFor("w", "agent_A", "image: w")
	rt := &fakeRuntime{}
	h := newLoopHarness(t, spec, rt, controlLoopConfig{})

	h.loop.Send(cmdCreate{spec: spec})
	expectState(t, h.reports, types.StatePending, types.SubstateStarting)
	expectState(t, h.reports, types.StateRunning, types.SubstateOK)

	tagged := spec
	tagged.Tags = []types.Tag{{Key: "team", Value: "web"}}
	h.loop.Send(cmdUpdate{spec: tagged})

	select {
	case ws := <-h.reports:
		t.Fatalf("metadata-only update must not touch the runtime: %s", ws.ExecutionState)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, rt.createCount())
	assert.Equal(t, 0, rt.deleteCount())
}

func TestControlLoopDelete(t *testing.T) {
	spec := specFor("w", "agent_A", "image: w")
	rt := &fakeRuntime{}
	h := newLoopHarness(t, spec, rt, controlLoopConfig{})

	h.loop.Send(cmdCreate{spec: spec})
	expectState(t, h.reports, types.StatePending, types.SubstateStarting)
	expectState(t, h.reports, types.StateRunning, types.SubstateOK)

	h.loop.Send(cmdDelete{})
	expectState(t, h.reports, types.StateStopping, types.SubstateRequested)
	expectState(t, h.reports, types.StateRemoved, "")

	select {
	case <-h.loop.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not terminate after delete")
	}
	assert.Equal(t, 1, rt.deleteCount())
}

func TestControlLoopUpdateSupersedesPendingRetry(t *testing.T) {
	oldSpec := specFor("w", "agent_A", "image: w:1")
	newSpec := specFor("w", "agent_A", "image: w:2")

	retry := &manualRetry{}
	rt := &fakeRuntime{createErrs: []error{
		types.Retriablef("create", fmt.Errorf("pull failed")),
	}}
	h := newLoopHarness(t, oldSpec, rt, controlLoopConfig{retryTimer: retry.timer})

	h.loop.Send(cmdCreate{spec: oldSpec})
	expectState(t, h.reports, types.StatePending, types.SubstateStarting)
	expectState(t, h.reports, types.StatePending, types.SubstateStartingFailed)
	require.Len(t, retry.fires, 1)

	// The update supersedes the scheduled retry; the new spec's
	// attempts start at zero.
	h.loop.Send(cmdUpdate{spec: newSpec})
	expectState(t, h.reports, types.StateStopping, types.SubstateRequested)
	expectState(t, h.reports, types.StateRemoved, "")
	expectState(t, h.reports, types.StatePending, types.SubstateStarting)
	expectState(t, h.reports, types.StateRunning, types.SubstateOK)
	assert.Equal(t, 0, h.loop.retryCount)

	// The stale fire is a no-op.
	retry.fireLast()
	select {
	case ws := <-h.reports:
		t.Fatalf("stale retry must be ignored, got %s", ws.ExecutionState)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 2, rt.createCount())
}

func TestControlLoopRestartPolicyAlways(t *testing.T) {
	wl := types.Workload{
		Agent:         "agent_A",
		Runtime:       "podman",
		RuntimeConfig: "image: w",
		RestartPolicy: types.RestartAlways,
	}
	spec := api.AddedFromSpec("w", wl)

	rt := &fakeRuntime{}
	h := newLoopHarness(t, spec, rt, controlLoopConfig{})

	h.loop.Send(cmdCreate{spec: spec})
	expectState(t, h.reports, types.StatePending, types.SubstateStarting)
	expectState(t, h.reports, types.StateRunning, types.SubstateOK)

	rt.checkers[0].emit(types.StateSucceededOK())
	expectState(t, h.reports, types.StateSucceeded, types.SubstateOK)

	// ALWAYS recreates after a clean exit.
	expectState(t, h.reports, types.StatePending, types.SubstateStarting)
	expectState(t, h.reports, types.StateRunning, types.SubstateOK)
	assert.Equal(t, 2, rt.createCount())
}

func TestControlLoopRestartPolicyOnFailure(t *testing.T) {
	wl := types.Workload{
		Agent:         "agent_A",
		Runtime:       "podman",
		RuntimeConfig: "image: w",
		RestartPolicy: types.RestartOnFailure,
	}
	spec := api.AddedFromSpec("w", wl)

	rt := &fakeRuntime{}
	h := newLoopHarness(t, spec, rt, controlLoopConfig{})

	h.loop.Send(cmdCreate{spec: spec})
	expectState(t, h.reports, types.StatePending, types.SubstateStarting)
	expectState(t, h.reports, types.StateRunning, types.SubstateOK)

	// A clean exit stays down under ON_FAILURE.
	rt.checkers[0].emit(types.StateSucceededOK())
	expectState(t, h.reports, types.StateSucceeded, types.SubstateOK)
	select {
	case ws := <-h.reports:
		t.Fatalf("no restart expected after success: %s", ws.ExecutionState)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, rt.createCount())
}
