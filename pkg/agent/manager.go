package agent

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eclipse-ankaios/ankaios-go/pkg/api"
	"github.com/eclipse-ankaios/ankaios-go/pkg/log"
	"github.com/eclipse-ankaios/ankaios-go/pkg/runtime"
	"github.com/eclipse-ankaios/ankaios-go/pkg/types"
)

// stateQueueSize bounds the channel carrying the agent's own workload
// state observations toward the server. Control loops block on a full
// queue rather than dropping observations.
const stateQueueSize = 256

// Config carries the tunables of one agent process.
type Config struct {
	Name          string
	RetryLimit    int
	RetryInterval time.Duration

	// retryTimer is injected by tests to bypass the real interval.
	retryTimer retryTimerFunc
}

// Manager is the agent's central task: it serializes everything coming
// from the server with everything coming from its own control loops,
// and is the only writer of the local state store.
type Manager struct {
	cfg      Config
	registry *runtime.Registry
	store    *StateStore
	rm       *RuntimeManager

	fromServer chan *api.FromServer
	ownStates  chan types.WorkloadState
	toServer   chan *api.ToServer

	// pending maps in-flight proxied request ids to their reply
	// channels.
	pendingMu sync.Mutex
	pending   map[string]chan *api.Response

	// stateDeltaSink, when set, receives every cluster-wide state
	// delta; the control interface registry subscribes here.
	stateDeltaSink func([]types.WorkloadState)

	stopCh chan struct{}
	doneCh chan struct{}

	logger zerolog.Logger
}

// NewManager wires the manager with its runtime registry.
func NewManager(cfg Config, registry *runtime.Registry) *Manager {
	m := &Manager{
		cfg:        cfg,
		registry:   registry,
		store:      NewStateStore(),
		fromServer: make(chan *api.FromServer, 64),
		ownStates:  make(chan types.WorkloadState, stateQueueSize),
		toServer:   make(chan *api.ToServer, 64),
		pending:    make(map[string]chan *api.Response),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		logger:     log.WithAgent(cfg.Name),
	}
	m.rm = NewRuntimeManager(cfg.Name, registry, m.store, m.reportState, controlLoopConfig{
		retryLimit:    cfg.RetryLimit,
		retryInterval: cfg.RetryInterval,
		retryTimer:    cfg.retryTimer,
	})
	return m
}

// FromServer is the inbox the connection feeds.
func (m *Manager) FromServer() chan<- *api.FromServer {
	return m.fromServer
}

// ToServer is the outbox the connection drains.
func (m *Manager) ToServer() <-chan *api.ToServer {
	return m.toServer
}

// SetStateDeltaSink registers a consumer for cluster-wide state
// deltas. Must be called before Start.
func (m *Manager) SetStateDeltaSink(sink func([]types.WorkloadState)) {
	m.stateDeltaSink = sink
}

// SetSessionManager hands the runtime manager its control interface
// session hooks. Must be called before Start.
func (m *Manager) SetSessionManager(sessions SessionManager) {
	m.rm.sessions = sessions
}

// SubmitRequest forwards a proxied workload request to the server and
// waits for the matching response. Used by the control interface.
func (m *Manager) SubmitRequest(ctx context.Context, req *api.Request) *api.Response {
	reply := make(chan *api.Response, 1)
	m.pendingMu.Lock()
	m.pending[req.RequestID] = reply
	m.pendingMu.Unlock()
	defer func() {
		m.pendingMu.Lock()
		delete(m.pending, req.RequestID)
		m.pendingMu.Unlock()
	}()

	msg := &api.ToServer{Request: req}
	select {
	case m.toServer <- msg:
	case <-ctx.Done():
		return &api.Response{RequestID: req.RequestID, Error: &api.Error{Message: "request cancelled"}}
	case <-m.stopCh:
		return &api.Response{RequestID: req.RequestID, Error: &api.Error{Message: "agent shutting down"}}
	}

	select {
	case resp := <-reply:
		return resp
	case <-ctx.Done():
		return &api.Response{RequestID: req.RequestID, Error: &api.Error{Message: "request cancelled"}}
	case <-m.stopCh:
		return &api.Response{RequestID: req.RequestID, Error: &api.Error{Message: "agent shutting down"}}
	}
}

// Start launches the manager task.
func (m *Manager) Start(ctx context.Context) {
	go m.run(ctx)
}

// Stop terminates the manager task, cancels all control loops through
// ctx cancellation done by the caller, and waits for the task itself.
func (m *Manager) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

// reportState is handed to control loops; it feeds the manager's own
// select loop so store writes stay single-writer.
func (m *Manager) reportState(ws types.WorkloadState) {
	select {
	case m.ownStates <- ws:
	case <-m.stopCh:
	}
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.doneCh)

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return

		case msg := <-m.fromServer:
			m.handleFromServer(ctx, msg)
			m.rm.Prune()

		case ws := <-m.ownStates:
			m.rm.StoreOwnState(ws)
			m.forwardOwnState(ws)
			m.rm.Prune()
		}
	}
}

func (m *Manager) handleFromServer(ctx context.Context, msg *api.FromServer) {
	if err := msg.Validate(); err != nil {
		m.logger.Warn().Err(err).Msg("dropping malformed server message")
		return
	}

	switch {
	case msg.ServerHello != nil:
		m.logger.Info().
			Int("workloads", len(msg.ServerHello.AddedWorkloads)).
			Msg("received server hello")
		m.rm.HandleServerHello(ctx, msg.ServerHello)

	case msg.UpdateWorkload != nil:
		m.logger.Debug().
			Int("added", len(msg.UpdateWorkload.Added)).
			Int("deleted", len(msg.UpdateWorkload.Deleted)).
			Msg("received workload update")
		m.rm.HandleUpdateWorkload(ctx, msg.UpdateWorkload)

	case msg.UpdateWorkloadState != nil:
		m.rm.UpdateWorkloadState(msg.UpdateWorkloadState.WorkloadStates)
		if m.stateDeltaSink != nil {
			m.stateDeltaSink(msg.UpdateWorkloadState.WorkloadStates)
		}

	case msg.Response != nil:
		m.pendingMu.Lock()
		reply, ok := m.pending[msg.Response.RequestID]
		m.pendingMu.Unlock()
		if ok {
			reply <- msg.Response
		}

	case msg.Goodbye != nil:
		m.logger.Info().Str("reason", msg.Goodbye.Reason).Msg("server said goodbye")
	}
}

// forwardOwnState sends one observation to the server. Observations of
// this agent's own workloads are the server's only source of truth for
// the actual state.
func (m *Manager) forwardOwnState(ws types.WorkloadState) {
	msg := &api.ToServer{
		UpdateWorkloadState: &api.UpdateWorkloadState{
			WorkloadStates: []types.WorkloadState{ws},
		},
	}
	select {
	case m.toServer <- msg:
	case <-m.stopCh:
	}
}
