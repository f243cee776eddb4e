package server

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eclipse-ankaios/ankaios-go/pkg/api"
	"github.com/rs/zerolog"

	"github.com/eclipse-ankaios/ankaios-go/pkg/log"
	"github.com/eclipse-ankaios/ankaios-go/pkg/metrics"
	"github.com/eclipse-ankaios/ankaios-go/pkg/types"
)

// commandBufferSize bounds the reconciliation task's inbox.
const commandBufferSize = 128

// Server is the reconciliation engine: the single writer of the
// desired state and the aggregation point for all workload state
// observations. Every mutation flows through one task, so effects
// become visible in a total order consistent with acknowledgment
// order.
type Server struct {
	store    *store
	hub      *hub
	commands chan command
	runtimes map[string]bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// command is one unit of work for the reconciliation task.
type command interface{ isCommand() }

type requestCmd struct {
	request *api.Request
	reply   chan *api.Response
}

type agentConnectCmd struct {
	agent string
	reply chan agentConnectResult
}

type agentConnectResult struct {
	hello *api.ServerHello
	sub   *Subscription
	err   error
}

type agentDisconnectCmd struct {
	agent string
}

type agentStatesCmd struct {
	agent  string
	states []types.WorkloadState
}

func (requestCmd) isCommand()         {}
func (agentConnectCmd) isCommand()    {}
func (agentDisconnectCmd) isCommand() {}
func (agentStatesCmd) isCommand()     {}

// New creates a server accepting the given runtime tags in desired
// workloads. An empty list accepts any tag.
func New(knownRuntimes []string) *Server {
	runtimes := make(map[string]bool, len(knownRuntimes))
	for _, r := range knownRuntimes {
		runtimes[r] = true
	}
	return &Server{
		store:    newStore(),
		hub:      newHub(),
		commands: make(chan command, commandBufferSize),
		runtimes: runtimes,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the reconciliation task.
func (s *Server) Start() {
	go s.run()
}

// Stop terminates the reconciliation task and waits for it to exit.
func (s *Server) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// LoadStartupManifest applies a manifest file as the initial desired
// state. The server holds no state across restarts; the manifest is
// the only way to come up non-empty.
func (s *Server) LoadStartupManifest(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading startup manifest: %w", err)
	}
	var manifest types.CompleteState
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return fmt.Errorf("parsing startup manifest %s: %w", path, err)
	}
	if manifest.DesiredState == nil {
		return fmt.Errorf("startup manifest %s contains no desiredState", path)
	}

	resp := s.HandleRequest(context.Background(), &api.Request{
		RequestID:   "startup-manifest",
		UpdateState: &api.UpdateStateRequest{NewState: manifest},
	})
	if resp.Error != nil {
		return fmt.Errorf("applying startup manifest: %s", resp.Error.Message)
	}
	return nil
}

// HandleRequest processes one client request through the
// reconciliation task and returns its response.
func (s *Server) HandleRequest(ctx context.Context, req *api.Request) *api.Response {
	reply := make(chan *api.Response, 1)
	select {
	case s.commands <- requestCmd{request: req, reply: reply}:
	case <-ctx.Done():
		return errorResponse(req.RequestID, "server shutting down")
	case <-s.stopCh:
		return errorResponse(req.RequestID, "server shutting down")
	}
	select {
	case resp := <-reply:
		return resp
	case <-ctx.Done():
		return errorResponse(req.RequestID, "request cancelled")
	}
}

// HandleAgentConnect registers an agent stream. It returns the
// ServerHello to send first and the channel the stream's send task
// must drain afterwards.
func (s *Server) HandleAgentConnect(agent string) (*api.ServerHello, *Subscription, error) {
	reply := make(chan agentConnectResult, 1)
	select {
	case s.commands <- agentConnectCmd{agent: agent, reply: reply}:
	case <-s.stopCh:
		return nil, nil, fmt.Errorf("server shutting down")
	}
	res := <-reply
	return res.hello, res.sub, res.err
}

// HandleAgentDisconnect tears down an agent stream: liveness entry
// removed, non-terminal workload states rewritten to AgentDisconnected
// and broadcast.
func (s *Server) HandleAgentDisconnect(agent string) {
	select {
	case s.commands <- agentDisconnectCmd{agent: agent}:
	case <-s.stopCh:
	}
}

// HandleUpdateWorkloadState ingests an agent's observation batch.
func (s *Server) HandleUpdateWorkloadState(agent string, states []types.WorkloadState) {
	select {
	case s.commands <- agentStatesCmd{agent: agent, states: states}:
	case <-s.stopCh:
	}
}

func (s *Server) run() {
	defer close(s.doneCh)
	logger := log.WithComponent("server")

	for {
		select {
		case <-s.stopCh:
			return
		case cmd := <-s.commands:
			switch c := cmd.(type) {
			case requestCmd:
				c.reply <- s.processRequest(c.request, logger)
			case agentConnectCmd:
				c.reply <- s.processAgentConnect(c.agent, logger)
			case agentDisconnectCmd:
				s.processAgentDisconnect(c.agent, logger)
			case agentStatesCmd:
				s.processAgentStates(c.agent, c.states)
			}
		}
	}
}

func (s *Server) processRequest(req *api.Request, logger zerolog.Logger) *api.Response {
	switch {
	case req.CompleteState != nil:
		filtered, err := types.FilterComplete(s.store.complete(), req.CompleteState.FieldMask)
		if err != nil {
			return errorResponse(req.RequestID, err.Error())
		}
		return &api.Response{RequestID: req.RequestID, CompleteState: filtered}

	case req.UpdateState != nil:
		return s.processUpdateState(req, logger)

	default:
		return errorResponse(req.RequestID, "empty request")
	}
}

func (s *Server) processUpdateState(req *api.Request, logger zerolog.Logger) *api.Response {
	metrics.UpdateStateRequestsTotal.Inc()

	candidate, err := applyUpdate(s.store.desired, req.UpdateState, s.runtimes)
	if err != nil {
		logger.Warn().Err(err).Str("request", req.RequestID).Msg("rejected desired state update")
		metrics.UpdateStateRejectedTotal.Inc()
		return errorResponse(req.RequestID, err.Error())
	}

	d := computeDelta(s.store.desired, candidate)
	s.store.desired = candidate

	if d.empty() {
		return &api.Response{RequestID: req.RequestID, UpdateSuccess: &api.UpdateStateSuccess{}}
	}

	for agent, cmd := range d.perAgent {
		logger.Info().
			Str("agent", agent).
			Int("added", len(cmd.Added)).
			Int("deleted", len(cmd.Deleted)).
			Msg("dispatching workload update")
		s.hub.sendTo(agent, &api.FromServer{UpdateWorkload: cmd})
	}
	metrics.DesiredWorkloads.Set(float64(len(s.store.desired.Workloads)))

	return &api.Response{
		RequestID: req.RequestID,
		UpdateSuccess: &api.UpdateStateSuccess{
			AddedWorkloads:   d.added,
			DeletedWorkloads: d.deleted,
		},
	}
}

func (s *Server) processAgentConnect(agent string, logger zerolog.Logger) agentConnectResult {
	sub, err := s.hub.attach(agent)
	if err != nil {
		return agentConnectResult{err: err}
	}
	s.store.connectAgent(agent, time.Now())
	metrics.ConnectedAgents.Set(float64(len(s.store.agents)))

	assigned := s.store.assignedWorkloads(agent)
	hello := &api.ServerHello{WorkloadStates: s.store.states.Entries()}
	for name, wl := range assigned {
		hello.AddedWorkloads = append(hello.AddedWorkloads, api.AddedFromSpec(name, wl))
	}

	logger.Info().Str("agent", agent).Int("workloads", len(hello.AddedWorkloads)).Msg("agent connected")
	return agentConnectResult{hello: hello, sub: sub}
}

func (s *Server) processAgentDisconnect(agent string, logger zerolog.Logger) {
	if !s.hub.connected(agent) {
		return
	}
	s.hub.detach(agent)
	s.store.disconnectAgent(agent)
	metrics.ConnectedAgents.Set(float64(len(s.store.agents)))
	logger.Info().Str("agent", agent).Msg("agent disconnected")

	if delta := s.store.markAgentDisconnected(agent); len(delta) > 0 {
		s.hub.broadcast(&api.FromServer{
			UpdateWorkloadState: &api.UpdateWorkloadState{WorkloadStates: delta},
		})
	}
}

func (s *Server) processAgentStates(agent string, states []types.WorkloadState) {
	delta := s.store.mergeStates(states)
	if len(delta) == 0 {
		return
	}
	for _, ws := range delta {
		metrics.WorkloadStateTransitionsTotal.WithLabelValues(string(ws.ExecutionState.State)).Inc()
	}
	s.hub.broadcast(&api.FromServer{
		UpdateWorkloadState: &api.UpdateWorkloadState{WorkloadStates: delta},
	})
}

func errorResponse(requestID, msg string) *api.Response {
	return &api.Response{RequestID: requestID, Error: &api.Error{Message: msg}}
}
