package controlinterface

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eclipse-ankaios/ankaios-go/pkg/api"
	"github.com/eclipse-ankaios/ankaios-go/pkg/log"
	"github.com/eclipse-ankaios/ankaios-go/pkg/types"
)

const (
	inputPipeName  = "input"
	outputPipeName = "output"
	pipeMode       = 0o600
)

// RequestFunc forwards an approved, re-attributed request toward the
// server and returns its response.
type RequestFunc func(ctx context.Context, req *api.Request) *api.Response

// Session proxies one workload's control interface: two named pipes
// under a per-workload directory, an initial hello exchange, then
// authorized requests forwarded to the server.
type Session struct {
	instance   types.WorkloadInstanceName
	dir        string
	authorizer *Authorizer
	forward    RequestFunc

	mu     sync.Mutex
	writer *frameWriter

	cancel context.CancelFunc
	done   chan struct{}

	logger zerolog.Logger
}

// NewSession prepares the pipe directory for one workload instance.
func NewSession(runFolder string, spec api.AddedWorkload, forward RequestFunc) (*Session, error) {
	dir := filepath.Join(runFolder, spec.InstanceName.String())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating control interface directory: %w", err)
	}
	for _, name := range []string{inputPipeName, outputPipeName} {
		path := filepath.Join(dir, name)
		if err := syscall.Mkfifo(path, pipeMode); err != nil && !os.IsExist(err) {
			return nil, fmt.Errorf("creating pipe %s: %w", path, err)
		}
	}
	return &Session{
		instance:   spec.InstanceName,
		dir:        dir,
		authorizer: NewAuthorizer(spec.ControlInterfaceAccess),
		forward:    forward,
		done:       make(chan struct{}),
		logger:     log.WithWorkload(spec.InstanceName.WorkloadName),
	}, nil
}

// Dir returns the per-workload pipe directory, mounted into the
// container by the runtime.
func (s *Session) Dir() string {
	return s.dir
}

// Start serves the session until Stop or a pipe error.
func (s *Session) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
}

// Stop closes the session and removes the pipe directory.
func (s *Session) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
	_ = os.RemoveAll(s.dir)
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	// Opening a FIFO for reading blocks until the workload opens the
	// other end, which may be never; the open itself is the wait.
	input, err := os.OpenFile(filepath.Join(s.dir, inputPipeName), os.O_RDONLY, 0)
	if err != nil {
		s.logger.Warn().Err(err).Msg("control interface input pipe not usable")
		return
	}
	defer input.Close()

	output, err := os.OpenFile(filepath.Join(s.dir, outputPipeName), os.O_WRONLY, 0)
	if err != nil {
		s.logger.Warn().Err(err).Msg("control interface output pipe not usable")
		return
	}
	defer output.Close()

	go func() {
		<-ctx.Done()
		input.Close()
		output.Close()
	}()

	reader := newFrameReader(input)
	s.mu.Lock()
	s.writer = newFrameWriter(output)
	s.mu.Unlock()

	if !s.handshake(reader) {
		return
	}

	for {
		msg := &api.ToAnkaios{}
		if err := reader.read(msg); err != nil {
			if ctx.Err() == nil {
				s.logger.Debug().Err(err).Msg("control interface session ended")
			}
			return
		}
		if err := msg.Validate(); err != nil || msg.Request == nil {
			s.write(&api.FromAnkaios{ConnectionClosed: &api.ConnectionClosed{Reason: "protocol violation"}})
			return
		}
		s.handleRequest(ctx, msg.Request)
	}
}

// handshake performs the initialHello exchange. A version mismatch
// closes the session.
func (s *Session) handshake(reader *frameReader) bool {
	first := &api.ToAnkaios{}
	if err := reader.read(first); err != nil {
		return false
	}
	if first.Hello == nil || first.Hello.ProtocolVersion != api.ProtocolVersion {
		s.write(&api.FromAnkaios{ConnectionClosed: &api.ConnectionClosed{
			Reason: "unsupported protocol version",
		}})
		return false
	}
	return true
}

func (s *Session) handleRequest(ctx context.Context, req *api.Request) {
	op, masks := req.RequestOperation()
	if op == "" {
		s.respond(&api.Response{RequestID: req.RequestID, Error: &api.Error{Message: "empty request"}})
		return
	}
	if !s.authorizer.Allows(op, masks) {
		s.logger.Info().Str("operation", string(op)).Msg("control interface request denied")
		s.respond(&api.Response{RequestID: req.RequestID, Error: &api.Error{Message: "access denied"}})
		return
	}

	// Re-attribute the request: the server sees a unique id, the
	// workload gets its own id back.
	upstream := *req
	upstream.RequestID = fmt.Sprintf("%s@%s", s.instance.WorkloadName, uuid.New().String())
	resp := s.forward(ctx, &upstream)

	downstream := *resp
	downstream.RequestID = req.RequestID
	s.respond(&downstream)
}

func (s *Session) respond(resp *api.Response) {
	s.write(&api.FromAnkaios{Response: resp})
}

// PushStates forwards a cluster-wide state delta to the workload.
// Only sessions whose rules allow reading workload states get it.
func (s *Session) PushStates(states []types.WorkloadState) {
	if !s.authorizer.Allows(types.AccessRead, []string{"workloadStates"}) {
		return
	}
	s.write(&api.FromAnkaios{UpdateWorkloadState: &api.UpdateWorkloadState{WorkloadStates: states}})
}

func (s *Session) write(msg *api.FromAnkaios) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return
	}
	if err := s.writer.write(msg); err != nil {
		s.logger.Debug().Err(err).Msg("control interface write failed")
	}
}
