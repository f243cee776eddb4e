package agent

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/eclipse-ankaios/ankaios-go/pkg/api"
	"github.com/eclipse-ankaios/ankaios-go/pkg/log"
)

// Stream is one live bidirectional connection to the server.
type Stream interface {
	Send(*api.ToServer) error
	Recv() (*api.FromServer, error)
	Close() error
}

// Connector dials the server. The gRPC middleware implements it; tests
// substitute channel-backed loopbacks.
type Connector interface {
	Connect(ctx context.Context) (Stream, error)
}

// Reconnect backoff: exponential from initial to max, reset after a
// stream that delivered a ServerHello.
const (
	reconnectInitialDelay = time.Second
	reconnectMaxDelay     = 30 * time.Second
)

// Connection owns the agent side of the server stream: hello exchange,
// one receive task, one send task, and reconnection with exponential
// backoff. Each successful connect re-seeds the manager through the
// ServerHello it forwards.
type Connection struct {
	agentName string
	connector Connector
	manager   *Manager

	logger zerolog.Logger
}

// NewConnection wires a connection for the manager.
func NewConnection(agentName string, connector Connector, manager *Manager) *Connection {
	return &Connection{
		agentName: agentName,
		connector: connector,
		manager:   manager,
		logger:    log.WithComponent("connection"),
	}
}

// Run connects and pumps until ctx is cancelled. Stream loss triggers
// reconnect; the server rebuilds the agent's view via ServerHello.
func (c *Connection) Run(ctx context.Context) {
	delay := reconnectInitialDelay
	for {
		established, err := c.serveOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.Warn().Err(err).Dur("retry_in", delay).Msg("server stream lost")
		}
		if established {
			delay = reconnectInitialDelay
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

// serveOnce runs one stream to completion. It reports whether the
// handshake completed, so the caller can reset the backoff.
func (c *Connection) serveOnce(ctx context.Context) (bool, error) {
	stream, err := c.connector.Connect(ctx)
	if err != nil {
		return false, err
	}
	defer stream.Close()

	hello := &api.ToServer{AgentHello: &api.AgentHello{
		AgentName:       c.agentName,
		ProtocolVersion: api.ProtocolVersion,
	}}
	if err := stream.Send(hello); err != nil {
		return false, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sendDone := make(chan error, 1)
	go func() {
		sendDone <- c.sendLoop(streamCtx, stream)
	}()

	established := false
	var recvErr error
	for {
		msg, err := stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				recvErr = err
			}
			break
		}
		if msg.ServerHello != nil {
			established = true
		}
		if msg.Goodbye != nil {
			c.logger.Info().Str("reason", msg.Goodbye.Reason).Msg("server closed the stream")
			c.forward(streamCtx, msg)
			break
		}
		c.forward(streamCtx, msg)
	}

	cancel()
	<-sendDone
	return established, recvErr
}

func (c *Connection) forward(ctx context.Context, msg *api.FromServer) {
	select {
	case c.manager.FromServer() <- msg:
	case <-ctx.Done():
	}
}

// sendLoop drains the manager's outbox into the stream. Messages are
// delivered in send order within one stream.
func (c *Connection) sendLoop(ctx context.Context, stream Stream) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-c.manager.ToServer():
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}
