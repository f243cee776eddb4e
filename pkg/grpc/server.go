package grpc

import (
	"crypto/tls"
	"errors"
	"io"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/eclipse-ankaios/ankaios-go/pkg/api"
	"github.com/eclipse-ankaios/ankaios-go/pkg/log"
	"github.com/eclipse-ankaios/ankaios-go/pkg/server"
)

// Transport hosts the server end of the middleware: it accepts agent
// and client streams and bridges them onto the reconciliation engine.
type Transport struct {
	core *server.Server
	grpc *grpc.Server

	logger zerolog.Logger
}

// NewTransport builds the transport. A nil tlsConfig serves plain text
// (--insecure).
func NewTransport(core *server.Server, tlsConfig *tls.Config) *Transport {
	opts := []grpc.ServerOption{grpc.ForceServerCodec(api.Codec{})}
	if tlsConfig != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}
	t := &Transport{
		core:   core,
		grpc:   grpc.NewServer(opts...),
		logger: log.WithComponent("transport"),
	}
	t.grpc.RegisterService(&serviceDesc, t)
	return t
}

// Start serves on addr. Blocks until Stop.
func (t *Transport) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return t.Serve(lis)
}

// Serve runs the transport on an existing listener.
func (t *Transport) Serve(lis net.Listener) error {
	t.logger.Info().Str("address", lis.Addr().String()).Msg("listening")
	return t.grpc.Serve(lis)
}

// Stop drains and stops the gRPC server. Stream termination is what
// marks the connected agents disconnected.
func (t *Transport) Stop() {
	t.grpc.GracefulStop()
}

// Connect implements the streaming method. The first frame decides the
// session kind: AgentHello opens an agent session, a Request opens a
// one-shot client session.
func (t *Transport) Connect(stream grpc.ServerStream) error {
	first := &api.ToServer{}
	if err := stream.RecvMsg(first); err != nil {
		return err
	}
	if err := first.Validate(); err != nil {
		return t.sayGoodbye(stream, err.Error())
	}

	switch {
	case first.AgentHello != nil:
		return t.serveAgent(stream, first.AgentHello)
	case first.Request != nil:
		return t.serveClient(stream, first)
	default:
		return t.sayGoodbye(stream, "stream must open with AgentHello or Request")
	}
}

// serveAgent runs one agent session until the stream drops.
func (t *Transport) serveAgent(stream grpc.ServerStream, hello *api.AgentHello) error {
	if hello.ProtocolVersion != api.ProtocolVersion {
		return t.sayGoodbye(stream, "unsupported protocol version "+hello.ProtocolVersion)
	}

	// With mutual TLS the certificate CN is authoritative for the
	// agent name; the hello field only counts on insecure transports.
	name := peerCommonName(stream.Context())
	if name == "" {
		name = hello.AgentName
	}
	if name == "" {
		return t.sayGoodbye(stream, "agent name missing")
	}

	serverHello, sub, err := t.core.HandleAgentConnect(name)
	if err != nil {
		return t.sayGoodbye(stream, err.Error())
	}
	defer t.core.HandleAgentDisconnect(name)

	if err := stream.SendMsg(&api.FromServer{ServerHello: serverHello}); err != nil {
		return err
	}

	// Fan-out task: drains the reconciliation engine's queue for this
	// agent in send order.
	sendErr := make(chan error, 1)
	go func() {
		for {
			select {
			case msg := <-sub.Out():
				if err := stream.SendMsg(msg); err != nil {
					sendErr <- err
					return
				}
			case <-sub.Closed():
				sendErr <- nil
				return
			}
		}
	}()

	// Receiver task: this goroutine.
	for {
		select {
		case err := <-sendErr:
			return err
		default:
		}

		msg := &api.ToServer{}
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := msg.Validate(); err != nil {
			return t.sayGoodbye(stream, err.Error())
		}

		switch {
		case msg.UpdateWorkloadState != nil:
			t.core.HandleUpdateWorkloadState(name, msg.UpdateWorkloadState.WorkloadStates)

		case msg.Request != nil:
			// A workload request proxied by the agent's control
			// interface. Answered on the same stream.
			resp := t.core.HandleRequest(stream.Context(), msg.Request)
			if err := stream.SendMsg(&api.FromServer{Response: resp}); err != nil {
				return err
			}

		case msg.Goodbye != nil:
			t.logger.Info().Str("agent", name).Str("reason", msg.Goodbye.Reason).Msg("agent said goodbye")
			return nil

		default:
			return t.sayGoodbye(stream, "unexpected message on agent stream")
		}
	}
}

// serveClient answers requests on a short-lived CLI stream.
func (t *Transport) serveClient(stream grpc.ServerStream, first *api.ToServer) error {
	msg := first
	for {
		if msg.Request != nil {
			resp := t.core.HandleRequest(stream.Context(), msg.Request)
			if err := stream.SendMsg(&api.FromServer{Response: resp}); err != nil {
				return err
			}
		} else if msg.Goodbye != nil {
			return nil
		} else {
			return t.sayGoodbye(stream, "unexpected message on client stream")
		}

		msg = &api.ToServer{}
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := msg.Validate(); err != nil {
			return t.sayGoodbye(stream, err.Error())
		}
	}
}

func (t *Transport) sayGoodbye(stream grpc.ServerStream, reason string) error {
	_ = stream.SendMsg(&api.FromServer{Goodbye: &api.Goodbye{Reason: reason}})
	return errors.New(reason)
}
