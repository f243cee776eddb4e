package grpc

import (
	"context"
	"crypto/tls"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/eclipse-ankaios/ankaios-go/pkg/agent"
	"github.com/eclipse-ankaios/ankaios-go/pkg/api"
)

// Dial opens a connection to the server. A nil tlsConfig dials plain
// text.
func Dial(target string, tlsConfig *tls.Config) (*grpc.ClientConn, error) {
	creds := insecure.NewCredentials()
	if tlsConfig != nil {
		creds = credentials.NewTLS(tlsConfig)
	}
	return grpc.NewClient(target,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(api.CodecName)),
	)
}

// clientStream adapts a raw gRPC stream to the typed Stream contract.
type clientStream struct {
	stream grpc.ClientStream
	conn   *grpc.ClientConn
}

func (s *clientStream) Send(msg *api.ToServer) error {
	return s.stream.SendMsg(msg)
}

func (s *clientStream) Recv() (*api.FromServer, error) {
	msg := &api.FromServer{}
	if err := s.stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *clientStream) Close() error {
	err := s.stream.CloseSend()
	if s.conn != nil {
		if cerr := s.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Connector dials a fresh connection per attempt, so the agent's
// reconnect loop gets a clean transport each time.
type Connector struct {
	Target    string
	TLSConfig *tls.Config
}

var _ agent.Connector = (*Connector)(nil)

// Connect implements agent.Connector.
func (c *Connector) Connect(ctx context.Context) (agent.Stream, error) {
	conn, err := Dial(c.Target, c.TLSConfig)
	if err != nil {
		return nil, err
	}
	stream, err := conn.NewStream(ctx, &serviceDesc.Streams[0], connectMethod)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &clientStream{stream: stream, conn: conn}, nil
}
