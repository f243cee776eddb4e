package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eclipse-ankaios/ankaios-go/pkg/api"
	"github.com/eclipse-ankaios/ankaios-go/pkg/config"
	grpcmw "github.com/eclipse-ankaios/ankaios-go/pkg/grpc"
	"github.com/eclipse-ankaios/ankaios-go/pkg/types"
)

// Client wraps one request/response stream to the server for CLI
// usage.
type Client struct {
	connector *grpcmw.Connector
	timeout   time.Duration
}

// New builds a client from the CLI configuration. With mTLS material
// configured the connection is mutually authenticated; --insecure
// switches to plain text.
func New(cfg config.CLI) (*Client, error) {
	var tlsConfig *tls.Config
	if !cfg.TLS.Insecure {
		var err error
		tlsConfig, err = grpcmw.ClientTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("TLS setup failed (use --insecure to disable): %w", err)
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		connector: &grpcmw.Connector{Target: cfg.ServerURL, TLSConfig: tlsConfig},
		timeout:   timeout,
	}, nil
}

// roundTrip performs one request over a fresh stream.
func (c *Client) roundTrip(ctx context.Context, req *api.Request) (*api.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	stream, err := c.connector.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot reach server: %w", err)
	}
	defer stream.Close()

	if err := stream.Send(&api.ToServer{Request: req}); err != nil {
		return nil, err
	}
	for {
		msg, err := stream.Recv()
		if err != nil {
			return nil, err
		}
		if msg.Goodbye != nil {
			return nil, fmt.Errorf("server closed the stream: %s", msg.Goodbye.Reason)
		}
		if msg.Response != nil && msg.Response.RequestID == req.RequestID {
			return msg.Response, nil
		}
	}
}

// GetCompleteState reads the state filtered by the field masks.
func (c *Client) GetCompleteState(ctx context.Context, fieldMasks []string) (*types.CompleteState, error) {
	resp, err := c.roundTrip(ctx, &api.Request{
		RequestID:     uuid.New().String(),
		CompleteState: &api.CompleteStateRequest{FieldMask: fieldMasks},
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("server error: %s", resp.Error.Message)
	}
	if resp.CompleteState == nil {
		return nil, fmt.Errorf("server returned no state")
	}
	return resp.CompleteState, nil
}

// UpdateState applies newState along the update masks.
func (c *Client) UpdateState(ctx context.Context, newState types.CompleteState, updateMasks []string) (*api.UpdateStateSuccess, error) {
	resp, err := c.roundTrip(ctx, &api.Request{
		RequestID:   uuid.New().String(),
		UpdateState: &api.UpdateStateRequest{NewState: newState, UpdateMask: updateMasks},
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &ServerError{Message: resp.Error.Message}
	}
	if resp.UpdateSuccess == nil {
		return nil, fmt.Errorf("server returned no update result")
	}
	return resp.UpdateSuccess, nil
}

// ServerError is a rejection from the server, distinguished from
// transport failures so the CLI can map it to the right exit code.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}
