package grpc

import (
	"google.golang.org/grpc"
)

// The transport exposes a single bidirectional streaming method. Both
// agents and CLI clients speak it; the first ToServer frame decides
// which kind of session the stream becomes.

const (
	serviceName   = "grpc_api.AgentConnection"
	connectMethod = "/grpc_api.AgentConnection/Connect"
)

// connectionServer is the server-side contract behind the service
// descriptor.
type connectionServer interface {
	Connect(grpc.ServerStream) error
}

// serviceDesc is maintained by hand: the wire messages travel as CBOR
// through the registered codec, so there is no generated stub layer.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*connectionServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "grpc_api.proto",
}

func connectHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(connectionServer).Connect(stream)
}
