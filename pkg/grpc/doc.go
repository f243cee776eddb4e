/*
Package grpc is the middleware: a bidirectional gRPC stream over
optional mutual TLS carrying the api package's tagged unions as CBOR.

The service descriptor is maintained by hand and the payloads bypass
protobuf entirely through a registered codec; the stream framing and
flow control stay standard gRPC. With mTLS enabled the client
certificate CN is authoritative for the agent name. The server treats
stream termination as agent disconnect.
*/
package grpc
