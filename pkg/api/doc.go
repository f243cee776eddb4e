/*
Package api defines the wire protocol spoken between the server, the
agents and the ank CLI: the ToServer and FromServer tagged unions and
the CBOR codec that carries them over the gRPC stream and the control
interface pipes.

Messages are plain structs with integer CBOR keys, encoded
deterministically. Exactly one variant of a union is set per frame;
Validate enforces this on receipt so an unknown or ambiguous frame is
rejected before any partial processing.
*/
package api
