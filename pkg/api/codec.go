package api

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype under which the CBOR codec is
// registered. Both ends of a stream must select it explicitly.
const CodecName = "cbor"

// encMode uses core deterministic encoding so the same message always
// produces the same bytes.
var encMode cbor.EncMode

// decMode caps nesting depth at 32 levels. Unknown map keys are
// ignored; a frame left with no variant set is rejected by Validate.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{MaxNestedLevels: 32}.DecMode()
	if err != nil {
		panic(err)
	}
	encoding.RegisterCodec(Codec{})
}

// Codec is a gRPC encoding.Codec that carries the wire messages as
// CBOR. The transport stays standard gRPC framing (length-prefixed
// binary); only the payload encoding changes.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

func (Codec) Name() string {
	return CodecName
}

// Encode serializes a value to CBOR outside of gRPC, for the control
// interface pipe framing.
func Encode(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", v, err)
	}
	return data, nil
}

// Decode deserializes CBOR produced by Encode.
func Decode(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %T: %w", v, err)
	}
	return nil
}
