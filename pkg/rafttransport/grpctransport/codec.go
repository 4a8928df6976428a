package grpctransport

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content-subtype this package registers under.
// Every call forces this codec (grpc.CallContentSubtype) rather than
// generating message types from a .proto file: the transport frames are
// already JSON-encoded by raft.Serializer one layer up, so the codec only
// needs to carry an opaque byte slice across the wire.
const codecName = "raftsim-raw"

// rawCodec implements encoding.Codec over *[]byte payloads.
type rawCodec struct{}

func (rawCodec) Name() string { return codecName }

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("grpctransport: codec expects *[]byte, got %T", v)
	}
	return *b, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("grpctransport: codec expects *[]byte, got %T", v)
	}
	*b = append([]byte(nil), data...)
	return nil
}

func init() {
	encoding.RegisterCodec(rawCodec{})
}
