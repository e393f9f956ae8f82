// Package relaygrpc carries a relay connection over gRPC.
//
// Messages are the relay/types structs themselves, encoded by their
// cramberry tags, so there is no protobuf schema to generate. Relayers
// follow committed records over the server-streaming Records call.
package relaygrpc

import (
	"fmt"

	"github.com/blockberries/cramberry/pkg/cramberry"
	"google.golang.org/grpc/encoding"
)

// Codec is the gRPC content subtype both ends of a relay connection
// speak. It is registered globally when the package is imported.
type Codec struct{}

func (Codec) Name() string { return "relay-cramberry" }

func (c Codec) Marshal(v any) ([]byte, error) {
	b, err := cramberry.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s: encode %T: %w", c.Name(), v, err)
	}
	return b, nil
}

func (c Codec) Unmarshal(b []byte, v any) error {
	if err := cramberry.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%s: decode %T: %w", c.Name(), v, err)
	}
	return nil
}

func init() { encoding.RegisterCodec(Codec{}) }
