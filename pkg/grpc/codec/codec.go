// Package codec provides the gRPC codec shared by the controller server and
// its clients. Protobuf messages (health, reflection) are encoded with
// protobuf; every other value is encoded as JSON.
//
// The server forces this codec for every call, whatever content subtype the
// caller announces, so stock health and reflection clients keep working.
// ClusterCtrl calls go out as application/grpc+json; their messages are the
// JSON documents of pkg/grpc/pb/v1 and have no protobuf schema.
package codec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
)

// Name is the content subtype ClusterCtrl calls announce.
const Name = "json"

// Codec implements encoding.Codec.
type Codec struct{}

// Marshal encodes v.
func (Codec) Marshal(v any) ([]byte, error) {
	if m, ok := v.(proto.Message); ok {
		return proto.Marshal(m)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal %T: %w", v, err)
	}
	return data, nil
}

// Unmarshal decodes data into v.
func (Codec) Unmarshal(data []byte, v any) error {
	if m, ok := v.(proto.Message); ok {
		return proto.Unmarshal(data, m)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("codec: unmarshal %T: %w", v, err)
	}
	return nil
}

// Name returns the codec name.
func (Codec) Name() string {
	return Name
}

// ServerOption forces the codec on a server.
func ServerOption() grpc.ServerOption {
	return grpc.ForceServerCodec(Codec{})
}

// CallOption forces the codec on client calls.
func CallOption() grpc.CallOption {
	return grpc.ForceCodec(Codec{})
}
