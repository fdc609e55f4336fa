package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec lets the frame-serving RPC carry plain Go DTOs over
// google.golang.org/grpc's transport without a protoc-generated message
// set: Cedar's frame/solve payloads are internal DTOs assembled fresh
// every iteration, not a stable wire contract shared with another team,
// so JSON-over-grpc keeps the donor's gRPC transport (streaming,
// deadlines, interceptors) without requiring a .proto build step this
// module has no toolchain access to run.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
