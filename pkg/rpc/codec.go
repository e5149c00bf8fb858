package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec lets the heartbeat/vote/position RPCs ride plain Go structs
// over grpc's HTTP/2 transport without a protoc-generated message set.
// Registering it under the name "proto" makes it grpc's default codec for
// this process, since no peer outside this binary ever decodes our frames.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return "proto" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
