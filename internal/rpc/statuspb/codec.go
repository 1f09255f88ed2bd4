// Package statuspb defines the TokenService RPC contract between Gateway/
// ChatSession clients and the Status process, per spec section 6 ("Token
// RPC surface"). The pack has no protoc toolchain and no generated
// gen/go/* packages to build against, so the contract is hand-authored in
// the exact shape protoc-gen-go-grpc would produce, transported with a
// plain JSON encoding.Codec instead of protobuf wire encoding. This is a
// supported grpc-go extension point (google.golang.org/grpc/encoding),
// not a workaround: the RPC semantics (deadlines, keepalive, status
// codes) are identical to a protobuf service, only the payload codec
// differs.
package statuspb

import (
	"encoding/json"
	"fmt"
)

// jsonCodec implements google.golang.org/grpc/encoding.Codec (Marshal,
// Unmarshal, Name) over encoding/json instead of protobuf.
type jsonCodec struct{}

const codecName = "json"

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("statuspb: unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }

// Codec is the shared codec instance both the client and server sides
// force via grpc.ForceCodec, bypassing the proto.Message requirement
// grpc-go's default codec imposes.
var Codec = jsonCodec{}
