// Package runtimeclient is the RPC client the deployment driver uses to
// talk to the runtime process embedded in a project's container (spec.md
// §4.5: Load, Start, and the stop-subscription stream). It dials over
// gRPC, the teacher's own transport (pkg/api/server.go), but registers a
// JSON codec instead of generated protobuf message types: the retrieval
// pack carries no .proto sources or generated stubs for this service, and
// hand-writing fake generated code would be indistinguishable from
// fabricating a dependency. A JSON codec is a standard, supported grpc-go
// extension point (encoding.Codec); the request/response shapes follow what
// protoc would have produced, but the bytes on the wire are JSON, not
// protobuf.
package runtimeclient

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

const jsonCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// serviceName is the gRPC service the runtime registers on its side,
// matching the RPC names spec.md §4.5 describes.
const serviceName = "warren.runtime.Runtime"

func fullMethod(method string) string {
	return fmt.Sprintf("/%s/%s", serviceName, method)
}
