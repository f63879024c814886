package rpc

import (
	"encoding/json"

	"connectrpc.com/connect"
)

// jsonCodec serializes the hand-rolled message structs with
// encoding/json. Registering it under the name "json" replaces
// Connect's protojson codec, which only accepts proto.Message values.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(message any) ([]byte, error) {
	return json.Marshal(message)
}

func (jsonCodec) Unmarshal(data []byte, message any) error {
	return json.Unmarshal(data, message)
}

// NewJSONCodec returns the codec clients must register with
// connect.WithCodec to call the service.
func NewJSONCodec() connect.Codec {
	return jsonCodec{}
}
