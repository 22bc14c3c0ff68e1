package connectjudge

import "encoding/json"

// jsonCodec carries plain structs as JSON. It replaces connect's protobuf
// JSON codec under the same name, so the wire content type stays
// application/json.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
