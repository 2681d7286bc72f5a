package codec

import "encoding/json"

// JSONCodec is the default value codec.
// Pros: cross-language, human-readable on the wire, tolerant of type drift
// between parent and child binaries.
// Cons: numbers decode as float64 into untyped targets, larger payloads.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (JSONCodec) Type() Type {
	return TypeJSON
}
