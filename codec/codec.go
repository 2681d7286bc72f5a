// Package codec is the pluggable serialization boundary for argument and
// result values. Every value that crosses the process boundary must be
// encodable by the selected codec; anything that is not fails at encode time
// with a serialization error rather than corrupting the channel.
//
// The codec type byte travels in every frame header, so the worker always
// decodes with the codec the proxy encoded with.
package codec

import "fmt"

type Type byte

const (
	TypeJSON Type = 0
	TypeGob  Type = 1
)

// Codec encodes and decodes a single value.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Type() Type
}

// Get returns the codec for the given type byte.
func Get(t Type) (Codec, error) {
	switch t {
	case TypeJSON:
		return JSONCodec{}, nil
	case TypeGob:
		return GobCodec{}, nil
	default:
		return nil, fmt.Errorf("codec: unsupported codec type %d", t)
	}
}

// Valid reports whether t names a known codec.
func Valid(t Type) bool {
	_, err := Get(t)
	return err == nil
}
