package codec

import (
	"bytes"
	"encoding/gob"
)

// GobCodec preserves Go types exactly between parent and child, at the cost
// of being Go-only. Both sides must agree on the concrete types involved.
type GobCodec struct{}

func (GobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (GobCodec) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (GobCodec) Type() Type {
	return TypeGob
}
