package frame

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"procproxy/codec"
	"procproxy/envelope"
)

// Call body layout:
//
//	kind     (1 byte)
//	method   (u16 length + bytes)
//	args     (u16 count, then per arg: u32 length + bytes)
//	kwargs   (u16 count, then per kwarg: u16 key length + key, u32 value length + value)

// WriteCall frames and writes one call envelope. Not safe for concurrent use
// on a shared writer without external locking.
func WriteCall(w io.Writer, ct codec.Type, c *envelope.Call) error {
	body, err := encodeCallBody(c)
	if err != nil {
		return err
	}
	h := Header{
		Codec:   ct,
		Type:    TypeCall,
		CallID:  c.ID,
		BodyLen: uint32(len(body)),
	}
	return writeFrame(w, &h, body)
}

func encodeCallBody(c *envelope.Call) ([]byte, error) {
	if len(c.Method) > math.MaxUint16 {
		return nil, fmt.Errorf("frame: method name too long: %d bytes", len(c.Method))
	}
	if len(c.Args) > math.MaxUint16 || len(c.Kwargs) > math.MaxUint16 {
		return nil, fmt.Errorf("frame: too many arguments")
	}

	total := 1 + 2 + len(c.Method) + 2 + 2
	for _, a := range c.Args {
		total += 4 + len(a)
	}
	for k, v := range c.Kwargs {
		total += 2 + len(k) + 4 + len(v)
	}

	buf := make([]byte, 0, total)
	buf = append(buf, byte(c.Kind))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.Method)))
	buf = append(buf, c.Method...)

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.Args)))
	for _, a := range c.Args {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(a)))
		buf = append(buf, a...)
	}

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.Kwargs)))
	for k, v := range c.Kwargs {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(k)))
		buf = append(buf, k...)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(v)))
		buf = append(buf, v...)
	}
	return buf, nil
}

// DecodeCall parses a call envelope out of a frame read by ReadFrame.
func DecodeCall(h *Header, body []byte) (*envelope.Call, error) {
	if h.Type != TypeCall {
		return nil, fmt.Errorf("frame: expected call frame, got %d", h.Type)
	}
	r := &reader{buf: body}

	kind, err := r.u8()
	if err != nil {
		return nil, err
	}
	if kind > byte(envelope.KindShutdown) {
		return nil, fmt.Errorf("frame: unknown call kind: %d", kind)
	}

	methodLen, err := r.u16()
	if err != nil {
		return nil, err
	}
	method, err := r.bytes(int(methodLen))
	if err != nil {
		return nil, err
	}

	argc, err := r.u16()
	if err != nil {
		return nil, err
	}
	var args [][]byte
	for i := 0; i < int(argc); i++ {
		n, err := r.u32()
		if err != nil {
			return nil, err
		}
		a, err := r.bytes(int(n))
		if err != nil {
			return nil, err
		}
		args = append(args, a)
	}

	kwargc, err := r.u16()
	if err != nil {
		return nil, err
	}
	var kwargs map[string][]byte
	if kwargc > 0 {
		kwargs = make(map[string][]byte, kwargc)
	}
	for i := 0; i < int(kwargc); i++ {
		kn, err := r.u16()
		if err != nil {
			return nil, err
		}
		key, err := r.bytes(int(kn))
		if err != nil {
			return nil, err
		}
		vn, err := r.u32()
		if err != nil {
			return nil, err
		}
		val, err := r.bytes(int(vn))
		if err != nil {
			return nil, err
		}
		kwargs[string(key)] = val
	}

	if err := r.finish(); err != nil {
		return nil, err
	}
	return &envelope.Call{
		ID:     h.CallID,
		Kind:   envelope.Kind(kind),
		Method: string(method),
		Args:   args,
		Kwargs: kwargs,
	}, nil
}
