package frame

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"procproxy/codec"
	"procproxy/envelope"
)

// Response body layout:
//
//	status    (1 byte)
//	err code  (u8 length + bytes, empty unless status is error)
//	err msg   (u16 length + bytes, empty unless status is error)
//	payload   (u32 length + bytes)

// WriteResponse frames and writes one response envelope. Not safe for
// concurrent use on a shared writer without external locking.
func WriteResponse(w io.Writer, ct codec.Type, resp *envelope.Response) error {
	body, err := encodeResponseBody(resp)
	if err != nil {
		return err
	}
	h := Header{
		Codec:   ct,
		Type:    TypeResponse,
		CallID:  resp.ID,
		BodyLen: uint32(len(body)),
	}
	return writeFrame(w, &h, body)
}

func encodeResponseBody(resp *envelope.Response) ([]byte, error) {
	var code, msg string
	if resp.Err != nil {
		code = string(resp.Err.Code)
		msg = resp.Err.Message
	}
	if len(code) > math.MaxUint8 {
		return nil, fmt.Errorf("frame: error code too long: %d bytes", len(code))
	}
	if len(msg) > math.MaxUint16 {
		// Worker-side failure text is advisory; keep the frame valid.
		msg = msg[:math.MaxUint16]
	}

	buf := make([]byte, 0, 1+1+len(code)+2+len(msg)+4+len(resp.Payload))
	buf = append(buf, byte(resp.Status))
	buf = append(buf, byte(len(code)))
	buf = append(buf, code...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(msg)))
	buf = append(buf, msg...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(resp.Payload)))
	buf = append(buf, resp.Payload...)
	return buf, nil
}

// DecodeResponse parses a response envelope out of a frame read by ReadFrame.
func DecodeResponse(h *Header, body []byte) (*envelope.Response, error) {
	if h.Type != TypeResponse {
		return nil, fmt.Errorf("frame: expected response frame, got %d", h.Type)
	}
	r := &reader{buf: body}

	status, err := r.u8()
	if err != nil {
		return nil, err
	}
	if status > byte(envelope.StatusReady) {
		return nil, fmt.Errorf("frame: unknown response status: %d", status)
	}

	codeLen, err := r.u8()
	if err != nil {
		return nil, err
	}
	code, err := r.bytes(int(codeLen))
	if err != nil {
		return nil, err
	}
	msgLen, err := r.u16()
	if err != nil {
		return nil, err
	}
	msg, err := r.bytes(int(msgLen))
	if err != nil {
		return nil, err
	}

	payloadLen, err := r.u32()
	if err != nil {
		return nil, err
	}
	payload, err := r.bytes(int(payloadLen))
	if err != nil {
		return nil, err
	}
	if err := r.finish(); err != nil {
		return nil, err
	}

	resp := &envelope.Response{
		ID:     h.CallID,
		Status: envelope.Status(status),
	}
	if len(payload) > 0 {
		resp.Payload = payload
	}
	if resp.Status == envelope.StatusError {
		if len(code) == 0 {
			return nil, fmt.Errorf("frame: error response without error code")
		}
		resp.Err = &envelope.RemoteError{Code: envelope.Code(code), Message: string(msg)}
	}
	return resp, nil
}
