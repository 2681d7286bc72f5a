// Package frame implements the binary framing for the proxy↔worker channel.
//
// The channel is a byte pipe, so frames use a fixed-size 18-byte header
// followed by a variable-length body. The receiver reads the header first to
// learn the body length, then reads exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5  6         14        18
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│ft│ call id │ bodyLen │    body ...   │
//	│ mpx  │01│  │  │ uint64  │ uint32  │ bodyLen bytes │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
//
// The body is the call or response envelope in a length-prefixed binary
// layout (see call.go / response.go). Argument and result values inside the
// body are opaque — they are encoded by the codec named in the header.
package frame

import (
	"encoding/binary"
	"fmt"
	"io"

	"procproxy/codec"
)

// Magic bytes: "mpx". Rejects data that is not a proxy channel frame, such
// as a worker binary that wrote to stdout before the channel was rebound.
const (
	MagicByte1 byte = 'm'
	MagicByte2 byte = 'p'
	MagicByte3 byte = 'x'
	Version    byte = 0x01
	HeaderSize int  = 18 // 3 (magic) + 1 (version) + 1 (codec) + 1 (frameType) + 8 (callID) + 4 (bodyLen)
)

// MaxBodySize caps the body length a receiver will accept. A corrupted
// length field must not make the receiver allocate gigabytes.
const MaxBodySize = 16 << 20

// Type distinguishes call and response frames.
type Type byte

const (
	TypeCall     Type = 0 // proxy → worker
	TypeResponse Type = 1 // worker → proxy
)

// Header is the fixed 18-byte frame header.
type Header struct {
	Codec   codec.Type // serialization format of the values inside the body
	Type    Type       // call or response
	CallID  uint64     // matches request ↔ response
	BodyLen uint32     //
}

// writeFrame writes a complete frame (header + body) to w.
// The caller must hold a write lock if multiple goroutines share the same
// writer, otherwise frames will interleave and corrupt the stream.
func writeFrame(w io.Writer, h *Header, body []byte) error {
	buf := make([]byte, HeaderSize)

	buf[0], buf[1], buf[2] = MagicByte1, MagicByte2, MagicByte3
	buf[3] = Version
	buf[4] = byte(h.Codec)
	buf[5] = byte(h.Type)
	binary.BigEndian.PutUint64(buf[6:14], h.CallID)
	binary.BigEndian.PutUint32(buf[14:18], h.BodyLen)

	if _, err := w.Write(buf); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	return nil
}

// ReadFrame reads and validates one frame header plus its body from r.
// io.ReadFull guarantees exactly N bytes, so partial reads never split a
// frame. Transport-level errors (EOF, closed pipe) pass through unchanged;
// anything else is a protocol violation.
func ReadFrame(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicByte1 || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("frame: invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("frame: unsupported version: %d", headerBuf[3])
	}
	if !codec.Valid(codec.Type(headerBuf[4])) {
		return nil, nil, fmt.Errorf("frame: unsupported codec type: %d", headerBuf[4])
	}
	frameType := headerBuf[5]
	if frameType != byte(TypeCall) && frameType != byte(TypeResponse) {
		return nil, nil, fmt.Errorf("frame: unsupported frame type: %d", frameType)
	}

	callID := binary.BigEndian.Uint64(headerBuf[6:14])
	bodyLen := binary.BigEndian.Uint32(headerBuf[14:18])
	if bodyLen > MaxBodySize {
		return nil, nil, fmt.Errorf("frame: body length %d exceeds limit", bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		Codec:   codec.Type(headerBuf[4]),
		Type:    Type(frameType),
		CallID:  callID,
		BodyLen: bodyLen,
	}, body, nil
}

// reader walks a frame body with bounds checking. A short or trailing body
// is a malformed envelope, never a panic.
type reader struct {
	buf []byte
	off int
}

func (r *reader) u8() (byte, error) {
	if r.off+1 > len(r.buf) {
		return 0, errShortBody
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *reader) u16() (uint16, error) {
	if r.off+2 > len(r.buf) {
		return 0, errShortBody
	}
	v := binary.BigEndian.Uint16(r.buf[r.off : r.off+2])
	r.off += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.off+4 > len(r.buf) {
		return 0, errShortBody
	}
	v := binary.BigEndian.Uint32(r.buf[r.off : r.off+4])
	r.off += 4
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.buf) {
		return nil, errShortBody
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) finish() error {
	if r.off != len(r.buf) {
		return fmt.Errorf("frame: %d trailing bytes in body", len(r.buf)-r.off)
	}
	return nil
}

var errShortBody = fmt.Errorf("frame: truncated body")
