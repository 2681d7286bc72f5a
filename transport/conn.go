// Package transport provides the channel between a proxy and its worker:
// a bidirectional, ordered, reliable pipe carrying framed envelopes.
//
// Conn is one endpoint. Multiple goroutines may write through the same Conn;
// a write mutex guarantees that each frame (header + body) reaches the pipe
// un-interleaved. Reads are not locked — each endpoint has exactly one
// reader (the proxy's response listener, or the worker loop), and a byte
// stream cannot be parsed by concurrent readers anyway.
package transport

import (
	"errors"
	"io"
	"io/fs"
	"sync"

	"go.uber.org/multierr"

	"procproxy/codec"
	"procproxy/envelope"
	"procproxy/frame"
)

// Conn is one endpoint of the proxy↔worker channel.
type Conn struct {
	r      io.Reader
	w      io.Writer
	closer io.Closer // may be nil

	ct codec.Type // codec stamped on outgoing call frames

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// New wraps a read side, a write side, and an optional closer into a Conn.
// The codec type is stamped on every outgoing call frame so the peer decodes
// values with the codec they were encoded with.
func New(r io.Reader, w io.Writer, closer io.Closer, ct codec.Type) *Conn {
	return &Conn{r: r, w: w, closer: closer, ct: ct}
}

// CodecType returns the codec stamped on outgoing call frames.
func (c *Conn) CodecType() codec.Type {
	return c.ct
}

// WriteCall sends one call envelope. Safe for concurrent use.
func (c *Conn) WriteCall(call *envelope.Call) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return frame.WriteCall(c.w, c.ct, call)
}

// WriteResponse sends one response envelope, stamped with the codec the
// originating call carried. Safe for concurrent use.
func (c *Conn) WriteResponse(ct codec.Type, resp *envelope.Response) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return frame.WriteResponse(c.w, ct, resp)
}

// ReadCall reads one call envelope and the codec type its values were
// encoded with. Single reader only.
func (c *Conn) ReadCall() (*envelope.Call, codec.Type, error) {
	h, body, err := frame.ReadFrame(c.r)
	if err != nil {
		return nil, 0, err
	}
	call, err := frame.DecodeCall(h, body)
	if err != nil {
		return nil, 0, err
	}
	return call, h.Codec, nil
}

// ReadResponse reads one response envelope. Single reader only.
func (c *Conn) ReadResponse() (*envelope.Response, error) {
	h, body, err := frame.ReadFrame(c.r)
	if err != nil {
		return nil, err
	}
	return frame.DecodeResponse(h, body)
}

// Close closes the underlying pipe. Idempotent; the peer's blocked read
// observes EOF or a closed-pipe error.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		if c.closer != nil {
			c.closeErr = c.closer.Close()
		}
	})
	return c.closeErr
}

// multiCloser closes several closers, keeping every error. A file someone
// else already closed (exec.Cmd.Wait closes its pipes) is not a failure.
type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var err error
	for _, c := range m {
		if cerr := c.Close(); cerr != nil && !errors.Is(cerr, fs.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	return err
}
