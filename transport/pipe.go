package transport

import (
	"bytes"
	"io"
	"sync"

	"procproxy/codec"
)

// Pipe returns a connected in-memory channel pair: what is written to one
// Conn is read from the other. Unlike net.Pipe, writes are buffered and
// never block on a slow reader — matching the kernel buffering of a real
// parent↔child pipe, which is what lets a proxy issue calls while the
// worker is still constructing.
//
// Used for in-process workers and tests.
func Pipe(ct codec.Type) (*Conn, *Conn) {
	ab := newPipeBuf() // a writes, b reads
	ba := newPipeBuf() // b writes, a reads
	a := &pipeEnd{r: ba, w: ab}
	b := &pipeEnd{r: ab, w: ba}
	return New(a, a, a, ct), New(b, b, b, ct)
}

// pipeBuf is an unbounded single-direction byte queue. Read blocks until
// data arrives or the buffer is closed.
type pipeBuf struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	closed bool
}

func newPipeBuf() *pipeBuf {
	b := &pipeBuf{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *pipeBuf) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	n, _ := b.buf.Write(p)
	b.cond.Broadcast()
	return n, nil
}

func (b *pipeBuf) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.buf.Len() == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.buf.Len() == 0 {
		return 0, io.EOF
	}
	return b.buf.Read(p)
}

// close marks the buffer closed. Pending data stays readable; readers then
// observe EOF, like the read side of an OS pipe after the writer exits.
func (b *pipeBuf) close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// pipeEnd joins one read buffer and one write buffer into a duplex endpoint.
type pipeEnd struct {
	r, w *pipeBuf
}

func (e *pipeEnd) Read(p []byte) (int, error)  { return e.r.Read(p) }
func (e *pipeEnd) Write(p []byte) (int, error) { return e.w.Write(p) }

// Close tears down both directions: the peer's reads drain then hit EOF,
// and the peer's writes fail.
func (e *pipeEnd) Close() error {
	e.w.close()
	e.r.close()
	return nil
}
