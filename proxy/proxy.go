// Package proxy is the caller-side half of the cross-process object proxy:
// it spawns a worker process hosting a real object, turns method calls into
// call envelopes on the channel, and hands back futures that a single
// background response listener resolves as answers arrive.
//
// A proxy and its worker form exactly one pair over one channel. Multiple
// goroutines may issue calls concurrently:
//
//	goroutine-1 ──Invoke(id=2)──┐
//	goroutine-2 ──Invoke(id=3)──┼──→ channel ──→ worker loop (sequential)
//	goroutine-3 ──Invoke(id=4)──┘
//
//	listener:  ←── response(id=3) → pending[3].resolve → future done
//
// Calls may be issued as soon as Spawn returns, before the worker has
// finished constructing: the channel is ordered, so the worker answers the
// Construct envelope before it sees any Invoke.
package proxy

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"procproxy/codec"
	"procproxy/envelope"
	"procproxy/transport"
)

// Proxy is the caller-side handle to one remote object.
type Proxy struct {
	conn *transport.Conn
	proc *transport.Process // nil when attached via WithConn
	cdc  codec.Codec
	log  *zap.Logger

	state       atomic.Int32
	nextID      atomic.Uint64
	constructID uint64
	pending     *pendingTable
	readiness   *Future

	shutdownSent atomic.Bool
	listenerDone chan struct{}
	violations   atomic.Uint64
}

// Spawn starts a worker, asks it to construct an instance via the named
// factory, and returns immediately — the proxy is in the Constructing state
// and becomes Ready when the worker answers. Use Ready or Done to observe
// readiness; calls may be issued right away.
//
// All arguments must be encodable by the selected codec; an unencodable
// argument fails Spawn before anything is started.
func Spawn(factory string, args []any, opts ...Option) (*Proxy, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.conn != nil {
		o.ct = o.conn.CodecType()
	}
	cdc, err := codec.Get(o.ct)
	if err != nil {
		return nil, err
	}

	encArgs, err := encodeValues(cdc, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	encKwargs, err := encodeKwargs(cdc, o.kwargs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	conn := o.conn
	var proc *transport.Process
	if conn == nil {
		proc, err = transport.StartProcess(context.Background(), o.ct, o.cmd)
		if err != nil {
			return nil, err
		}
		conn = proc.Conn()
	}

	p := &Proxy{
		conn:         conn,
		proc:         proc,
		cdc:          cdc,
		log:          o.log,
		pending:      newPendingTable(),
		listenerDone: make(chan struct{}),
	}
	p.state.Store(int32(StateConstructing))

	p.constructID = p.nextID.Add(1)
	p.readiness = newFuture(p.constructID, cdc)
	_ = p.pending.insert(p.constructID, p.readiness)

	construct := &envelope.Call{
		ID:     p.constructID,
		Kind:   envelope.KindConstruct,
		Method: factory,
		Args:   encArgs,
		Kwargs: encKwargs,
	}
	if err := p.conn.WriteCall(construct); err != nil {
		if proc != nil {
			_ = proc.Kill()
		}
		_ = conn.Close()
		return nil, fmt.Errorf("proxy: sending construct envelope: %w", err)
	}

	p.log.Info("spawned worker",
		zap.String("factory", factory), zap.Int("pid", p.Pid()))
	go p.listen()
	return p, nil
}

// Invoke issues a method call with positional arguments and returns its
// future immediately. All failure modes — unknown method, invocation error,
// unserializable argument, closed proxy, lost connection — surface through
// the future, never synchronously.
func (p *Proxy) Invoke(method string, args ...any) *Future {
	return p.call(method, args, nil)
}

// InvokeNamed issues a method call carrying keyword arguments alongside the
// positionals; the worker decodes them into the method's final struct
// parameter.
func (p *Proxy) InvokeNamed(method string, args []any, kwargs map[string]any) *Future {
	return p.call(method, args, kwargs)
}

func (p *Proxy) call(method string, args []any, kwargs map[string]any) *Future {
	id := p.nextID.Add(1)
	f := newFuture(id, p.cdc)

	// Checked before the send, but a concurrent Close can still win the
	// race; a call written after the shutdown envelope is never read and
	// resolves through the ConnectionLost fan-out instead.
	if s := p.State(); s == StateClosing || s == StateClosed {
		f.resolve(nil, ErrProxyClosed)
		return f
	}

	encArgs, err := encodeValues(p.cdc, args)
	if err != nil {
		f.resolve(nil, fmt.Errorf("%w: %v", ErrSerialization, err))
		return f
	}
	encKwargs, err := encodeKwargs(p.cdc, kwargs)
	if err != nil {
		f.resolve(nil, fmt.Errorf("%w: %v", ErrSerialization, err))
		return f
	}

	if err := p.pending.insert(id, f); err != nil {
		f.resolve(nil, err)
		return f
	}
	call := &envelope.Call{
		ID:     id,
		Kind:   envelope.KindInvoke,
		Method: method,
		Args:   encArgs,
		Kwargs: encKwargs,
	}
	if err := p.conn.WriteCall(call); err != nil {
		p.pending.remove(id)
		f.resolve(nil, fmt.Errorf("%w: %v", ErrConnectionLost, err))
	}
	return f
}

// listen is the response listener: the single goroutine that reads response
// envelopes for the proxy's whole lifetime and resolves pending futures.
func (p *Proxy) listen() {
	defer close(p.listenerDone)
	for {
		resp, err := p.conn.ReadResponse()
		if err != nil {
			p.connectionLost(err)
			return
		}
		p.handleResponse(resp)
	}
}

func (p *Proxy) handleResponse(resp *envelope.Response) {
	var payload []byte
	var err error
	switch resp.Status {
	case envelope.StatusReady:
		if resp.ID != p.constructID {
			p.reportViolation(resp.ID, "ready response for a non-construct call")
			return
		}
	case envelope.StatusOK:
		payload = resp.Payload
	case envelope.StatusError:
		if resp.Err == nil {
			p.reportViolation(resp.ID, "error response without error detail")
			return
		}
		err = resp.Err
	}

	// The state flips before the readiness future resolves, so a caller
	// woken by Ready() never observes a stale Constructing state.
	if resp.ID == p.constructID {
		if resp.Status == envelope.StatusReady {
			if p.transition(StateConstructing, StateReady) {
				p.log.Info("worker ready")
			}
		} else {
			// Construction failed; the worker exits without serving.
			if p.transition(StateConstructing, StateClosed) {
				p.log.Warn("construction failed", zap.Error(err))
			}
		}
	}

	f := p.pending.resolve(resp.ID, payload, err)
	if f == nil {
		p.reportViolation(resp.ID, "unknown or already-resolved call id")
		return
	}
	p.log.Debug("resolved call",
		zap.Uint64("call_id", resp.ID),
		zap.Stringer("status", resp.Status),
		zap.Duration("latency", time.Since(f.createdAt)))
}

// connectionLost fails every outstanding future and forces the proxy to
// Closed. During an orderly close the pipe EOF is how the listener learns
// the worker is gone, and the table is normally already empty.
func (p *Proxy) connectionLost(cause error) {
	err := fmt.Errorf("%w: %v", ErrConnectionLost, cause)
	n := p.pending.resolveAll(err)

	closing := p.State() == StateClosing
	p.state.Store(int32(StateClosed))
	if closing {
		p.log.Debug("channel closed", zap.Int("abandoned_calls", n))
	} else {
		p.log.Warn("connection lost", zap.Int("abandoned_calls", n), zap.Error(cause))
	}
}

// reportViolation logs a response that matches no sent, unresolved call.
// Protocol violations are reported, never fatal.
func (p *Proxy) reportViolation(id uint64, detail string) {
	p.violations.Add(1)
	p.log.Error("protocol violation",
		zap.Uint64("call_id", id), zap.String("detail", detail))
}

// Done reports whether the Construct call has resolved — true once the
// Ready or Error response was received, forever after.
func (p *Proxy) Done() bool {
	return p.readiness.Done()
}

// Ready blocks until the worker has constructed the instance. Returns the
// construction error if the factory failed.
func (p *Proxy) Ready(ctx context.Context) error {
	_, err := p.readiness.Result(ctx)
	return err
}

// Close signals the worker to shut down and returns without waiting.
// Idempotent: closing a closing or closed proxy is a no-op.
func (p *Proxy) Close() error {
	p.signalShutdown()
	return nil
}

// CloseWait signals shutdown like Close, then blocks until the worker
// process has terminated and the response listener has exited. Every future
// still pending at that point has been resolved — with its real result if
// the worker answered before shutting down, otherwise with ErrConnectionLost.
func (p *Proxy) CloseWait(ctx context.Context) error {
	p.signalShutdown()

	select {
	case <-p.listenerDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	var err error
	if p.proc != nil {
		err = p.proc.Wait(ctx)
	}
	err = multierr.Append(err, p.conn.Close())
	p.state.Store(int32(StateClosed))
	return err
}

// signalShutdown moves the proxy to Closing and puts the shutdown envelope
// on the wire, exactly once.
func (p *Proxy) signalShutdown() {
	if !p.transition(StateConstructing, StateClosing) &&
		!p.transition(StateReady, StateClosing) {
		return
	}
	if !p.shutdownSent.CompareAndSwap(false, true) {
		return
	}
	p.log.Info("closing")
	call := &envelope.Call{ID: p.nextID.Add(1), Kind: envelope.KindShutdown}
	if err := p.conn.WriteCall(call); err != nil {
		// Pipe already broken; close our end so the listener unblocks.
		p.log.Debug("shutdown envelope not delivered", zap.Error(err))
		_ = p.conn.Close()
	}
}

// Kill forcibly terminates the worker process, bypassing the shutdown
// protocol. No-op for in-process workers.
func (p *Proxy) Kill() error {
	if p.proc == nil {
		return p.conn.Close()
	}
	return p.proc.Kill()
}

// State returns the proxy's lifecycle state.
func (p *Proxy) State() State {
	return State(p.state.Load())
}

// IsClosing reports whether Close has been called (or the proxy is already
// closed).
func (p *Proxy) IsClosing() bool {
	return p.State() >= StateClosing
}

// IsClosed reports whether the pair is fully torn down.
func (p *Proxy) IsClosed() bool {
	return p.State() == StateClosed
}

// Pid returns the worker process id, or 0 for in-process workers.
func (p *Proxy) Pid() int {
	if p.proc == nil {
		return 0
	}
	return p.proc.Pid()
}

// Pending reports the number of in-flight calls.
func (p *Proxy) Pending() int {
	return p.pending.size()
}

// ProtocolViolations counts responses received with an unknown, duplicate,
// or otherwise impossible call id.
func (p *Proxy) ProtocolViolations() uint64 {
	return p.violations.Load()
}

func (p *Proxy) transition(from, to State) bool {
	return p.state.CompareAndSwap(int32(from), int32(to))
}

func encodeValues(cdc codec.Codec, args []any) ([][]byte, error) {
	if len(args) == 0 {
		return nil, nil
	}
	enc := make([][]byte, len(args))
	for i, a := range args {
		b, err := cdc.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %v", i, err)
		}
		enc[i] = b
	}
	return enc, nil
}

func encodeKwargs(cdc codec.Codec, kwargs map[string]any) (map[string][]byte, error) {
	if len(kwargs) == 0 {
		return nil, nil
	}
	enc := make(map[string][]byte, len(kwargs))
	for k, v := range kwargs {
		b, err := cdc.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("keyword argument %q: %v", k, err)
		}
		enc[k] = b
	}
	return enc, nil
}
