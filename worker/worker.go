package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"slices"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"procproxy/codec"
	"procproxy/envelope"
	"procproxy/middleware"
	"procproxy/transport"
)

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the worker's logger. Defaults to a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(w *Worker) { w.log = log }
}

// WithMiddleware appends dispatch middlewares, applied in the order given.
// Recover is always installed innermost regardless.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(w *Worker) { w.mws = append(w.mws, mws...) }
}

// Worker hosts one target object and serves its proxy. The loop is strictly
// sequential — read, dispatch, write, repeat — so a slow method blocks
// subsequent calls to the same worker. Parallelism across work comes from
// spawning more proxy/worker pairs, not from inside one worker.
type Worker struct {
	reg *Registry
	log *zap.Logger
	mws []middleware.Middleware
}

func New(reg *Registry, opts ...Option) *Worker {
	w := &Worker{reg: reg, log: zap.NewNop()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run drives the worker loop over conn until shutdown or transport closure.
//
// The first envelope must be Construct: it names the factory and carries
// the constructor arguments. On success a Ready response answers it and the
// loop starts serving Invoke envelopes; on failure an Error response is
// sent and Run returns, which ends the worker process. The codec of the
// Construct envelope becomes the channel codec for the pair's lifetime.
//
// Transport closure while waiting for an envelope ends the loop silently —
// with the pipe gone there is nobody left to notify.
func (w *Worker) Run(ctx context.Context, conn *transport.Conn) error {
	// The channel never outlives the loop: on any exit path the peer's
	// listener observes EOF instead of hanging.
	defer conn.Close()

	call, ct, err := conn.ReadCall()
	if err != nil {
		if transportClosed(err) {
			return nil
		}
		return fmt.Errorf("worker: reading construct envelope: %w", err)
	}
	cdc, err := codec.Get(ct)
	if err != nil {
		return err
	}

	if call.Kind != envelope.KindConstruct {
		re := envelope.Errorf(envelope.CodeProtocol, "first envelope must be construct, got %s", call.Kind)
		_ = conn.WriteResponse(ct, errorResponse(call.ID, re))
		return re
	}

	instance, err := w.construct(ctx, cdc, call)
	if err != nil {
		re := toRemote(err, envelope.CodeConstruction)
		w.log.Error("construction failed",
			zap.String("factory", call.Method), zap.Error(re))
		_ = conn.WriteResponse(ct, errorResponse(call.ID, re))
		return re
	}
	if err := conn.WriteResponse(ct, &envelope.Response{ID: call.ID, Status: envelope.StatusReady}); err != nil {
		return fmt.Errorf("worker: sending ready: %w", err)
	}
	w.log.Info("worker ready", zap.String("factory", call.Method), zap.Uint64("call_id", call.ID))

	mws := append(slices.Clone(w.mws), middleware.Recover())
	handler := middleware.Chain(mws...)(w.dispatcher(instance, cdc))

	for {
		call, callCT, err := conn.ReadCall()
		if err != nil {
			if transportClosed(err) {
				return nil
			}
			w.log.Error("reading envelope", zap.Error(err))
			return err
		}

		switch call.Kind {
		case envelope.KindShutdown:
			w.log.Info("shutdown received", zap.Uint64("call_id", call.ID))
			return multierr.Append(w.release(instance), conn.Close())

		case envelope.KindInvoke:
			var resp *envelope.Response
			if callCT != ct {
				resp = errorResponse(call.ID, envelope.Errorf(envelope.CodeProtocol,
					"codec changed mid-stream: %d != %d", callCT, ct))
			} else {
				resp = handler(ctx, call)
			}
			if err := conn.WriteResponse(ct, resp); err != nil {
				if transportClosed(err) {
					return nil
				}
				return fmt.Errorf("worker: sending response: %w", err)
			}

		default:
			// A second construct is a protocol violation, but the stream
			// itself is still intact; answer and keep serving.
			w.log.Warn("unexpected envelope kind",
				zap.Uint64("call_id", call.ID), zap.Stringer("kind", call.Kind))
			re := envelope.Errorf(envelope.CodeProtocol, "unexpected %s envelope", call.Kind)
			if err := conn.WriteResponse(ct, errorResponse(call.ID, re)); err != nil {
				return nil
			}
		}
	}
}

func (w *Worker) construct(ctx context.Context, cdc codec.Codec, call *envelope.Call) (any, error) {
	factory, ok := w.reg.lookup(call.Method)
	if !ok {
		return nil, envelope.Errorf(envelope.CodeConstruction, "unknown factory %q", call.Method)
	}
	instance, hasResult, err := invokeFunc(ctx, factory, cdc, call.Args, call.Kwargs)
	if err != nil {
		return nil, err
	}
	if !hasResult || instance == nil {
		return nil, envelope.Errorf(envelope.CodeConstruction, "factory %q produced no instance", call.Method)
	}
	return instance, nil
}

// dispatcher resolves and invokes a method on the hosted instance. Methods
// are matched by exported name; reflection cannot call anything else.
func (w *Worker) dispatcher(instance any, cdc codec.Codec) middleware.HandlerFunc {
	rv := reflect.ValueOf(instance)
	return func(ctx context.Context, call *envelope.Call) *envelope.Response {
		method := rv.MethodByName(call.Method)
		if !method.IsValid() {
			return errorResponse(call.ID, envelope.Errorf(envelope.CodeMethodNotFound,
				"no method %q on %T", call.Method, instance))
		}

		result, hasResult, err := invokeFunc(ctx, method, cdc, call.Args, call.Kwargs)
		if err != nil {
			return errorResponse(call.ID, toRemote(err, envelope.CodeInvocation))
		}
		resp := &envelope.Response{ID: call.ID, Status: envelope.StatusOK}
		if hasResult {
			payload, err := cdc.Marshal(result)
			if err != nil {
				return errorResponse(call.ID, envelope.Errorf(envelope.CodeSerialization,
					"encoding result of %s: %v", call.Method, err))
			}
			resp.Payload = payload
		}
		return resp
	}
}

// release lets the hosted instance clean up on shutdown.
func (w *Worker) release(instance any) error {
	if c, ok := instance.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func errorResponse(id uint64, re *envelope.RemoteError) *envelope.Response {
	return &envelope.Response{ID: id, Status: envelope.StatusError, Err: re}
}

func transportClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed)
}
