package proxy

import (
	"context"
	"sync"
	"time"

	"procproxy/codec"
)

// Future is the write-once result slot for one in-flight call. It is
// resolved exactly once — by the response listener when the matching
// response arrives, or locally when the call could not be issued or the
// connection was lost.
//
// Abandoning a Future (for example after Result returns a context error)
// does not affect the in-flight call: the worker may still answer, the
// result is retained, and a later Result call observes it.
type Future struct {
	id        uint64
	cdc       codec.Codec
	createdAt time.Time
	done      chan struct{}

	mu       sync.Mutex
	resolved bool
	payload  []byte
	err      error
}

func newFuture(id uint64, cdc codec.Codec) *Future {
	return &Future{
		id:        id,
		cdc:       cdc,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// resolve sets the result. Returns false if the future was already
// resolved; second resolutions are dropped.
func (f *Future) resolve(payload []byte, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolved {
		return false
	}
	f.resolved = true
	f.payload = payload
	f.err = err
	close(f.done)
	return true
}

// ID returns the call id this future belongs to.
func (f *Future) ID() uint64 {
	return f.id
}

// Done reports whether the future has resolved. Never blocks.
func (f *Future) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Err returns the call's error once resolved, or nil while still pending.
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Wait blocks until the future resolves or ctx expires.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result blocks until the future resolves, then returns the raw encoded
// payload or the call's error. On ctx expiry it returns ctx.Err() and the
// future stays pending.
func (f *Future) Result(ctx context.Context) ([]byte, error) {
	if err := f.Wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payload, f.err
}

// Decode blocks like Result and decodes the payload into v. A nil v or an
// empty payload (a method with no return value) decodes to nothing.
func (f *Future) Decode(ctx context.Context, v any) error {
	payload, err := f.Result(ctx)
	if err != nil {
		return err
	}
	if v == nil || len(payload) == 0 {
		return nil
	}
	return f.cdc.Unmarshal(payload, v)
}

// Await resolves the future into a value of type T.
func Await[T any](ctx context.Context, f *Future) (T, error) {
	var v T
	if err := f.Decode(ctx, &v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}
