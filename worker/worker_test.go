package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"procproxy/codec"
	"procproxy/envelope"
	"procproxy/transport"
)

// Counter is the canonical hosted object: stateful, with a mix of return
// shapes. The loop dispatches sequentially, so no locking is needed.
type Counter struct {
	value int
}

func NewCounter(start int) *Counter { return &Counter{value: start} }

func (c *Counter) Increment() int { c.value++; return c.value }
func (c *Counter) Get() int       { return c.value }
func (c *Counter) Add(n int) int  { c.value += n; return c.value }
func (c *Counter) Reset()         { c.value = 0 }
func (c *Counter) Fail() error    { return errors.New("deliberate failure") }
func (c *Counter) Explode() int   { panic("kaboom") }
func (c *Counter) Sum(nums ...int) int {
	total := 0
	for _, n := range nums {
		total += n
	}
	return total
}
func (c *Counter) Echo(v any) any { return v }
func (c *Counter) Sleeping(ctx context.Context) bool {
	return ctx != nil
}
func (c *Counter) Divide(a, b int) (int, error) {
	if b == 0 {
		return 0, errors.New("division by zero")
	}
	return a / b, nil
}

type labelOpts struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

func (c *Counter) Configure(prefix string, opts labelOpts) string {
	return fmt.Sprintf("%s:%s:%d", prefix, opts.Label, opts.Count)
}

var jsonCodec = codec.JSONCodec{}

func enc(t *testing.T, vals ...any) [][]byte {
	t.Helper()
	out := make([][]byte, len(vals))
	for i, v := range vals {
		b, err := jsonCodec.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		out[i] = b
	}
	return out
}

func counterRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	if err := reg.Register("Counter", NewCounter); err != nil {
		t.Fatal(err)
	}
	return reg
}

// startWorker runs a worker loop in-process and returns the proxy-side
// endpoint plus a channel that yields the loop's return value.
func startWorker(t *testing.T, reg *Registry, opts ...Option) (*transport.Conn, <-chan error) {
	t.Helper()
	local, remote := transport.Pipe(codec.TypeJSON)
	done := make(chan error, 1)
	go func() {
		done <- New(reg, opts...).Run(context.Background(), remote)
	}()
	t.Cleanup(func() { local.Close() })
	return local, done
}

func construct(t *testing.T, conn *transport.Conn, factory string, args ...any) {
	t.Helper()
	err := conn.WriteCall(&envelope.Call{
		ID: 1, Kind: envelope.KindConstruct, Method: factory, Args: enc(t, args...),
	})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := conn.ReadResponse()
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != envelope.StatusReady || resp.ID != 1 {
		t.Fatalf("expected ready for call 1, got %+v", resp)
	}
}

func roundTrip(t *testing.T, conn *transport.Conn, call *envelope.Call) *envelope.Response {
	t.Helper()
	if err := conn.WriteCall(call); err != nil {
		t.Fatal(err)
	}
	resp, err := conn.ReadResponse()
	if err != nil {
		t.Fatal(err)
	}
	if resp.ID != call.ID {
		t.Fatalf("response id %d for call %d", resp.ID, call.ID)
	}
	return resp
}

func TestConstructAndInvoke(t *testing.T) {
	conn, _ := startWorker(t, counterRegistry(t))
	construct(t, conn, "Counter", 5)

	resp := roundTrip(t, conn, &envelope.Call{ID: 2, Kind: envelope.KindInvoke, Method: "Increment"})
	if resp.Status != envelope.StatusOK || string(resp.Payload) != "6" {
		t.Fatalf("got %+v", resp)
	}

	resp = roundTrip(t, conn, &envelope.Call{ID: 3, Kind: envelope.KindInvoke, Method: "Get"})
	if string(resp.Payload) != "6" {
		t.Fatalf("state lost between calls: %s", resp.Payload)
	}
}

func TestConstructUnknownFactory(t *testing.T) {
	conn, done := startWorker(t, counterRegistry(t))
	if err := conn.WriteCall(&envelope.Call{ID: 1, Kind: envelope.KindConstruct, Method: "Nope"}); err != nil {
		t.Fatal(err)
	}
	resp, err := conn.ReadResponse()
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != envelope.StatusError || resp.Err.Code != envelope.CodeConstruction {
		t.Fatalf("got %+v", resp)
	}

	// Construction failure terminates the loop and closes the channel.
	if err := <-done; err == nil {
		t.Fatal("loop should return the construction error")
	}
	if _, err := conn.ReadResponse(); err != io.EOF {
		t.Fatalf("channel should be closed after failed construct, got %v", err)
	}
}

func TestConstructFactoryError(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("Broken", func() (*Counter, error) {
		return nil, errors.New("refusing to exist")
	})
	conn, _ := startWorker(t, reg)

	if err := conn.WriteCall(&envelope.Call{ID: 1, Kind: envelope.KindConstruct, Method: "Broken"}); err != nil {
		t.Fatal(err)
	}
	resp, err := conn.ReadResponse()
	if err != nil {
		t.Fatal(err)
	}
	if resp.Err == nil || resp.Err.Code != envelope.CodeConstruction ||
		!strings.Contains(resp.Err.Message, "refusing to exist") {
		t.Fatalf("got %+v", resp)
	}
}

func TestFirstEnvelopeMustBeConstruct(t *testing.T) {
	conn, done := startWorker(t, counterRegistry(t))
	resp := roundTrip(t, conn, &envelope.Call{ID: 1, Kind: envelope.KindInvoke, Method: "Get"})
	if resp.Err == nil || resp.Err.Code != envelope.CodeProtocol {
		t.Fatalf("got %+v", resp)
	}
	if err := <-done; err == nil {
		t.Fatal("loop should not survive a pre-construct invoke")
	}
}

func TestMethodNotFound(t *testing.T) {
	conn, _ := startWorker(t, counterRegistry(t))
	construct(t, conn, "Counter", 0)

	resp := roundTrip(t, conn, &envelope.Call{ID: 2, Kind: envelope.KindInvoke, Method: "Frobnicate"})
	if resp.Err == nil || resp.Err.Code != envelope.CodeMethodNotFound {
		t.Fatalf("got %+v", resp)
	}

	// The loop survives: the next call still works.
	resp = roundTrip(t, conn, &envelope.Call{ID: 3, Kind: envelope.KindInvoke, Method: "Get"})
	if resp.Status != envelope.StatusOK {
		t.Fatalf("worker should keep serving after MethodNotFound: %+v", resp)
	}
}

func TestMethodReturnsError(t *testing.T) {
	conn, _ := startWorker(t, counterRegistry(t))
	construct(t, conn, "Counter", 0)

	resp := roundTrip(t, conn, &envelope.Call{ID: 2, Kind: envelope.KindInvoke, Method: "Fail"})
	if resp.Err == nil || resp.Err.Code != envelope.CodeInvocation ||
		!strings.Contains(resp.Err.Message, "deliberate failure") {
		t.Fatalf("got %+v", resp)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	conn, _ := startWorker(t, counterRegistry(t))
	construct(t, conn, "Counter", 0)

	resp := roundTrip(t, conn, &envelope.Call{ID: 2, Kind: envelope.KindInvoke, Method: "Explode"})
	if resp.Err == nil || resp.Err.Code != envelope.CodeInvocation ||
		!strings.Contains(resp.Err.Message, "kaboom") {
		t.Fatalf("got %+v", resp)
	}

	resp = roundTrip(t, conn, &envelope.Call{ID: 3, Kind: envelope.KindInvoke, Method: "Get"})
	if resp.Status != envelope.StatusOK {
		t.Fatalf("worker should survive a panicking method: %+v", resp)
	}
}

func TestVariadicMethod(t *testing.T) {
	conn, _ := startWorker(t, counterRegistry(t))
	construct(t, conn, "Counter", 0)

	resp := roundTrip(t, conn, &envelope.Call{
		ID: 2, Kind: envelope.KindInvoke, Method: "Sum", Args: enc(t, 1, 2, 3),
	})
	if resp.Status != envelope.StatusOK || string(resp.Payload) != "6" {
		t.Fatalf("got %+v", resp)
	}

	// Zero variadic arguments is legal.
	resp = roundTrip(t, conn, &envelope.Call{ID: 3, Kind: envelope.KindInvoke, Method: "Sum"})
	if resp.Status != envelope.StatusOK || string(resp.Payload) != "0" {
		t.Fatalf("got %+v", resp)
	}
}

func TestKeywordArguments(t *testing.T) {
	conn, _ := startWorker(t, counterRegistry(t))
	construct(t, conn, "Counter", 0)

	resp := roundTrip(t, conn, &envelope.Call{
		ID: 2, Kind: envelope.KindInvoke, Method: "Configure",
		Args: enc(t, "pre"),
		Kwargs: map[string][]byte{
			"label": []byte(`"blue"`),
			"Count": []byte(`7`), // field-name match works too
		},
	})
	if resp.Status != envelope.StatusOK || string(resp.Payload) != `"pre:blue:7"` {
		t.Fatalf("got %+v", resp)
	}
}

func TestUnknownKeywordArgument(t *testing.T) {
	conn, _ := startWorker(t, counterRegistry(t))
	construct(t, conn, "Counter", 0)

	resp := roundTrip(t, conn, &envelope.Call{
		ID: 2, Kind: envelope.KindInvoke, Method: "Configure",
		Args:   enc(t, "pre"),
		Kwargs: map[string][]byte{"bogus": []byte(`1`)},
	})
	if resp.Err == nil || resp.Err.Code != envelope.CodeInvocation {
		t.Fatalf("got %+v", resp)
	}
}

func TestArityMismatch(t *testing.T) {
	conn, _ := startWorker(t, counterRegistry(t))
	construct(t, conn, "Counter", 0)

	resp := roundTrip(t, conn, &envelope.Call{ID: 2, Kind: envelope.KindInvoke, Method: "Add"})
	if resp.Err == nil || resp.Err.Code != envelope.CodeInvocation {
		t.Fatalf("got %+v", resp)
	}
}

func TestUndecodableArgument(t *testing.T) {
	conn, _ := startWorker(t, counterRegistry(t))
	construct(t, conn, "Counter", 0)

	resp := roundTrip(t, conn, &envelope.Call{
		ID: 2, Kind: envelope.KindInvoke, Method: "Add",
		Args: [][]byte{[]byte(`"not an int"`)},
	})
	if resp.Err == nil || resp.Err.Code != envelope.CodeSerialization {
		t.Fatalf("got %+v", resp)
	}
}

func TestReturnShapes(t *testing.T) {
	conn, _ := startWorker(t, counterRegistry(t))
	construct(t, conn, "Counter", 3)

	// No return value: OK with empty payload.
	resp := roundTrip(t, conn, &envelope.Call{ID: 2, Kind: envelope.KindInvoke, Method: "Reset"})
	if resp.Status != envelope.StatusOK || len(resp.Payload) != 0 {
		t.Fatalf("got %+v", resp)
	}

	// (T, error) with nil error: payload carries T.
	resp = roundTrip(t, conn, &envelope.Call{
		ID: 3, Kind: envelope.KindInvoke, Method: "Divide", Args: enc(t, 10, 2),
	})
	if resp.Status != envelope.StatusOK || string(resp.Payload) != "5" {
		t.Fatalf("got %+v", resp)
	}

	// (T, error) with non-nil error: invocation error.
	resp = roundTrip(t, conn, &envelope.Call{
		ID: 4, Kind: envelope.KindInvoke, Method: "Divide", Args: enc(t, 1, 0),
	})
	if resp.Err == nil || resp.Err.Code != envelope.CodeInvocation {
		t.Fatalf("got %+v", resp)
	}
}

func TestContextParameter(t *testing.T) {
	conn, _ := startWorker(t, counterRegistry(t))
	construct(t, conn, "Counter", 0)

	resp := roundTrip(t, conn, &envelope.Call{ID: 2, Kind: envelope.KindInvoke, Method: "Sleeping"})
	if resp.Status != envelope.StatusOK || string(resp.Payload) != "true" {
		t.Fatalf("context was not injected: %+v", resp)
	}
}

type closable struct {
	closed chan struct{}
}

func (c *closable) Ping() string { return "pong" }
func (c *closable) Close() error { close(c.closed); return nil }

func TestShutdownReleasesInstance(t *testing.T) {
	closed := make(chan struct{})
	reg := NewRegistry()
	reg.MustRegister("Closable", func() *closable { return &closable{closed: closed} })
	conn, done := startWorker(t, reg)
	construct(t, conn, "Closable")

	if err := conn.WriteCall(&envelope.Call{ID: 2, Kind: envelope.KindShutdown}); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("clean shutdown returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("loop did not exit on shutdown")
	}

	select {
	case <-closed:
	default:
		t.Fatal("instance was not released on shutdown")
	}

	// No response is sent for Shutdown; the channel just closes.
	if _, err := conn.ReadResponse(); err != io.EOF {
		t.Fatalf("got %v, want io.EOF", err)
	}
}

func TestDuplicateConstructRejectedButServed(t *testing.T) {
	conn, _ := startWorker(t, counterRegistry(t))
	construct(t, conn, "Counter", 1)

	resp := roundTrip(t, conn, &envelope.Call{ID: 2, Kind: envelope.KindConstruct, Method: "Counter"})
	if resp.Err == nil || resp.Err.Code != envelope.CodeProtocol {
		t.Fatalf("got %+v", resp)
	}

	resp = roundTrip(t, conn, &envelope.Call{ID: 3, Kind: envelope.KindInvoke, Method: "Get"})
	if resp.Status != envelope.StatusOK || string(resp.Payload) != "1" {
		t.Fatalf("loop should keep serving: %+v", resp)
	}
}

func TestTransportClosureEndsLoopSilently(t *testing.T) {
	conn, done := startWorker(t, counterRegistry(t))
	construct(t, conn, "Counter", 0)

	conn.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("transport closure should end the loop silently, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("loop did not exit on transport closure")
	}
}

func TestRegistryValidation(t *testing.T) {
	reg := NewRegistry()
	cases := []struct {
		name    string
		factory any
	}{
		{"not a function", 42},
		{"no results", func() {}},
		{"only error", func() error { return nil }},
		{"three results", func() (int, int, error) { return 0, 0, nil }},
		{"second not error", func() (int, int) { return 0, 0 }},
	}
	for _, tc := range cases {
		if err := reg.Register(tc.name, tc.factory); err == nil {
			t.Errorf("%s: expected registration error", tc.name)
		}
	}
	if err := reg.Register("", NewCounter); err == nil {
		t.Error("empty name: expected registration error")
	}
	if err := reg.Register("ok", NewCounter); err != nil {
		t.Errorf("valid factory rejected: %v", err)
	}
}
