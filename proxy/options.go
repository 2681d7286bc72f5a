package proxy

import (
	"go.uber.org/zap"

	"procproxy/codec"
	"procproxy/transport"
)

type Option func(*options)

type options struct {
	cmd    transport.Command
	conn   *transport.Conn
	ct     codec.Type
	log    *zap.Logger
	kwargs map[string]any
}

func defaultOptions() *options {
	return &options{
		ct:  codec.TypeJSON,
		log: zap.NewNop(),
	}
}

// WithCommand names the worker binary to spawn. The binary must call
// worker.Serve. Either WithCommand or WithConn is required.
func WithCommand(name string, args ...string) Option {
	return func(o *options) {
		o.cmd.Name = name
		o.cmd.Args = args
	}
}

// WithEnv appends environment entries ("KEY=value") for the spawned worker.
func WithEnv(kv ...string) Option {
	return func(o *options) { o.cmd.Env = append(o.cmd.Env, kv...) }
}

// WithConn attaches the proxy to an existing channel endpoint instead of
// spawning a process — typically one end of transport.Pipe with a worker
// loop running in-process on the other end.
func WithConn(conn *transport.Conn) Option {
	return func(o *options) { o.conn = conn }
}

// WithCodec selects the value codec for the pair's lifetime. Defaults to
// JSON. Ignored when WithConn is used — the conn's codec wins.
func WithCodec(ct codec.Type) Option {
	return func(o *options) { o.ct = ct }
}

// WithLogger sets the proxy's logger. Defaults to a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithConstructKwargs supplies keyword arguments to the factory, decoded
// into the factory's final struct parameter.
func WithConstructKwargs(kwargs map[string]any) Option {
	return func(o *options) { o.kwargs = kwargs }
}
