package worker

import (
	"context"
	"os"

	"procproxy/codec"
	"procproxy/transport"
)

// Serve is the entry point for a worker binary spawned by proxy.Spawn: it
// binds the channel to the process's stdin and stdout and runs the loop
// until shutdown or transport closure, then returns.
//
// os.Stdout is rebound to stderr before the loop starts so that stray
// prints from the hosted object land in the parent's stderr instead of
// corrupting the channel framing.
func Serve(reg *Registry, opts ...Option) error {
	conn := transport.Stdio(codec.TypeJSON)
	os.Stdout = os.Stderr

	return New(reg, opts...).Run(context.Background(), conn)
}
