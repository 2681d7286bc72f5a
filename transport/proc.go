package transport

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"procproxy/codec"
)

// Command describes how to launch a worker process. The worker binary is
// expected to call worker.Serve, which binds the channel to its stdin and
// stdout; its stderr is inherited so diagnostics stay visible.
type Command struct {
	Name string   // binary to execute
	Args []string // arguments, not including the binary name
	Env  []string // extra environment entries appended to os.Environ()
}

// Stdio returns the worker-side endpoint of the channel a parent wired up
// with StartProcess: reads from stdin, writes to stdout. Must be called
// before anything else claims or rebinds the process's stdio.
func Stdio(ct codec.Type) *Conn {
	return New(os.Stdin, os.Stdout, multiCloser{os.Stdout, os.Stdin}, ct)
}

// Process is a running worker child and its channel endpoint.
type Process struct {
	cmd  *exec.Cmd
	conn *Conn

	waitOnce sync.Once
	waitErr  error
	done     chan struct{}
}

// StartProcess spawns the worker child and wires the channel over the
// child's stdin/stdout. The returned Process owns the child; callers close
// the Conn to signal EOF and Wait to reap it.
func StartProcess(ctx context.Context, ct codec.Type, spec Command) (*Process, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("transport: empty worker command")
	}
	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("transport: starting worker: %w", err)
	}

	p := &Process{
		cmd:  cmd,
		conn: New(stdout, stdin, multiCloser{stdin, stdout}, ct),
		done: make(chan struct{}),
	}
	go p.reap()
	return p, nil
}

// reap waits for the child exactly once. cmd.Wait also closes the stdio
// pipes, which unblocks the proxy's response listener if it is still
// reading when the child dies.
func (p *Process) reap() {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
		close(p.done)
	})
}

// Conn returns the channel endpoint connected to the child.
func (p *Process) Conn() *Conn {
	return p.conn
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done is closed once the child has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the child exits or ctx expires. The child's exit error
// is not returned: a worker that exits non-zero after shutdown was still
// shut down, and the interesting failures surface through the channel.
func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kill forcibly terminates the child. Used when a graceful shutdown did not
// complete.
func (p *Process) Kill() error {
	return p.cmd.Process.Kill()
}
