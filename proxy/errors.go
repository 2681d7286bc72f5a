package proxy

import "errors"

var (
	// ErrProxyClosed reports a call issued after the proxy was closed (or
	// began closing — once the shutdown envelope is on the wire the worker
	// will never read another call).
	ErrProxyClosed = errors.New("proxy: closed")

	// ErrConnectionLost resolves every outstanding future when the channel
	// breaks or the worker process dies before answering.
	ErrConnectionLost = errors.New("proxy: connection to worker lost")

	// ErrSerialization reports an argument the value codec could not encode.
	// The call is never sent.
	ErrSerialization = errors.New("proxy: value not serializable")
)
