// Package envelope defines the call and response envelopes exchanged between
// a proxy and its worker process.
//
// A CallEnvelope travels proxy → worker and carries either the construction
// request for the hosted object, a method invocation, or the shutdown signal.
// A ResponseEnvelope travels worker → proxy and is matched back to its call
// by ID. Argument and result values are opaque byte slices here — they are
// encoded and decoded by the codec layer, which keeps the envelope structure
// independent of the serialization format.
package envelope

import "fmt"

// Kind classifies a call envelope.
type Kind byte

const (
	KindConstruct Kind = 0 // build the worker instance; first envelope on the wire
	KindInvoke    Kind = 1 // invoke a method on the worker instance
	KindShutdown  Kind = 2 // stop the worker loop; no response is sent
)

func (k Kind) String() string {
	switch k {
	case KindConstruct:
		return "construct"
	case KindInvoke:
		return "invoke"
	case KindShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Status classifies a response envelope.
type Status byte

const (
	StatusOK    Status = 0 // invocation succeeded, Payload holds the encoded result
	StatusError Status = 1 // call failed, Err describes the failure
	StatusReady Status = 2 // construction succeeded; answers the Construct envelope only
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	case StatusReady:
		return "ready"
	default:
		return fmt.Sprintf("status(%d)", byte(s))
	}
}

// Call is a request envelope. Immutable once written to the wire.
//
//   - Construct: Method names the registered factory, Args/Kwargs are the
//     constructor arguments.
//   - Invoke: Method names the instance method to call.
//   - Shutdown: Method, Args and Kwargs are empty.
type Call struct {
	ID     uint64            // unique per proxy/worker pair, never reused
	Kind   Kind              //
	Method string            //
	Args   [][]byte          // positional arguments, pre-encoded by the value codec
	Kwargs map[string][]byte // keyword arguments, pre-encoded by the value codec
}

// Response answers exactly one non-Shutdown Call, matched by ID.
type Response struct {
	ID      uint64       //
	Status  Status       //
	Payload []byte       // encoded return value; nil for errors and Ready
	Err     *RemoteError // set iff Status == StatusError
}
