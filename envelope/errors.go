package envelope

import (
	"errors"
	"fmt"
)

// Code identifies the failure class of a RemoteError. Codes are part of the
// wire format and must stay stable.
type Code string

const (
	CodeConstruction   Code = "construction"      // factory failed during Construct
	CodeMethodNotFound Code = "method_not_found"  // named method absent or not invocable
	CodeInvocation     Code = "invocation"        // method returned an error or panicked
	CodeSerialization  Code = "serialization"     // argument or result not serializable
	CodeProtocol       Code = "protocol"          // malformed or out-of-order envelope
	CodeConnectionLost Code = "connection_lost"   // transport closed or worker died
)

// RemoteError is a failure produced in the worker process and carried back
// over the wire. Only the code and message cross the process boundary; the
// original error value stays in the worker.
type RemoteError struct {
	Code    Code
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewRemoteError builds a RemoteError from a worker-side failure.
func NewRemoteError(code Code, err error) *RemoteError {
	return &RemoteError{Code: code, Message: err.Error()}
}

// Errorf builds a RemoteError with a formatted message.
func Errorf(code Code, format string, args ...any) *RemoteError {
	return &RemoteError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err is (or wraps) a RemoteError with the given code.
func IsCode(err error, code Code) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Code == code
}
