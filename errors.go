package mcpcheck

import (
	"errors"
	"fmt"
	"time"
)

// ErrSessionClosed is the rejection delivered to every request still pending
// when a session is closed.
var ErrSessionClosed = errors.New("session closed")

// SpawnError indicates the server executable could not be started at all.
// It is always fatal to the probe.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// TimeoutError indicates a request did not receive a response within its
// window. Fatal only when the method was initialize.
type TimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %q timed out after %s", e.Method, e.Timeout)
}

// ProtocolError indicates the server answered a request with a structured
// JSON-RPC error object.
type ProtocolError struct {
	Method string
	Code   int
	Msg    string
	Data   interface{}
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("server error on %q: %s (code: %d)", e.Method, e.Msg, e.Code)
}
