package websocket

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ProtocolError is a violation of the WebSocket framing rules that carries
// the close code the connection state machine must send in response
// (spec §7). It is never surfaced to user code as a panic or exception: the
// connection state machine catches it, sends a CLOSE frame carrying Code,
// and reports the underlying reason (if any) through Callbacks.OnClose.
type ProtocolError struct {
	Code   uint16
	Reason string
	cause  error
}

func (e *ProtocolError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("websocket: protocol error (close %d): %s: %v", e.Code, e.Reason, e.cause)
	}
	return fmt.Sprintf("websocket: protocol error (close %d): %s", e.Code, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.cause }

func newProtocolError(code uint16, reason string) *ProtocolError {
	return &ProtocolError{Code: code, Reason: reason}
}

func wrapProtocolError(code uint16, reason string, cause error) *ProtocolError {
	return &ProtocolError{Code: code, Reason: reason, cause: pkgerrors.WithStack(cause)}
}

// timeoutError marks local closes caused by a handshake or reassembly
// deadline expiring (spec §7: "Handshake timeout / reassembly timeout ->
// local close", no WebSocket close frame is owed to the peer).
type timeoutError struct {
	reason string
}

func (e *timeoutError) Error() string { return "websocket: timeout: " + e.reason }

func (e *timeoutError) Timeout() bool { return true }

// errRemoteClose is a sentinel returned by the control handler once a valid
// CLOSE frame has been received and echoed: it unwinds the connection's
// read loop into the CLOSING->CLOSED transition without being treated as a
// frame-level protocol violation.
var errRemoteClose = &closeSignal{}

// closeSignal distinguishes "the peer asked us to close, and we agreed"
// from a real I/O or protocol failure further up the read loop.
type closeSignal struct{}

func (*closeSignal) Error() string { return "websocket: close handshake completed" }
