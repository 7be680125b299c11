// Package errs defines the error taxonomy shared by the codec, dispatch
// and rpcsession packages: transport, framing, binding, dispatch, handler,
// typed-result and cancellation failures.
package errs

import "errors"

// Sentinel errors identifying the broad category of a failure. Use
// errors.Is against these when a caller needs to branch on category rather
// than on the exact wrapped message.
var (
	// ErrTransport is a fatal I/O failure on a connection.
	ErrTransport = errors.New("transport error")
	// ErrFraming is a malformed or unexpected frame shape; fatal for the session.
	ErrFraming = errors.New("framing error")
	// ErrBinding is an argument count or type mismatch.
	ErrBinding = errors.New("argument binding error")
	// ErrUnknownProcedure names the unknown-procedure category. No function
	// in this module returns it: a server session answers a request for an
	// unregistered name with an `Unknown function "<name>"` error response.
	ErrUnknownProcedure = errors.New("unknown procedure")
	// ErrHandler prefixes the error payload when a handler panics or a
	// coroutine handler produces no task. An error returned by a handler is
	// sent as its own message, and a sink dropped without firing sends
	// "empty_error"; neither carries this prefix.
	ErrHandler = errors.New("handler error")
	// ErrTypedResult is a client-side conversion failure of a successful
	// response value into the caller's expected type.
	ErrTypedResult = errors.New("typed result conversion error")
	// ErrCancelled names the cancellation category. Calls ended by Cancel,
	// CancelAll, or session teardown are reported with the Cancelled Code
	// below; no function in this module returns this sentinel.
	ErrCancelled = errors.New("cancelled")
	// ErrProcedureExists is returned by Dispatcher.Add* when name is already registered.
	ErrProcedureExists = errors.New("procedure already registered")
	// ErrArity is returned at registration time when an explicit argument
	// spec list does not match the handler's arity.
	ErrArity = errors.New("argument spec arity mismatch")
)

// Code is the small enumeration of error codes surfaced to RPC callers,
// independent of dialect.
type Code int

const (
	// Success is nominal completion.
	Success Code = iota
	// ErrorDuringCall means the peer returned an error response.
	ErrorDuringCall
	// UnknownProcedure means the peer reports no such method.
	UnknownProcedure
	// Cancelled means local cancellation or session close while pending.
	Cancelled
	// CallError means a local framing/transport failure while sending.
	CallError
	// BadResultType means typed-result decoding failed after a successful
	// wire response.
	BadResultType
)

func (c Code) String() string {
	switch c {
	case Success:
		return "success"
	case ErrorDuringCall:
		return "error_during_call"
	case UnknownProcedure:
		return "unknown_procedure"
	case Cancelled:
		return "cancelled"
	case CallError:
		return "call_error"
	case BadResultType:
		return "bad_result_type"
	default:
		return "unknown_code"
	}
}

// CodeError pairs a Code with the underlying cause, when one exists.
type CodeError struct {
	Code Code
	Err  error
}

func (e *CodeError) Error() string {
	if e.Err == nil {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Err.Error()
}

func (e *CodeError) Unwrap() error { return e.Err }

// New builds a CodeError, wrapping cause (which may be nil for pure status
// codes such as Success or Cancelled with no underlying error).
func New(code Code, cause error) *CodeError {
	return &CodeError{Code: code, Err: cause}
}
