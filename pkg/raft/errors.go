package raft

import "fmt"

// ErrorKind enumerates the error taxonomy of §7.
type ErrorKind string

const (
	ErrTimeout                ErrorKind = "timeout"
	ErrNetwork                ErrorKind = "network_error"
	ErrConnectionClosed       ErrorKind = "connection_closed"
	ErrStorage                ErrorKind = "storage_error"
	ErrNotLeader              ErrorKind = "not_leader"
	ErrSteppedDown            ErrorKind = "stepped_down"
	ErrShutdown               ErrorKind = "shutdown"
	ErrProtocol               ErrorKind = "protocol_error"
	ErrConfigurationInFlight  ErrorKind = "configuration_in_progress"
)

// Error is the concrete error type returned across every external
// operation in this package. Kind is always set; Hint carries the known
// leader on ErrNotLeader; Cause wraps the underlying error when one
// triggered this one.
type Error struct {
	Kind  ErrorKind
	Msg   string
	Hint  NodeID
	Cause error
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Kind, e.Msg, e.Hint)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, raft.ErrTimeoutSentinel) style matching: any
// *Error target matches when its Kind equals e's, whatever the message,
// hint or cause.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

func newErr(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func wrapErr(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

func notLeaderErr(hint NodeID) *Error {
	return &Error{Kind: ErrNotLeader, Msg: "this node is not the leader", Hint: hint}
}

// sentinel returns a stable *Error value usable with errors.Is without
// constructing a fresh Error at every call site.
func sentinel(kind ErrorKind) *Error { return &Error{Kind: kind, Msg: string(kind)} }

var (
	// ErrTimeoutSentinel etc. are reusable for errors.Is comparisons, e.g.
	// errors.Is(err, raft.ErrTimeoutSentinel).
	ErrTimeoutSentinel               = sentinel(ErrTimeout)
	ErrNetworkSentinel                = sentinel(ErrNetwork)
	ErrConnectionClosedSentinel       = sentinel(ErrConnectionClosed)
	ErrStorageSentinel                = sentinel(ErrStorage)
	ErrSteppedDownSentinel            = sentinel(ErrSteppedDown)
	ErrShutdownSentinel               = sentinel(ErrShutdown)
	ErrProtocolSentinel               = sentinel(ErrProtocol)
	ErrConfigurationInFlightSentinel  = sentinel(ErrConfigurationInFlight)
)
