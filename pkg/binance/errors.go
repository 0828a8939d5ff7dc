package binance

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure surfaced by this package. The set is
// closed on purpose: callers branch on the kind, not on transport library
// error types.
type ErrorKind int

const (
	// KindVenue is an error envelope decoded from the exchange response.
	KindVenue ErrorKind = iota
	// KindTransport covers connection, DNS and TLS failures.
	KindTransport
	// KindDecode covers malformed frames and bodies.
	KindDecode
	// KindInvariant marks a state that must never occur.
	KindInvariant
)

func (k ErrorKind) String() string {
	switch k {
	case KindVenue:
		return "venue"
	case KindTransport:
		return "transport"
	case KindDecode:
		return "decode"
	case KindInvariant:
		return "invariant"
	}
	return "unknown"
}

// Error is the single error type returned by this package.
type Error struct {
	Kind ErrorKind
	// Code is the venue error code, zero for non-venue kinds.
	Code int
	Msg  string
	// Cause is the underlying error, if any.
	Cause error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("binance: %s error (code=%d): %s", e.Kind, e.Code, e.Msg)
	}
	if e.Cause != nil {
		return fmt.Sprintf("binance: %s error: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("binance: %s error: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

func venueError(code int, msg string) *Error {
	return &Error{Kind: KindVenue, Code: code, Msg: msg}
}

func transportError(msg string, cause error) *Error {
	return &Error{Kind: KindTransport, Msg: msg, Cause: cause}
}

func decodeError(msg string, cause error) *Error {
	return &Error{Kind: KindDecode, Msg: msg, Cause: cause}
}

// InvariantError reports a state that should be unreachable. It is logged and
// resolved by a reset, never by a panic.
func InvariantError(msg string) *Error {
	return &Error{Kind: KindInvariant, Msg: msg}
}

// codeUnknownOrder is returned by the venue when canceling an order that does
// not exist. Treated as a benign empty result, not an error.
const codeUnknownOrder = -2011

// IsUnknownOrder reports whether err is the venue's "unknown order" rejection.
func IsUnknownOrder(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindVenue && e.Code == codeUnknownOrder
	}
	return false
}

// IsKind reports whether err is a binance error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// ErrStreamClosed is returned by the event loop when the venue closes the
// connection; the caller decides whether to reconnect.
var ErrStreamClosed = &Error{Kind: KindTransport, Msg: "stream closed"}
