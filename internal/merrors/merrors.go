// Package merrors defines the single error taxonomy shared by every core
// subsystem: MIME parsing, the Maildir and IMAP backends, threading and
// sieve evaluation all wrap external failures into one of these kinds at
// the boundary, the way the teacher wraps filesystem and driver errors
// with fmt.Errorf("...: %w", err) rather than inventing a new error type
// per package.
package merrors

import (
	"errors"
	"fmt"
)

// Kind classifies an Error into one of the sum-type variants from the
// core error design (spec §7).
type Kind int

const (
	// KindIO covers filesystem and socket failures that aren't more
	// specifically classified below.
	KindIO Kind = iota
	// KindProtocol covers a backend violating its own wire protocol.
	KindProtocol
	// KindParse covers MIME, sieve, and IMAP-response parse failures.
	KindParse
	// KindAuth covers credential rejection.
	KindAuth
	// KindDisconnected covers a backend connection that is no longer usable.
	KindDisconnected
	// KindNotFound covers references to folders, messages, or scripts that don't exist.
	KindNotFound
	// KindInvalid covers caller-supplied arguments that fail validation.
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindProtocol:
		return "protocol"
	case KindParse:
		return "parse"
	case KindAuth:
		return "auth"
	case KindDisconnected:
		return "disconnected"
	case KindNotFound:
		return "not_found"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Error is the one error type that crosses every package boundary in the
// core. Backend, parser, and engine errors are all wrapped into this
// shape so callers can switch on Kind instead of on package-private
// sentinels.
type Error struct {
	Kind Kind

	// Backend names the originating backend for KindProtocol errors
	// (e.g. "imap", "maildir").
	Backend string
	// Detail is a human-readable description of the protocol violation.
	Detail string

	// Offset and Expected describe a KindParse failure's location.
	Offset   int
	Expected string

	// What names the invalid argument or state for KindInvalid.
	What string

	Err error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindProtocol:
		if e.Err != nil {
			return fmt.Sprintf("%s protocol error: %s: %v", e.Backend, e.Detail, e.Err)
		}
		return fmt.Sprintf("%s protocol error: %s", e.Backend, e.Detail)
	case KindParse:
		if e.Err != nil {
			return fmt.Sprintf("parse error at offset %d (expected %s): %v", e.Offset, e.Expected, e.Err)
		}
		return fmt.Sprintf("parse error at offset %d: expected %s", e.Offset, e.Expected)
	case KindInvalid:
		return fmt.Sprintf("invalid %s", e.What)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, merrors.Disconnected) match any *Error of the
// same Kind regardless of wrapped detail.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel instances usable with errors.Is for the kind-only comparisons
// callers typically need (e.g. "was this a disconnect?").
var (
	Disconnected = &Error{Kind: KindDisconnected}
	NotFoundErr  = &Error{Kind: KindNotFound}
	AuthErr      = &Error{Kind: KindAuth}
)

// IO wraps err as a KindIO error.
func IO(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindIO, Err: err}
}

// Protocol builds a KindProtocol error for backend's violation of detail.
func Protocol(backend, detail string, err error) error {
	return &Error{Kind: KindProtocol, Backend: backend, Detail: detail, Err: err}
}

// Parse builds a KindParse error at offset, naming what token was expected.
func Parse(offset int, expected string, err error) error {
	return &Error{Kind: KindParse, Offset: offset, Expected: expected, Err: err}
}

// Auth builds a KindAuth error.
func Auth(err error) error {
	return &Error{Kind: KindAuth, Err: err}
}

// Disconn builds a KindDisconnected error.
func Disconn(err error) error {
	return &Error{Kind: KindDisconnected, Err: err}
}

// NotFound builds a KindNotFound error naming what wasn't found.
func NotFound(what string) error {
	return &Error{Kind: KindNotFound, What: what}
}

// Invalid builds a KindInvalid error naming the bad argument or state.
func Invalid(what string) error {
	return &Error{Kind: KindInvalid, What: what}
}

// As extracts the *Error from err, if any, following the wrap chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
