// Package fault defines the error kinds shared by the rotation, restoration
// and watchdog components.
//
// Propagation policy:
//   - KindConfig is fatal: the process must refuse to start.
//   - KindIntegrity and KindMissing are recoverable at loop level.
//   - KindPartial is surfaced to callers of restore as a structured result.
//   - KindTransport is retried only at the next scheduled tick.
package fault

import (
	"errors"
	"fmt"
)

// Kind categorizes a fault.
type Kind string

const (
	// KindIntegrity indicates a tag or content hash mismatch.
	KindIntegrity Kind = "INTEGRITY_ERROR"

	// KindMissing indicates a manifest or watched file is absent with no
	// mirror or backup to recover from.
	KindMissing Kind = "MISSING_RESOURCE"

	// KindPartial indicates some entries were restored and some were not.
	KindPartial Kind = "PARTIAL_FAILURE"

	// KindTransport indicates a network or process call to a collaborator failed.
	KindTransport Kind = "TRANSPORT_ERROR"

	// KindConfig indicates a missing secret or required path at startup.
	KindConfig Kind = "CONFIG_ERROR"
)

// Error is a categorized error with the operation and path it concerns.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, fault.Integrity)
// works through wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Op == "" && t.Path == "" && t.Err == nil && t.Kind == e.Kind
	}
	return false
}

// Sentinels for errors.Is comparisons.
var (
	Integrity = &Error{Kind: KindIntegrity}
	Missing   = &Error{Kind: KindMissing}
	Partial   = &Error{Kind: KindPartial}
	Transport = &Error{Kind: KindTransport}
	Config    = &Error{Kind: KindConfig}
)

// New creates a fault of the given kind.
func New(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Newf creates a fault whose cause is a formatted message.
func Newf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err carries a fault of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsFatal reports whether err must stop the process.
func IsFatal(err error) bool {
	return IsKind(err, KindConfig)
}
