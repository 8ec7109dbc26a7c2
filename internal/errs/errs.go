// Package errs defines the error taxonomy shared by the capture and
// analytics engines, so the supervisor can decide propagation policy
// (count, retry, or fatal) purely by inspecting the error kind.
package errs

import (
	"errors"
	"fmt"
)

// Kind enumerates the recognised fault categories.
type Kind string

const (
	KindConfigInvalid      Kind = "config-invalid"
	KindSocketFailure      Kind = "socket-failure"
	KindPacketMalformed    Kind = "packet-malformed"
	KindPacketOutOfWindow  Kind = "packet-out-of-window"
	KindSDRUnhealthy       Kind = "sdr-unhealthy"
	KindAnchorStale        Kind = "anchor-stale"
	KindDecimationUnderflow Kind = "decimation-underflow"
	KindArchiveWriteFailure Kind = "archive-write-failure"
	KindArchiveReadFailure  Kind = "archive-read-failure"
	KindStateCorrupt        Kind = "state-corrupt"
	KindShutdownRequested   Kind = "shutdown-requested"
)

// Error wraps an underlying cause with a taxonomy Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a taxonomy error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == kind
	}
	return false
}

// Fatal reports whether a Kind is fatal at startup per the propagation
// policy: config-invalid and socket-failure never allow the process to
// continue running.
func Fatal(kind Kind) bool {
	switch kind {
	case KindConfigInvalid, KindSocketFailure:
		return true
	default:
		return false
	}
}

// Counted reports whether a Kind is a per-packet fault that must be
// counted and logged at debug level without interrupting the stream.
func Counted(kind Kind) bool {
	switch kind {
	case KindPacketMalformed, KindPacketOutOfWindow:
		return true
	default:
		return false
	}
}
