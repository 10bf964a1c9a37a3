// Package errs provides the single error type used across SpacePanda's core
// packages (crdt, identity, mlsgroup, channelmgr). It generalizes the
// module's plain error-wrapping helper with a stable Kind so the RPC
// boundary can map failures without inspecting error strings.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purposes of propagation and RPC mapping.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthenticationFailed
	KindInvalidSession
	KindNotFound
	KindPermissionDenied
	KindEpochMismatch
	KindSignatureInvalid
	KindDecryptionFailed
	KindSerializationInvalid
	KindPersistenceFailed
	KindTransportFailed
	KindTimeout
	KindBusy
	KindInternalInvariantViolation
)

func (k Kind) String() string {
	switch k {
	case KindAuthenticationFailed:
		return "AuthenticationFailed"
	case KindInvalidSession:
		return "InvalidSession"
	case KindNotFound:
		return "NotFound"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindEpochMismatch:
		return "EpochMismatch"
	case KindSignatureInvalid:
		return "SignatureInvalid"
	case KindDecryptionFailed:
		return "DecryptionFailed"
	case KindSerializationInvalid:
		return "SerializationInvalid"
	case KindPersistenceFailed:
		return "PersistenceFailed"
	case KindTransportFailed:
		return "TransportFailed"
	case KindTimeout:
		return "Timeout"
	case KindBusy:
		return "Busy"
	case KindInternalInvariantViolation:
		return "InternalInvariantViolation"
	default:
		return "Unknown"
	}
}

// Error is the wrapped-error type every package returns. Op names the
// operation that failed (e.g. "mlsgroup.ApplyCommit"); Err is the
// underlying cause and may be nil.
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

// New builds an *Error carrying kind, op and the wrapped cause. Unlike
// pkg/utils.Wrap it has no nil-passthrough: a nil err still yields a
// non-nil *Error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or any error it wraps) carries kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or KindUnknown if err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// EpochMismatch is a structured payload for KindEpochMismatch.
type EpochMismatch struct {
	Expected uint64
	Actual   uint64
}

func (m EpochMismatch) Error() string {
	return fmt.Sprintf("expected epoch %d, got %d", m.Expected, m.Actual)
}

// NewEpochMismatch builds the canonical epoch-mismatch error.
func NewEpochMismatch(op string, expected, actual uint64) *Error {
	return New(KindEpochMismatch, op, EpochMismatch{Expected: expected, Actual: actual})
}

// NotFound is a structured payload for KindNotFound.
type NotFound struct {
	ResourceKind string
	ID           string
}

func (n NotFound) Error() string {
	return fmt.Sprintf("%s %q not found", n.ResourceKind, n.ID)
}

// NewNotFound builds the canonical not-found error.
func NewNotFound(op, resourceKind, id string) *Error {
	return New(KindNotFound, op, NotFound{ResourceKind: resourceKind, ID: id})
}
