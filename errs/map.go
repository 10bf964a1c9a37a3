package errs

// RPCStatus is the stable, small vocabulary exposed across the RPC
// boundary: auth failures map to unauthenticated, not-found to
// not-found, permission failures to permission-denied, and everything
// else to internal.
type RPCStatus string

const (
	StatusUnauthenticated    RPCStatus = "unauthenticated"
	StatusNotFound           RPCStatus = "not-found"
	StatusPermissionDenied   RPCStatus = "permission-denied"
	StatusInvalidArgument    RPCStatus = "invalid-argument"
	StatusUnavailable        RPCStatus = "unavailable"
	StatusDeadlineExceeded   RPCStatus = "deadline-exceeded"
	StatusResourceExhausted  RPCStatus = "resource-exhausted"
	StatusInternal           RPCStatus = "internal"
)

// ToRPCStatus maps an internal Kind to the stable RPC-visible status. The
// mapping is intentionally coarse: cryptographic and invariant failures
// never leak detail to the RPC boundary, they just become "internal".
func ToRPCStatus(k Kind) RPCStatus {
	switch k {
	case KindAuthenticationFailed, KindInvalidSession:
		return StatusUnauthenticated
	case KindNotFound:
		return StatusNotFound
	case KindPermissionDenied:
		return StatusPermissionDenied
	default:
		// EpochMismatch, SignatureInvalid, DecryptionFailed,
		// SerializationInvalid, PersistenceFailed, TransportFailed,
		// Timeout, Busy, InternalInvariantViolation, Unknown.
		return StatusInternal
	}
}
