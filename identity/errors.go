package identity

import "github.com/spacepanda/core/errs"

// Keystore error kinds: NotFound, Decryption, InvalidPassword,
// Serialization, PoisonedLock. These map onto the shared
// errs.Kind vocabulary so the RPC boundary's mapping table stays uniform
// across packages.
const (
	KindNotFound         = errs.KindNotFound
	KindDecryption       = errs.KindDecryptionFailed
	KindInvalidPassword  = errs.KindAuthenticationFailed
	KindSerialization    = errs.KindSerializationInvalid
	KindPoisonedLock     = errs.KindInternalInvariantViolation
)

func errNotFound(op, userID string) error {
	return errs.NewNotFound(op, "identity", userID)
}

func errDecryption(op string, cause error) error {
	return errs.New(KindDecryption, op, cause)
}

func errInvalidPassword(op string) error {
	return errs.New(KindInvalidPassword, op, nil)
}

func errSerialization(op string, cause error) error {
	return errs.New(KindSerialization, op, cause)
}
