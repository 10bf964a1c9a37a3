package mlsgroup

import "github.com/spacepanda/core/errs"

func errSignatureInvalid(op string, cause error) error {
	return errs.New(errs.KindSignatureInvalid, op, cause)
}

func errEpochMismatch(op string, expected, actual uint64) error {
	return errs.NewEpochMismatch(op, expected, actual)
}

func errDecryptionFailed(op string, cause error) error {
	return errs.New(errs.KindDecryptionFailed, op, cause)
}

func errSerializationInvalid(op string, cause error) error {
	return errs.New(errs.KindSerializationInvalid, op, cause)
}

func errPersistenceFailed(op string, cause error) error {
	return errs.New(errs.KindPersistenceFailed, op, cause)
}

func errInvariantViolation(op string, cause error) error {
	return errs.New(errs.KindInternalInvariantViolation, op, cause)
}

func errPermissionDenied(op string, cause error) error {
	return errs.New(errs.KindPermissionDenied, op, cause)
}
