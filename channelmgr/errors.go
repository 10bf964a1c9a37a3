package channelmgr

import "github.com/spacepanda/core/errs"

func errNotFound(op, kind, id string) error {
	return errs.NewNotFound(op, kind, id)
}

func errPermissionDenied(op string, cause error) error {
	return errs.New(errs.KindPermissionDenied, op, cause)
}

func errInvariantViolation(op string, cause error) error {
	return errs.New(errs.KindInternalInvariantViolation, op, cause)
}

func errSerializationInvalid(op string, cause error) error {
	return errs.New(errs.KindSerializationInvalid, op, cause)
}

func errTransportFailed(op string, cause error) error {
	return errs.New(errs.KindTransportFailed, op, cause)
}

func errPersistenceFailed(op string, cause error) error {
	return errs.New(errs.KindPersistenceFailed, op, cause)
}

func errTimeout(op string, cause error) error {
	return errs.New(errs.KindTimeout, op, cause)
}

func errBusy(op string, cause error) error {
	return errs.New(errs.KindBusy, op, cause)
}
