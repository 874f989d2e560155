package common

import (
	"github.com/pkg/errors"
)

// Status is the result code surfaced across the embedding boundary.
type Status uint8

const (
	StatusSuccess Status = iota
	StatusKeyNotFound
	StatusKeyIsDeleted
	StatusKeyIsLocked
	StatusTableNotFound
	StatusTableAlreadyExists
	StatusTransactionNotFound
	StatusTransactionConflict
	StatusInvalidArgument
	StatusBatchNotFullySuccess
	StatusInternalError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusKeyNotFound:
		return "KEY_NOT_FOUND"
	case StatusKeyIsDeleted:
		return "KEY_IS_DELETED"
	case StatusKeyIsLocked:
		return "KEY_IS_LOCKED"
	case StatusTableNotFound:
		return "TABLE_NOT_FOUND"
	case StatusTableAlreadyExists:
		return "TABLE_ALREADY_EXISTS"
	case StatusTransactionNotFound:
		return "TRANSACTION_NOT_FOUND"
	case StatusTransactionConflict:
		return "TRANSACTION_CONFLICT"
	case StatusInvalidArgument:
		return "INVALID_ARGUMENT"
	case StatusBatchNotFullySuccess:
		return "BATCH_NOT_FULLY_SUCCESS"
	case StatusInternalError:
		return "INTERNAL_ERROR"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrKeyNotFound          = errors.New("key not found")
	ErrKeyIsDeleted         = errors.New("key is deleted")
	ErrKeyIsLocked          = errors.New("key is locked")
	ErrTableNotFound        = errors.New("table not found")
	ErrTableAlreadyExists   = errors.New("table already exists")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrTransactionConflict  = errors.New("transaction conflict")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrBatchNotFullySuccess = errors.New("batch not fully successful")
	ErrInternal             = errors.New("internal error")
	ErrClosed               = errors.New("engine is closed")
)

var statusErrors = []struct {
	err    error
	status Status
}{
	{ErrKeyNotFound, StatusKeyNotFound},
	{ErrKeyIsDeleted, StatusKeyIsDeleted},
	{ErrKeyIsLocked, StatusKeyIsLocked},
	{ErrTableNotFound, StatusTableNotFound},
	{ErrTableAlreadyExists, StatusTableAlreadyExists},
	{ErrTransactionNotFound, StatusTransactionNotFound},
	{ErrTransactionConflict, StatusTransactionConflict},
	{ErrInvalidArgument, StatusInvalidArgument},
	{ErrBatchNotFullySuccess, StatusBatchNotFullySuccess},
}

// StatusOf maps an error returned by any layer back to its Status.
// Errors that carry none of the known causes are INTERNAL_ERROR.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	for _, se := range statusErrors {
		if errors.Is(err, se.err) {
			return se.status
		}
	}
	return StatusInternalError
}

// ErrorOf is the inverse of StatusOf for the non-success codes.
func ErrorOf(s Status) error {
	if s == StatusSuccess {
		return nil
	}
	for _, se := range statusErrors {
		if se.status == s {
			return se.err
		}
	}
	return ErrInternal
}
