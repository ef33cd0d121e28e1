package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/contractsync/internal/record"
	"github.com/roach88/contractsync/internal/store"
	"github.com/roach88/contractsync/internal/syncmeta"
)

// SyncError represents a failed sync call.
//
// Sync errors include:
//   - Data integrity: a fetched record is malformed or outside its window
//   - Truncation: a rewritten log failed its re-parse check
//   - Source: the source could not answer
//   - Store: the sink could not be read or written
type SyncError struct {
	// Code identifies the error category.
	Code SyncErrorCode

	// Message is a human-readable description.
	Message string

	// Range is the window being synced, if any.
	Range *syncmeta.Range

	// Err is the underlying cause.
	Err error
}

// SyncErrorCode categorizes sync errors.
type SyncErrorCode string

const (
	// ErrCodeDataIntegrity indicates a malformed or incomplete record.
	ErrCodeDataIntegrity SyncErrorCode = "DATA_INTEGRITY"

	// ErrCodeTruncation indicates a record was lost or damaged by a rewrite.
	ErrCodeTruncation SyncErrorCode = "TRUNCATION"

	// ErrCodeSource indicates the source failed.
	ErrCodeSource SyncErrorCode = "SOURCE"

	// ErrCodeStore indicates the sink failed.
	ErrCodeStore SyncErrorCode = "STORE"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Range != nil {
		msg += " " + e.Range.String()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SyncError) Unwrap() error { return e.Err }

// IsIntegrityError returns true if the error is a data integrity error.
// Uses errors.As to handle wrapped errors.
func IsIntegrityError(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == ErrCodeDataIntegrity
	}
	return errors.Is(err, record.ErrIntegrity)
}

// IsTruncationError returns true if the error is a truncation error.
func IsTruncationError(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == ErrCodeTruncation
	}
	return errors.Is(err, store.ErrTruncated)
}

func newSyncError(code SyncErrorCode, msg string, r *syncmeta.Range, err error) *SyncError {
	return &SyncError{Code: code, Message: msg, Range: r, Err: err}
}

// storeError classifies a sink failure.
func storeError(msg string, r *syncmeta.Range, err error) *SyncError {
	switch {
	case errors.Is(err, store.ErrTruncated):
		return newSyncError(ErrCodeTruncation, msg, r, err)
	case errors.Is(err, record.ErrIntegrity):
		return newSyncError(ErrCodeDataIntegrity, msg, r, err)
	default:
		return newSyncError(ErrCodeStore, msg, r, err)
	}
}

// sourceError classifies a source failure. Integrity problems reported by
// the source keep their own code.
func sourceError(msg string, r *syncmeta.Range, err error) *SyncError {
	if errors.Is(err, record.ErrIntegrity) {
		return newSyncError(ErrCodeDataIntegrity, msg, r, err)
	}
	return newSyncError(ErrCodeSource, msg, r, err)
}
