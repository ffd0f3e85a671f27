package woolfarm

import (
	"errors"
	"fmt"
)

// Common sentinel errors for the woolfarm package.
var (
	// ErrClosed is returned when operations are attempted on a closed store.
	ErrClosed = errors.New("store is closed")

	// ErrMalformedInput is returned when an incoming snapshot fails basic
	// structural invariants before any comparison is attempted.
	ErrMalformedInput = errors.New("malformed snapshot")

	// ErrLockTimeout is returned when the per-user lock could not be
	// acquired within the bounded wait. Retryable by the caller.
	ErrLockTimeout = errors.New("user lock timeout")

	// ErrSyncTimeout is returned when a sync call exceeds its wall-clock
	// deadline before reaching persistence.
	ErrSyncTimeout = errors.New("sync timeout")

	// ErrPersistence is returned when writing the new authoritative
	// snapshot fails. Retryable; validation work is not repeated.
	ErrPersistence = errors.New("snapshot persistence failed")

	// ErrCorruption is returned when the authoritative snapshot fails its
	// checksum at load time. Never auto-healed; operators must recover
	// from snapshot history.
	ErrCorruption = errors.New("snapshot corruption detected")
)

// SyncErrorType categorizes sync failures.
type SyncErrorType int

const (
	// SyncErrorTypeUnknown is an unclassified error.
	SyncErrorTypeUnknown SyncErrorType = iota
	// SyncErrorTypeMalformed indicates the incoming snapshot is structurally invalid.
	SyncErrorTypeMalformed
	// SyncErrorTypeLockTimeout indicates per-user lock acquisition timed out.
	SyncErrorTypeLockTimeout
	// SyncErrorTypeTimeout indicates the overall sync deadline was exceeded.
	SyncErrorTypeTimeout
	// SyncErrorTypePersistence indicates the authoritative write failed.
	SyncErrorTypePersistence
	// SyncErrorTypeCorruption indicates the stored authoritative snapshot is corrupt.
	SyncErrorTypeCorruption
)

// SyncError provides detailed information about sync failures. All outcomes
// of SyncEngine.Sync are typed values so callers can branch deterministically
// with errors.Is.
type SyncError struct {
	Type    SyncErrorType
	Message string
	UserID  string
	Cause   error
}

func (e *SyncError) Error() string {
	if e.UserID != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s [user %s]: %v", e.Message, e.UserID, e.Cause)
		}
		return fmt.Sprintf("%s [user %s]", e.Message, e.UserID)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for SyncError.
func (e *SyncError) Is(target error) bool {
	switch e.Type {
	case SyncErrorTypeMalformed:
		return target == ErrMalformedInput
	case SyncErrorTypeLockTimeout:
		return target == ErrLockTimeout
	case SyncErrorTypeTimeout:
		return target == ErrSyncTimeout
	case SyncErrorTypePersistence:
		return target == ErrPersistence
	case SyncErrorTypeCorruption:
		return target == ErrCorruption
	}
	return false
}

// newSyncError creates a new SyncError.
func newSyncError(errType SyncErrorType, message, userID string, cause error) *SyncError {
	return &SyncError{
		Type:    errType,
		Message: message,
		UserID:  userID,
		Cause:   cause,
	}
}
