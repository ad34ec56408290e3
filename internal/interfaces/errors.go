package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for ids that were never created or were deleted.
	ErrNotFound = errors.New("job not found")
	// ErrNotProcessing is returned by terminal writes on a job that is not processing.
	ErrNotProcessing = errors.New("job is not processing")
)

// ValidationError rejects a submission before anything is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StorageError wraps a failed durable read or write.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ExternalOperationError describes a failed call to a processing engine. It is always
// terminal for the job.
type ExternalOperationError struct {
	Op         string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *ExternalOperationError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s returned HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	case e.Timeout:
		return fmt.Sprintf("%s timed out: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
}

func (e *ExternalOperationError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsStorage reports whether err is (or wraps) a StorageError.
func IsStorage(err error) bool {
	var s *StorageError
	return errors.As(err, &s)
}
