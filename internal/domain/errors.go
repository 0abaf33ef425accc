package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("resource not found")

	// ErrResourceExhausted is returned when admission stays blocked past
	// the configured wait budget (disk full, memory critical).
	ErrResourceExhausted = errors.New("resources exhausted")
)

// TransientError wraps failures worth retrying: network timeouts,
// rate-limit responses, temporary transcoder errors.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient %s failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err (or anything it wraps) is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// TranscodeError is a permanent per-clip normalization failure, such as an
// unsupported codec or a truncated payload. Never retried.
type TranscodeError struct {
	Input string
	Err   error
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("transcode %s: %v", e.Input, e.Err)
}

func (e *TranscodeError) Unwrap() error { return e.Err }

// StorageError is a failure persisting an accepted clip to its sink.
type StorageError struct {
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
